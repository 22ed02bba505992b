// Package natssink publishes goGuard audit entries over NATS.
//
// Each entry goes to <prefix>.<event_type>, so consumers can subscribe to
// "goguard.audit.>" for everything or "goguard.audit.account_locked" for one
// event.
package natssink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultPrefix is the subject root when none is given.
const DefaultPrefix = "goguard.audit"

// Sink publishes entries on a NATS connection.
type Sink struct {
	nc       *nats.Conn
	prefix   string
	owned    bool
	logger   *zap.Logger
	failures atomic.Uint64
}

var _ goGuard.AuditSink = (*Sink)(nil)

// New wraps an existing connection. Close leaves the connection open.
func New(nc *nats.Conn, prefix string, logger *zap.Logger) (*Sink, error) {
	if nc == nil {
		return nil, errors.New("natssink: nil connection")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		nc:     nc,
		prefix: prefix,
		logger: logger.With(zap.String("component", "nats_audit_sink")),
	}, nil
}

// Connect dials url and returns a sink that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("goguard-audit"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	s, err := New(nc, prefix, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Subject returns the subject an event type is published on.
func (s *Sink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

// Emit publishes entry as JSON. Publishing is buffered by the client; ctx is
// not consulted.
func (s *Sink) Emit(_ context.Context, entry goGuard.AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		s.fail(entry.EventType, err)
		return
	}
	msg := nats.NewMsg(s.Subject(entry.EventType))
	msg.Data = data
	msg.Header.Set("Goguard-Entry-Id", entry.ID)
	if err := s.nc.PublishMsg(msg); err != nil {
		s.fail(entry.EventType, err)
	}
}

func (s *Sink) fail(eventType string, err error) {
	s.failures.Add(1)
	s.logger.Warn("audit publish failed", zap.String("event_type", eventType), zap.Error(err))
}

// Failures reports entries that could not be published.
func (s *Sink) Failures() uint64 {
	return s.failures.Load()
}

// Flush waits until buffered entries reach the server.
func (s *Sink) Flush(timeout time.Duration) error {
	return s.nc.FlushTimeout(timeout)
}

// Close drains an owned connection.
func (s *Sink) Close() error {
	if !s.owned {
		return nil
	}
	return s.nc.Drain()
}
