// Package kafkasink ships goGuard audit entries to Kafka.
package kafkasink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config configures the Kafka writer.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	FlushEvery   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
	// Async returns from Emit before the broker acknowledges; delivery
	// errors are then reported through the completion callback.
	Async bool
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes one message per entry. Messages are keyed by subject, or by IP
// when the entry has no subject, so one subject's history stays ordered
// within a partition.
type Sink struct {
	w        writer
	logger   *zap.Logger
	failures atomic.Uint64
}

var _ goGuard.AuditSink = (*Sink)(nil)

// New builds a Kafka-backed sink.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkasink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafkasink: topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tr := &kafka.Transport{
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	s := &Sink{logger: logger.With(zap.String("component", "kafka_audit_sink"))}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              tr,
		AllowAutoTopicCreation: false,
		Async:                  cfg.Async,
		BatchTimeout:           cfg.FlushEvery,
		BatchSize:              cfg.BatchSize,
		WriteTimeout:           cfg.WriteTimeout,
	}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				s.fail(err, len(msgs))
			}
		}
	}
	s.w = w
	return s, nil
}

func newWithWriter(w writer, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{w: w, logger: logger}
}

// Emit encodes entry as JSON and writes it.
func (s *Sink) Emit(ctx context.Context, entry goGuard.AuditEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		s.fail(err, 1)
		return
	}
	key := entry.SubjectID
	if key == "" {
		key = entry.IP
	}

	err = s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entry.EventType)},
		},
	})
	if err != nil {
		s.fail(err, 1)
	}
}

func (s *Sink) fail(err error, n int) {
	s.failures.Add(uint64(n))
	s.logger.Warn("audit publish failed", zap.Int("messages", n), zap.Error(err))
}

// Failures reports entries that could not be written.
func (s *Sink) Failures() uint64 {
	return s.failures.Load()
}

// Close flushes pending messages and closes the writer.
func (s *Sink) Close() error {
	return s.w.Close()
}
