package goGuard

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/controls"
	"github.com/MrEthical07/goGuard/internal/fraud"
	internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"
	"github.com/MrEthical07/goGuard/internal/ratelimit"
	"github.com/MrEthical07/goGuard/device"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/MrEthical07/goGuard/reputation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine evaluates attempts. It is safe for concurrent use and holds no
// per-subject state; all history lives in the attempt ledger.
type Engine struct {
	config     Config
	store      *ledger.Guarded
	limiter    *ratelimit.Limiter
	scorer     *fraud.Scorer
	arbiter    *controls.Arbiter
	devices    device.Adjuster
	reputation reputation.Source
	audit      *internalaudit.Dispatcher
	metrics    *internalmetrics.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
	newID      func() string

	closed atomic.Bool
}

// Close flushes pending audit entries and stops the dispatcher. Decision
// methods called after Close return ErrEngineClosed.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit entries discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// validateContext normalizes operation into sc and rejects contexts that
// cannot be evaluated.
func (e *Engine) validateContext(operation string, sc *SecurityContext) error {
	if e == nil || e.closed.Load() {
		return ErrEngineClosed
	}
	if operation != "" {
		sc.Operation = operation
	}
	switch {
	case sc.Operation == "":
		return invalidContext("operation is required")
	case sc.Operation == ledger.AnyOperation:
		return invalidContext("operation name is reserved")
	case sc.IPAddress == "":
		return invalidContext("ip address is required")
	case net.ParseIP(sc.IPAddress) == nil:
		return invalidContext("ip address is malformed")
	case !unitInterval(sc.DeviceTrustScore):
		return invalidContext("device trust score must be within [0,1]")
	case sc.RiskScore != nil && !unitInterval(*sc.RiskScore):
		return invalidContext("risk score must be within [0,1]")
	}
	return nil
}

func invalidContext(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidContext, detail)
}
