package goGuard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CheckRateLimit decides whether one attempt at operation may proceed.
// operation overrides sc.Operation when non-empty.
//
// The user, IP and device sub-checks run concurrently; a deny on any axis
// denies the attempt. When the ledger cannot be read the decision follows
// Config.Store.FailOpen and one critical diagnostic is logged. In both cases
// the returned error is nil: store failures are reported through the
// decision Reason, never as an error. The error is non-nil only for invalid
// input.
func (e *Engine) CheckRateLimit(ctx context.Context, operation string, sc SecurityContext) (RateLimitDecision, error) {
	if err := e.validateContext(operation, &sc); err != nil {
		return RateLimitDecision{}, err
	}

	ctx, span := e.tracer.Start(ctx, "goguard.CheckRateLimit", trace.WithAttributes(
		attribute.String("goguard.operation", sc.Operation),
	))
	defer span.End()

	start := time.Now()
	decision, checkErr := e.limiter.Check(ctx, sc)
	e.metrics.Observe(internalmetrics.CheckLatency, time.Since(start))
	e.metrics.Inc(internalmetrics.RateLimitChecks)

	event := internalaudit.EventRateLimitCheck
	meta := decisionMetadata(decision)
	if checkErr != nil {
		event = internalaudit.EventRateLimitDegraded
		meta["error"] = checkErr.Error()
		span.RecordError(checkErr)
		span.SetStatus(codes.Error, "attempt store unavailable")

		e.logger.Error("rate limit check degraded",
			zap.String("severity", "critical"),
			zap.String("operation", sc.Operation),
			zap.String("reason", decision.Reason),
			zap.Bool("allowed", decision.Allowed),
			zap.Bool("fail_open", e.config.Store.FailOpen),
			zap.String("breaker", e.store.State()),
			zap.Error(checkErr),
		)
		switch decision.Reason {
		case ReasonCheckFailed:
			e.metrics.Inc(internalmetrics.RateLimitFailOpen)
		case ReasonUnavailable:
			e.metrics.Inc(internalmetrics.RateLimitStrictDenied)
		}
	}

	if decision.Allowed {
		e.metrics.Inc(internalmetrics.RateLimitAllowed)
	} else {
		e.metrics.Inc(internalmetrics.RateLimitDenied)
	}
	span.SetAttributes(
		attribute.Bool("goguard.allowed", decision.Allowed),
		attribute.String("goguard.reason", decision.Reason),
		attribute.Int("goguard.escalation_level", decision.EscalationLevel),
	)

	e.emitAudit(ctx, event, sc, decision.Allowed, decision.Reason, meta)
	return decision, nil
}

// RecordAttempt appends the outcome of one attempt on every present axis.
// Duplicate calls are counted twice.
//
// A failure that lifts the subject to escalation level 2 or higher emits a
// security_escalation audit event. Ledger failures are returned wrapped in
// ErrStoreUnavailable; the caller may ignore them.
func (e *Engine) RecordAttempt(ctx context.Context, operation string, sc SecurityContext, success bool) error {
	if err := e.validateContext(operation, &sc); err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "goguard.RecordAttempt", trace.WithAttributes(
		attribute.String("goguard.operation", sc.Operation),
		attribute.Bool("goguard.success", success),
	))
	defer span.End()

	level, err := e.limiter.Record(ctx, sc, success)
	e.metrics.Inc(internalmetrics.AttemptsRecorded)

	reason := "failure"
	if success {
		reason = "success"
	}
	e.emitAudit(ctx, internalaudit.EventAttemptRecorded, sc, success, reason, map[string]string{
		"escalation_level": strconv.Itoa(level),
	})

	if !success && level >= 2 {
		e.metrics.Inc(internalmetrics.Escalations)
		e.logger.Warn("security escalation",
			zap.String("operation", sc.Operation),
			zap.String("subject_id", sc.SubjectID),
			zap.Int("escalation_level", level),
		)
		e.emitAudit(ctx, internalaudit.EventSecurityEscalation, sc, false, "escalation_level_"+strconv.Itoa(level), map[string]string{
			"escalation_level": strconv.Itoa(level),
		})
	}

	if err != nil {
		e.metrics.Inc(internalmetrics.AttemptRecordFailures)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		e.logger.Warn("record attempt failed",
			zap.String("operation", sc.Operation),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
