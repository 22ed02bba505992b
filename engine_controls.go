package goGuard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
	internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/MrEthical07/goGuard/reputation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ApplySecurityControls returns the verification policy for one operation
// given riskScore, usually a FraudAssessment.FraudScore.
//
// Risk tiers populate RequiredControls: above 0.8 identity verification and
// deny, above 0.6 an additional factor, above 0.4 secondary channel
// confirmation. IP reputation, device and behavior rules add
// AdditionalVerification entries; a malicious IP denies with a block
// duration. Every call emits an audit entry naming the rules that fired.
func (e *Engine) ApplySecurityControls(ctx context.Context, sc SecurityContext, riskScore float64) (SecurityDecision, error) {
	if err := e.validateContext("", &sc); err != nil {
		return SecurityDecision{}, err
	}
	if !unitInterval(riskScore) {
		return SecurityDecision{}, invalidContext("risk score must be within [0,1]")
	}

	ctx, span := e.tracer.Start(ctx, "goguard.ApplySecurityControls", trace.WithAttributes(
		attribute.String("goguard.operation", sc.Operation),
		attribute.Float64("goguard.risk_score", riskScore),
	))
	defer span.End()

	ev := e.arbiter.Apply(ctx, sc, riskScore)
	d := ev.Decision

	if d.AllowOperation {
		e.metrics.Inc(internalmetrics.ControlsAllowed)
	} else {
		e.metrics.Inc(internalmetrics.ControlsDenied)
	}
	span.SetAttributes(
		attribute.Bool("goguard.allowed", d.AllowOperation),
		attribute.StringSlice("goguard.rules", ev.Fired),
	)

	meta := map[string]string{
		"risk_score":              strconv.FormatFloat(riskScore, 'f', 4, 64),
		"rules":                   strings.Join(ev.Fired, ","),
		"required_controls":       joinControls(d.RequiredControls),
		"additional_verification": joinControls(d.AdditionalVerification),
		"ip_reputation":           string(ev.IPLevel),
	}
	if d.BlockDurationSeconds != nil {
		meta["block_duration_seconds"] = strconv.Itoa(*d.BlockDurationSeconds)
	}
	reason := "controls_applied"
	if !d.AllowOperation {
		reason = "operation_denied"
	}
	e.emitAudit(ctx, internalaudit.EventSecurityControls, sc, d.AllowOperation, reason, meta)

	if ev.IPLevel == reputation.LevelMalicious {
		e.logger.Warn("malicious ip denied",
			zap.String("operation", sc.Operation),
			zap.String("ip", sc.IPAddress),
		)
	}
	return d, nil
}

// EvaluateOperation runs the full gate for one attempt: rate limit check,
// then fraud scoring and security controls when the check allows.
//
// A fraud score above 0.8 locks the subject on every operation for
// Config.Controls.FraudLockDuration, and a malicious IP verdict blocks the IP
// for Config.Controls.MaliciousIPBlock, so the next CheckRateLimit denies
// with reason active_block. The caller still records the outcome with
// RecordAttempt.
func (e *Engine) EvaluateOperation(ctx context.Context, operation string, sc SecurityContext) (OperationVerdict, error) {
	if err := e.validateContext(operation, &sc); err != nil {
		return OperationVerdict{}, err
	}

	ctx, span := e.tracer.Start(ctx, "goguard.EvaluateOperation", trace.WithAttributes(
		attribute.String("goguard.operation", sc.Operation),
	))
	defer span.End()

	rl, err := e.CheckRateLimit(ctx, "", sc)
	if err != nil {
		return OperationVerdict{}, err
	}
	v := OperationVerdict{RateLimit: rl}
	if !rl.Allowed {
		span.SetAttributes(attribute.Bool("goguard.allowed", false))
		return v, nil
	}

	fa, err := e.CalculateFraudScore(ctx, sc)
	if err != nil {
		return OperationVerdict{}, err
	}
	v.Fraud = &fa
	risk := fa.FraudScore
	sc.RiskScore = &risk

	if fa.RecommendedAction == ActionBlock && sc.SubjectID != "" && e.config.Controls.FraudLockDuration > 0 {
		v.LockedUntil = e.lock(ctx, sc, ledger.AxisUser, sc.SubjectID, e.config.Controls.FraudLockDuration, "fraud_score_exceeded")
	}

	sd, err := e.ApplySecurityControls(ctx, sc, risk)
	if err != nil {
		return OperationVerdict{}, err
	}
	v.Controls = &sd
	if sd.BlockDurationSeconds != nil {
		d := time.Duration(*sd.BlockDurationSeconds) * time.Second
		e.lock(ctx, sc, ledger.AxisIP, sc.IPAddress, d, "malicious_ip")
	}

	v.Allowed = sd.AllowOperation
	span.SetAttributes(attribute.Bool("goguard.allowed", v.Allowed))
	return v, nil
}

// lock persists an all-operations block. A failed write is logged; the
// current verdict already denies.
func (e *Engine) lock(ctx context.Context, sc SecurityContext, axis Axis, value string, d time.Duration, reason string) *time.Time {
	until, err := e.limiter.Block(ctx, axis, value, d)
	if err != nil {
		e.logger.Warn("persist lock failed",
			zap.String("axis", string(axis)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil
	}
	e.metrics.Inc(internalmetrics.AccountsLocked)
	e.emitAudit(ctx, internalaudit.EventAccountLocked, sc, false, reason, map[string]string{
		"axis":         string(axis),
		"locked_until": until.UTC().Format(timeFormat),
	})
	return &until
}

// AccountState derives the standing of subjectID for operation from the
// ledger: LOCKED while a block is active, WARNED once any escalation step is
// reached within the window, otherwise NORMAL.
func (e *Engine) AccountState(ctx context.Context, operation, subjectID string) (AccountState, error) {
	if e == nil || e.closed.Load() {
		return AccountState{}, ErrEngineClosed
	}
	if operation == "" || subjectID == "" {
		return AccountState{}, invalidContext("operation and subject are required")
	}

	level, until, err := e.limiter.Standing(ctx, ledger.AxisUser, subjectID, operation)
	if err != nil {
		return AccountState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	st := AccountState{Status: AccountNormal, EscalationLevel: level, LockedUntil: until}
	switch {
	case until != nil:
		st.Status = AccountLocked
	case level > 0:
		st.Status = AccountWarned
	}
	return st, nil
}
