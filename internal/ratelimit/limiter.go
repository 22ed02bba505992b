package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrEthical07/goGuard/internal/models"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IPLimits are the absolute per-IP bounds applied across all operations.
type IPLimits struct {
	HourlyCeiling       int
	DailyCeiling        int
	SuspiciousThreshold int
	BlockDuration       time.Duration
}

// DeviceLimits derate the per-operation ceiling on the device axis.
type DeviceLimits struct {
	NewDeviceDivisor  float64
	LowTrustThreshold float64
	LowTrustDivisor   float64
	// BlockDuration replaces the escalation cooldown on the device axis when
	// set.
	BlockDuration time.Duration
}

// Config is the validated limiter configuration.
type Config struct {
	Policies map[string]models.RateLimitPolicy
	Default  models.RateLimitPolicy
	IP       IPLimits
	Device   DeviceLimits
	FailOpen bool
}

// Limiter counts failures per axis and decides whether an attempt may run.
type Limiter struct {
	cfg    Config
	store  ledger.AttemptLedger
	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// New returns a limiter over store. A nil now uses time.Now and a nil
// logger discards.
func New(cfg Config, store ledger.AttemptLedger, now func() time.Time, logger *zap.Logger) *Limiter {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:    cfg,
		store:  store,
		now:    now,
		newID:  uuid.NewString,
		logger: logger.With(zap.String("component", "rate_limiter")),
	}
}

// Policy returns the policy for operation, falling back to the default.
func (l *Limiter) Policy(operation string) models.RateLimitPolicy {
	if p, ok := l.cfg.Policies[operation]; ok {
		return p
	}
	return l.cfg.Default
}

// EscalationLevel is the 1-based index of the highest step whose threshold
// count has reached, or 0.
func EscalationLevel(steps []models.EscalationStep, count int) int {
	level := 0
	for i, step := range steps {
		if count >= step.Threshold {
			level = i + 1
		}
	}
	return level
}

// Cooldown is the block duration at level. Level 0 uses the first step, or
// the window when the policy has no steps.
func Cooldown(p models.RateLimitPolicy, level int) time.Duration {
	switch {
	case level > 0 && level <= len(p.EscalationSteps):
		return p.EscalationSteps[level-1].Cooldown
	case len(p.EscalationSteps) > 0:
		return p.EscalationSteps[0].Cooldown
	default:
		return p.Window
	}
}

// DeviceCeiling derates maxAttempts for new and low-trust devices. Divisors
// multiply; the result is floored and never below 1.
func DeviceCeiling(maxAttempts int, isNew bool, trust float64, limits DeviceLimits) int {
	ceiling := float64(maxAttempts)
	if isNew && limits.NewDeviceDivisor > 0 {
		ceiling /= limits.NewDeviceDivisor
	}
	if trust < limits.LowTrustThreshold && limits.LowTrustDivisor > 0 {
		ceiling /= limits.LowTrustDivisor
	}
	n := int(math.Floor(ceiling))
	if n < 1 {
		return 1
	}
	return n
}

type axisInput struct {
	axis        ledger.Axis
	value       string
	operation   string
	policy      models.RateLimitPolicy
	maxAttempts int
	cooldown    time.Duration
	ceiling     bool
}

type subCheck struct {
	axis ledger.Axis
	run  func(ctx context.Context) (models.RateLimitDecision, error)
}

// Check runs the account, IP and device sub-checks in parallel and merges
// them. A non-nil error reports failed sub-checks; the returned decision
// already reflects the fail-open or strict policy.
func (l *Limiter) Check(ctx context.Context, sc models.SecurityContext) (models.RateLimitDecision, error) {
	now := l.now()
	policy := l.Policy(sc.Operation)

	checks := make([]subCheck, 0, 3)
	if sc.SubjectID != "" {
		in := axisInput{axis: ledger.AxisUser, value: sc.SubjectID, operation: sc.Operation, policy: policy, maxAttempts: policy.MaxAttempts}
		checks = append(checks, subCheck{axis: in.axis, run: func(ctx context.Context) (models.RateLimitDecision, error) {
			return l.checkAxis(ctx, in, now)
		}})
	}
	checks = append(checks, subCheck{axis: ledger.AxisIP, run: func(ctx context.Context) (models.RateLimitDecision, error) {
		return l.checkIP(ctx, sc, policy, now)
	}})
	if sc.DeviceID != "" {
		in := axisInput{
			axis:        ledger.AxisDevice,
			value:       sc.DeviceID,
			operation:   sc.Operation,
			policy:      policy,
			maxAttempts: DeviceCeiling(policy.MaxAttempts, sc.IsNewDevice, sc.DeviceTrustScore, l.cfg.Device),
			cooldown:    l.cfg.Device.BlockDuration,
		}
		checks = append(checks, subCheck{axis: in.axis, run: func(ctx context.Context) (models.RateLimitDecision, error) {
			return l.checkAxis(ctx, in, now)
		}})
	}

	results := make([]models.RateLimitDecision, len(checks))
	errs := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i], errs[i] = c.run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	decided := make([]models.RateLimitDecision, 0, len(checks))
	var failed []error
	for i, c := range checks {
		if errs[i] != nil {
			l.logger.Debug("axis check failed", zap.String("axis", string(c.axis)), zap.Error(errs[i]))
			failed = append(failed, fmt.Errorf("%s axis: %w", c.axis, errs[i]))
			continue
		}
		decided = append(decided, results[i])
	}

	merged, ok := MergeAll(decided)
	if len(failed) == 0 {
		return merged, nil
	}

	err := errors.Join(failed...)
	if ok && !merged.Allowed {
		// another axis already denies; the failure cannot loosen that
		return merged, err
	}
	return l.degraded(policy, now, merged, ok), err
}

func (l *Limiter) degraded(policy models.RateLimitPolicy, now time.Time, partial models.RateLimitDecision, havePartial bool) models.RateLimitDecision {
	d := models.RateLimitDecision{
		Allowed:           true,
		RemainingAttempts: policy.MaxAttempts,
		ResetTime:         now.Add(policy.Window),
		Reason:            models.ReasonCheckFailed,
	}
	if havePartial {
		d.RemainingAttempts = partial.RemainingAttempts
		d.EscalationLevel = partial.EscalationLevel
		d.Axis = partial.Axis
	}
	if !l.cfg.FailOpen {
		d.Allowed = false
		d.RemainingAttempts = 0
		d.Reason = models.ReasonUnavailable
	}
	return d
}

func (l *Limiter) checkIP(ctx context.Context, sc models.SecurityContext, policy models.RateLimitPolicy, now time.Time) (models.RateLimitDecision, error) {
	in := axisInput{axis: ledger.AxisIP, value: sc.IPAddress, operation: sc.Operation, policy: policy, maxAttempts: policy.MaxAttempts}

	lim := l.cfg.IP
	if lim.HourlyCeiling > 0 || lim.DailyCeiling > 0 || lim.SuspiciousThreshold > 0 {
		hourly, err := l.failuresSince(ctx, ledger.AxisIP, sc.IPAddress, ledger.AnyOperation, now.Add(-time.Hour))
		if err != nil {
			return models.RateLimitDecision{}, err
		}
		daily := 0
		if lim.DailyCeiling > 0 {
			daily, err = l.failuresSince(ctx, ledger.AxisIP, sc.IPAddress, ledger.AnyOperation, now.Add(-24*time.Hour))
			if err != nil {
				return models.RateLimitDecision{}, err
			}
		}

		switch {
		case lim.HourlyCeiling > 0 && hourly >= lim.HourlyCeiling,
			lim.DailyCeiling > 0 && daily >= lim.DailyCeiling:
			in.ceiling = true
		case lim.SuspiciousThreshold > 0 && hourly >= lim.SuspiciousThreshold:
			in.maxAttempts = in.maxAttempts / 2
			if in.maxAttempts < 1 {
				in.maxAttempts = 1
			}
		}
	}

	return l.checkAxis(ctx, in, now)
}

func (l *Limiter) checkAxis(ctx context.Context, in axisInput, now time.Time) (models.RateLimitDecision, error) {
	until, err := l.store.FindActiveBlock(ctx, in.axis, in.value, in.operation, now)
	if err != nil {
		return models.RateLimitDecision{}, err
	}
	count, err := l.failuresSince(ctx, in.axis, in.value, in.operation, now.Add(-in.policy.Window))
	if err != nil {
		return models.RateLimitDecision{}, err
	}
	level := EscalationLevel(in.policy.EscalationSteps, count)

	if until != nil {
		return deny(in.axis, models.ReasonActiveBlock, *until, level), nil
	}

	if in.ceiling {
		blocked := now.Add(l.cfg.IP.BlockDuration)
		l.persistBlock(ctx, in.axis, in.value, ledger.AnyOperation, now, blocked)
		return deny(in.axis, models.ReasonIPCeiling, blocked, level), nil
	}

	if count >= in.maxAttempts {
		cooldown := in.cooldown
		if cooldown <= 0 {
			cooldown = Cooldown(in.policy, level)
		}
		blocked := now.Add(cooldown)
		l.persistBlock(ctx, in.axis, in.value, in.operation, now, blocked)
		return deny(in.axis, models.ReasonRateLimited, blocked, level), nil
	}

	return models.RateLimitDecision{
		Allowed:           true,
		RemainingAttempts: in.maxAttempts - count,
		ResetTime:         now.Add(in.policy.Window),
		EscalationLevel:   level,
		Reason:            models.ReasonWithinLimit,
		Axis:              in.axis,
	}, nil
}

func deny(axis ledger.Axis, reason string, until time.Time, level int) models.RateLimitDecision {
	return models.RateLimitDecision{
		Allowed:         false,
		ResetTime:       until,
		CooldownUntil:   &until,
		EscalationLevel: level,
		Reason:          reason,
		Axis:            axis,
	}
}

func (l *Limiter) failuresSince(ctx context.Context, axis ledger.Axis, value, operation string, since time.Time) (int, error) {
	return l.store.CountSince(ctx, ledger.Query{
		Axis:      axis,
		Value:     value,
		Operation: operation,
		Outcome:   ledger.OutcomeFailure,
		Since:     since,
	})
}

// persistBlock writes a block marker. The decision already denies, so a
// failed write is only logged.
func (l *Limiter) persistBlock(ctx context.Context, axis ledger.Axis, value, operation string, now, until time.Time) {
	err := l.store.Append(ctx, ledger.Record{
		ID:           l.newID(),
		Axis:         axis,
		AxisValue:    value,
		Operation:    operation,
		Timestamp:    now,
		Outcome:      ledger.OutcomeFailure,
		BlockedUntil: &until,
	})
	if err != nil {
		l.logger.Warn("persist block failed",
			zap.String("axis", string(axis)),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
}

// Record appends one attempt per present axis. For failures it returns the
// escalation level now reached by the subject (the IP when no subject).
func (l *Limiter) Record(ctx context.Context, sc models.SecurityContext, success bool) (int, error) {
	now := l.now()
	outcome := ledger.OutcomeFailure
	if success {
		outcome = ledger.OutcomeSuccess
	}

	type axisValue struct {
		axis  ledger.Axis
		value string
	}
	targets := make([]axisValue, 0, 3)
	if sc.SubjectID != "" {
		targets = append(targets, axisValue{ledger.AxisUser, sc.SubjectID})
	}
	targets = append(targets, axisValue{ledger.AxisIP, sc.IPAddress})
	if sc.DeviceID != "" {
		targets = append(targets, axisValue{ledger.AxisDevice, sc.DeviceID})
	}

	var errs []error
	for _, t := range targets {
		err := l.store.Append(ctx, ledger.Record{
			ID:        l.newID(),
			Axis:      t.axis,
			AxisValue: t.value,
			Operation: sc.Operation,
			Timestamp: now,
			Outcome:   outcome,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s axis: %w", t.axis, err))
		}
	}
	if success {
		return 0, errors.Join(errs...)
	}

	primary := targets[0]
	policy := l.Policy(sc.Operation)
	count, err := l.failuresSince(ctx, primary.axis, primary.value, sc.Operation, now.Add(-policy.Window))
	if err != nil {
		errs = append(errs, err)
		return 0, errors.Join(errs...)
	}
	return EscalationLevel(policy.EscalationSteps, count), errors.Join(errs...)
}

// Standing reports the current escalation level and active block for one
// axis value.
func (l *Limiter) Standing(ctx context.Context, axis ledger.Axis, value, operation string) (int, *time.Time, error) {
	now := l.now()
	policy := l.Policy(operation)
	until, err := l.store.FindActiveBlock(ctx, axis, value, operation, now)
	if err != nil {
		return 0, nil, err
	}
	count, err := l.failuresSince(ctx, axis, value, operation, now.Add(-policy.Window))
	if err != nil {
		return 0, nil, err
	}
	return EscalationLevel(policy.EscalationSteps, count), until, nil
}

// Block persists an all-operations block on one axis value.
func (l *Limiter) Block(ctx context.Context, axis ledger.Axis, value string, d time.Duration) (time.Time, error) {
	now := l.now()
	until := now.Add(d)
	err := l.store.Append(ctx, ledger.Record{
		ID:           l.newID(),
		Axis:         axis,
		AxisValue:    value,
		Operation:    ledger.AnyOperation,
		Timestamp:    now,
		Outcome:      ledger.OutcomeFailure,
		BlockedUntil: &until,
	})
	return until, err
}
