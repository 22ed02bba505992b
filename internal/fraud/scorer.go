// Package fraud aggregates independent risk signals into one score.
//
// Four signals contribute, each capped at its weight before summation:
//
//	ip        0.6   elevated failures, high-risk or malicious reputation
//	device    0.3   new device, low trust
//	behavior  0.15  anomalous access pattern
//	velocity  0.1   attempt burst
//
// The total is capped at 1. A signal whose inputs cannot be read
// contributes 0 and is logged; scoring itself never fails.
package fraud

import (
	"context"
	"math"
	"time"

	"github.com/MrEthical07/goGuard/internal/behavior"
	"github.com/MrEthical07/goGuard/internal/models"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/MrEthical07/goGuard/reputation"
	"go.uber.org/zap"
)

// Signal weights; each signal is capped at its weight.
const (
	WeightIP       = 0.6
	WeightDevice   = 0.3
	WeightBehavior = 0.15
	WeightVelocity = 0.1
)

// Reason tags.
const (
	ReasonIPElevatedFailures = "ip_elevated_failures"
	ReasonIPHighRisk         = "ip_high_risk"
	ReasonIPMalicious        = "ip_malicious"
	ReasonNewDevice          = "new_device"
	ReasonLowDeviceTrust     = "low_device_trust"
	ReasonBehavioralAnomaly  = "behavioral_anomaly"
	ReasonHighVelocity       = "high_velocity"
)

// Config holds the thresholds behind the IP, device and velocity signals.
type Config struct {
	ElevatedIPFailures int
	ElevatedIPWindow   time.Duration
	LowTrustThreshold  float64
	VelocityWindow     time.Duration
	VelocityLimit      int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ElevatedIPFailures: 5,
		ElevatedIPWindow:   time.Hour,
		LowTrustThreshold:  0.3,
		VelocityWindow:     10 * time.Minute,
		VelocityLimit:      5,
	}
}

// Scorer computes fraud assessments. It is safe for concurrent use.
type Scorer struct {
	store      ledger.AttemptLedger
	reputation reputation.Source
	behavior   *behavior.Analyzer
	cfg        Config
	now        func() time.Time
	logger     *zap.Logger
}

// NewScorer returns a scorer; rep may be nil and analyzer may be nil.
func NewScorer(store ledger.AttemptLedger, rep reputation.Source, analyzer *behavior.Analyzer, cfg Config, now func() time.Time, logger *zap.Logger) *Scorer {
	if rep == nil {
		rep = reputation.None{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		store:      store,
		reputation: rep,
		behavior:   analyzer,
		cfg:        cfg,
		now:        now,
		logger:     logger.With(zap.String("component", "fraud_scorer")),
	}
}

type signalFunc func(ctx context.Context, sc models.SecurityContext, now time.Time) (models.FraudSignal, error)

// Score computes the assessment for sc.
func (s *Scorer) Score(ctx context.Context, sc models.SecurityContext) models.FraudAssessment {
	now := s.now()
	funcs := []struct {
		source models.SignalSource
		weight float64
		fn     signalFunc
	}{
		{models.SignalIP, WeightIP, s.ipSignal},
		{models.SignalDevice, WeightDevice, s.deviceSignal},
		{models.SignalBehavior, WeightBehavior, s.behaviorSignal},
		{models.SignalVelocity, WeightVelocity, s.velocitySignal},
	}

	out := models.FraudAssessment{Signals: make([]models.FraudSignal, 0, len(funcs))}
	seen := make(map[string]struct{})
	total := 0.0
	for _, f := range funcs {
		sig, err := f.fn(ctx, sc, now)
		if err != nil {
			s.unavailable(f.source, "", sc, err)
			sig = models.FraudSignal{}
		}
		sig.Source = f.source
		sig.Weight = f.weight
		sig.Score = math.Min(sig.Score, f.weight)
		total += sig.Score
		for _, r := range sig.Reasons {
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out.RiskFactors = append(out.RiskFactors, r)
		}
		out.Signals = append(out.Signals, sig)
	}

	out.FraudScore = clamp(total)
	out.RecommendedAction = models.ActionFor(out.FraudScore)
	return out
}

// clamp bounds the score to [0,1] and drops float noise from summation so
// boundaries like 0.2+0.3 land exactly on 0.5.
func clamp(v float64) float64 {
	v = math.Round(v*1e9) / 1e9
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ipSignal reads the failure count and the reputation independently; a
// failed read drops only its own part.
func (s *Scorer) ipSignal(ctx context.Context, sc models.SecurityContext, now time.Time) (models.FraudSignal, error) {
	var sig models.FraudSignal
	if sc.IPAddress == "" {
		return sig, nil
	}

	failures, err := s.store.CountSince(ctx, ledger.Query{
		Axis:      ledger.AxisIP,
		Value:     sc.IPAddress,
		Operation: ledger.AnyOperation,
		Outcome:   ledger.OutcomeFailure,
		Since:     now.Add(-s.cfg.ElevatedIPWindow),
	})
	switch {
	case err != nil:
		s.unavailable(models.SignalIP, "failure_count", sc, err)
	case s.cfg.ElevatedIPFailures > 0 && failures >= s.cfg.ElevatedIPFailures:
		sig.Score += 0.2
		sig.Reasons = append(sig.Reasons, ReasonIPElevatedFailures)
	}

	level, err := s.reputation.Lookup(ctx, sc.IPAddress)
	if err != nil {
		s.unavailable(models.SignalIP, "reputation", sc, err)
		return sig, nil
	}
	switch level {
	case reputation.LevelMalicious:
		sig.Score += 0.5
		sig.Reasons = append(sig.Reasons, ReasonIPMalicious)
	case reputation.LevelHighRisk:
		sig.Score += 0.3
		sig.Reasons = append(sig.Reasons, ReasonIPHighRisk)
	}
	return sig, nil
}

func (s *Scorer) unavailable(source models.SignalSource, part string, sc models.SecurityContext, err error) {
	fields := []zap.Field{
		zap.String("signal", string(source)),
		zap.String("operation", sc.Operation),
		zap.Error(err),
	}
	if part != "" {
		fields = append(fields, zap.String("part", part))
	}
	s.logger.Warn("fraud signal unavailable", fields...)
}

func (s *Scorer) deviceSignal(_ context.Context, sc models.SecurityContext, _ time.Time) (models.FraudSignal, error) {
	var sig models.FraudSignal
	if sc.IsNewDevice {
		sig.Score += 0.1
		sig.Reasons = append(sig.Reasons, ReasonNewDevice)
	}
	if sc.DeviceID != "" && sc.DeviceTrustScore < s.cfg.LowTrustThreshold {
		sig.Score += 0.2
		sig.Reasons = append(sig.Reasons, ReasonLowDeviceTrust)
	}
	return sig, nil
}

func (s *Scorer) behaviorSignal(ctx context.Context, sc models.SecurityContext, _ time.Time) (models.FraudSignal, error) {
	var sig models.FraudSignal
	if s.behavior == nil {
		return sig, nil
	}
	res, err := s.behavior.Analyze(ctx, sc)
	if err != nil {
		return sig, err
	}
	if res.Anomalous {
		sig.Score = WeightBehavior
		sig.Reasons = append([]string{ReasonBehavioralAnomaly}, res.Reasons...)
	}
	return sig, nil
}

func (s *Scorer) velocitySignal(ctx context.Context, sc models.SecurityContext, now time.Time) (models.FraudSignal, error) {
	var sig models.FraudSignal
	q := ledger.Query{
		Axis:      ledger.AxisUser,
		Value:     sc.SubjectID,
		Operation: ledger.AnyOperation,
		Since:     now.Add(-s.cfg.VelocityWindow),
	}
	if sc.SubjectID == "" {
		q.Axis, q.Value = ledger.AxisIP, sc.IPAddress
	}
	if q.Value == "" {
		return sig, nil
	}
	n, err := s.store.CountSince(ctx, q)
	if err != nil {
		return sig, err
	}
	if n > s.cfg.VelocityLimit {
		sig.Score = WeightVelocity
		sig.Reasons = []string{ReasonHighVelocity}
	}
	return sig, nil
}
