// Package controls turns a risk score and contextual flags into the concrete
// verification policy for one operation.
package controls

import (
	"context"
	"time"

	"github.com/MrEthical07/goGuard/internal/behavior"
	"github.com/MrEthical07/goGuard/internal/models"
	"github.com/MrEthical07/goGuard/reputation"
	"go.uber.org/zap"
)

// Names of the rules that can fire, reported for auditing.
const (
	RuleRiskCritical   = "risk_critical"
	RuleRiskHigh       = "risk_high"
	RuleRiskElevated   = "risk_elevated"
	RuleIPHighRisk     = "ip_high_risk"
	RuleIPMalicious    = "ip_malicious"
	RuleNewDevice      = "new_device"
	RuleLowDeviceTrust = "low_device_trust"
	RuleBehavior       = "behavioral_anomaly"
)

// Config holds the malicious IP block and the device trust threshold.
type Config struct {
	MaliciousIPBlock  time.Duration
	LowTrustThreshold float64
}

// DefaultConfig returns a 1h malicious block and a 0.3 trust threshold.
func DefaultConfig() Config {
	return Config{MaliciousIPBlock: time.Hour, LowTrustThreshold: 0.3}
}

// Evaluation is the decision plus the rules that produced it.
type Evaluation struct {
	Decision  models.SecurityDecision
	Fired     []string
	IPLevel   reputation.Level
	Anomalous bool
}

// Arbiter maps risk and context to a SecurityDecision.
type Arbiter struct {
	reputation reputation.Source
	behavior   *behavior.Analyzer
	cfg        Config
	logger     *zap.Logger
}

// NewArbiter returns an arbiter; rep, analyzer and logger may be nil.
func NewArbiter(rep reputation.Source, analyzer *behavior.Analyzer, cfg Config, logger *zap.Logger) *Arbiter {
	if rep == nil {
		rep = reputation.None{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{
		reputation: rep,
		behavior:   analyzer,
		cfg:        cfg,
		logger:     logger.With(zap.String("component", "control_arbiter")),
	}
}

type builder struct {
	ev       Evaluation
	required map[models.Control]struct{}
	extra    map[models.Control]struct{}
}

func (b *builder) require(rule string, c models.Control) {
	b.ev.Fired = append(b.ev.Fired, rule)
	if _, ok := b.required[c]; ok {
		return
	}
	b.required[c] = struct{}{}
	b.ev.Decision.RequiredControls = append(b.ev.Decision.RequiredControls, c)
}

func (b *builder) verify(rule string, c models.Control) {
	b.ev.Fired = append(b.ev.Fired, rule)
	if _, ok := b.extra[c]; ok {
		return
	}
	b.extra[c] = struct{}{}
	b.ev.Decision.AdditionalVerification = append(b.ev.Decision.AdditionalVerification, c)
}

// Apply layers risk tiers, IP reputation, device and behavior rules on top of
// an allow decision. Lookups that fail skip their layer.
func (a *Arbiter) Apply(ctx context.Context, sc models.SecurityContext, risk float64) Evaluation {
	b := &builder{
		ev:       Evaluation{Decision: models.SecurityDecision{AllowOperation: true}, IPLevel: reputation.LevelNone},
		required: make(map[models.Control]struct{}),
		extra:    make(map[models.Control]struct{}),
	}

	switch {
	case risk > 0.8:
		b.require(RuleRiskCritical, models.ControlIdentityVerification)
		b.ev.Decision.AllowOperation = false
	case risk > 0.6:
		b.require(RuleRiskHigh, models.ControlAdditionalFactor)
	case risk > 0.4:
		b.require(RuleRiskElevated, models.ControlSecondaryChannel)
	}

	if sc.IPAddress != "" {
		level, err := a.reputation.Lookup(ctx, sc.IPAddress)
		if err != nil {
			a.logger.Warn("ip reputation unavailable", zap.String("operation", sc.Operation), zap.Error(err))
		} else {
			b.ev.IPLevel = level
			switch level {
			case reputation.LevelMalicious:
				b.ev.Fired = append(b.ev.Fired, RuleIPMalicious)
				b.ev.Decision.AllowOperation = false
				secs := int(a.cfg.MaliciousIPBlock / time.Second)
				b.ev.Decision.BlockDurationSeconds = &secs
			case reputation.LevelHighRisk:
				b.verify(RuleIPHighRisk, models.ControlOutOfBand)
			}
		}
	}

	if sc.IsNewDevice {
		b.verify(RuleNewDevice, models.ControlSecondaryChannel)
	}
	if sc.DeviceID != "" && sc.DeviceTrustScore < a.cfg.LowTrustThreshold {
		b.verify(RuleLowDeviceTrust, models.ControlAdditionalVerification)
	}

	if a.behavior != nil {
		res, err := a.behavior.Analyze(ctx, sc)
		if err != nil {
			a.logger.Warn("behavior analysis unavailable", zap.String("operation", sc.Operation), zap.Error(err))
		} else if res.Anomalous {
			b.ev.Anomalous = true
			b.verify(RuleBehavior, models.ControlKnowledgeChallenge)
		}
	}

	return b.ev
}
