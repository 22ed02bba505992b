// Package models holds the decision types shared by goGuard's internal
// components. The root package re-exports them as aliases.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/ledger"
)

// SecurityContext describes one attempt as seen by every component.
//
// DeviceTrustScore drives the low-trust fraud signal and control only when
// DeviceID is set.
type SecurityContext struct {
	SubjectID        string
	IPAddress        string
	DeviceID         string
	UserAgent        string
	Operation        string
	IsNewDevice      bool
	DeviceTrustScore float64
	RiskScore        *float64
}

// EscalationStep raises the cooldown once the failure count reaches
// Threshold.
type EscalationStep struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// RateLimitPolicy is the per-operation counting policy.
type RateLimitPolicy struct {
	MaxAttempts     int              `yaml:"max_attempts"`
	Window          time.Duration    `yaml:"window"`
	EscalationSteps []EscalationStep `yaml:"escalation_steps"`
}

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Validate enforces positive limits and strictly increasing steps.
func (p RateLimitPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max_attempts must be > 0", ErrInvalidPolicy)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0", ErrInvalidPolicy)
	}
	for i, step := range p.EscalationSteps {
		if step.Threshold <= 0 || step.Cooldown <= 0 {
			return fmt.Errorf("%w: escalation step %d must have positive threshold and cooldown", ErrInvalidPolicy, i)
		}
		if i == 0 {
			continue
		}
		prev := p.EscalationSteps[i-1]
		if step.Threshold <= prev.Threshold || step.Cooldown <= prev.Cooldown {
			return fmt.Errorf("%w: escalation step %d must increase threshold and cooldown", ErrInvalidPolicy, i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p RateLimitPolicy) Clone() RateLimitPolicy {
	p.EscalationSteps = append([]EscalationStep(nil), p.EscalationSteps...)
	return p
}

// Rate limit reasons.
const (
	ReasonWithinLimit = "within_limit"
	ReasonRateLimited = "rate_limited"
	ReasonActiveBlock = "active_block"
	ReasonIPCeiling   = "ip_ceiling_exceeded"
	ReasonCheckFailed = "rate_limit_check_failed"
	ReasonUnavailable = "rate_limit_unavailable"
)

// RateLimitDecision is derived per call and never persisted.
type RateLimitDecision struct {
	Allowed           bool
	RemainingAttempts int
	ResetTime         time.Time
	CooldownUntil     *time.Time
	EscalationLevel   int
	Reason            string
	Axis              ledger.Axis
}

// SignalSource names a fraud signal.
type SignalSource string

const (
	SignalIP       SignalSource = "ip"
	SignalDevice   SignalSource = "device"
	SignalBehavior SignalSource = "behavior"
	SignalVelocity SignalSource = "velocity"
)

// FraudSignal is one capped contribution to a fraud score.
type FraudSignal struct {
	Source  SignalSource
	Score   float64
	Weight  float64
	Reasons []string
}

// Action is the recommended response to a fraud score.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// ActionFor maps a score to an action: block above 0.8, challenge above 0.5.
func ActionFor(score float64) Action {
	switch {
	case score > 0.8:
		return ActionBlock
	case score > 0.5:
		return ActionChallenge
	default:
		return ActionAllow
	}
}

// FraudAssessment is the scorer's output.
type FraudAssessment struct {
	FraudScore        float64
	RiskFactors       []string
	Signals           []FraudSignal
	RecommendedAction Action
}

// Control names a verification step the caller must perform.
type Control string

const (
	ControlIdentityVerification   Control = "identity_verification"
	ControlAdditionalFactor       Control = "additional_factor"
	ControlSecondaryChannel       Control = "secondary_channel_confirmation"
	ControlOutOfBand              Control = "out_of_band_verification"
	ControlAdditionalVerification Control = "additional_verification"
	ControlKnowledgeChallenge     Control = "knowledge_based_challenge"
)

// SecurityDecision is the arbiter's policy for one operation.
type SecurityDecision struct {
	AllowOperation         bool
	RequiredControls       []Control
	AdditionalVerification []Control
	BlockDurationSeconds   *int
}
