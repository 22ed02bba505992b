package goGuard

import (
	"time"

	"github.com/MrEthical07/goGuard/internal/models"
	"github.com/MrEthical07/goGuard/ledger"
)

// SecurityContext describes one attempt. IPAddress and Operation are
// required; SubjectID and DeviceID enable the user and device axes.
// DeviceTrustScore is ignored by the low-trust rules when DeviceID is empty.
type SecurityContext = models.SecurityContext

// RateLimitPolicy is the per-operation counting policy.
type RateLimitPolicy = models.RateLimitPolicy

// EscalationStep raises the cooldown once the failure count reaches its
// threshold.
type EscalationStep = models.EscalationStep

// RateLimitDecision is the merged outcome of one check.
type RateLimitDecision = models.RateLimitDecision

// FraudSignal is one capped contribution to a fraud score.
type FraudSignal = models.FraudSignal

// SignalSource names a fraud signal.
type SignalSource = models.SignalSource

// FraudAssessment is the result of CalculateFraudScore.
type FraudAssessment = models.FraudAssessment

// Action is the recommended response to a fraud score.
type Action = models.Action

// Control names a verification step the caller must perform.
type Control = models.Control

// SecurityDecision is the result of ApplySecurityControls.
type SecurityDecision = models.SecurityDecision

// Axis is the dimension an attempt is counted along.
type Axis = ledger.Axis

const (
	AxisUser   = ledger.AxisUser
	AxisIP     = ledger.AxisIP
	AxisDevice = ledger.AxisDevice
)

const (
	ActionAllow     = models.ActionAllow
	ActionChallenge = models.ActionChallenge
	ActionBlock     = models.ActionBlock
)

const (
	ControlIdentityVerification   = models.ControlIdentityVerification
	ControlAdditionalFactor       = models.ControlAdditionalFactor
	ControlSecondaryChannel       = models.ControlSecondaryChannel
	ControlOutOfBand              = models.ControlOutOfBand
	ControlAdditionalVerification = models.ControlAdditionalVerification
	ControlKnowledgeChallenge     = models.ControlKnowledgeChallenge
)

// Rate limit decision reasons.
const (
	ReasonWithinLimit = models.ReasonWithinLimit
	ReasonRateLimited = models.ReasonRateLimited
	ReasonActiveBlock = models.ReasonActiveBlock
	ReasonIPCeiling   = models.ReasonIPCeiling
	ReasonCheckFailed = models.ReasonCheckFailed
	ReasonUnavailable = models.ReasonUnavailable
)

// AccountStatus is the coarse standing of a subject for one operation.
type AccountStatus string

const (
	AccountNormal AccountStatus = "NORMAL"
	AccountWarned AccountStatus = "WARNED"
	AccountLocked AccountStatus = "LOCKED"
)

// AccountState is returned by Engine.AccountState.
type AccountState struct {
	Status          AccountStatus
	EscalationLevel int
	LockedUntil     *time.Time
}

// OperationVerdict is the combined result of EvaluateOperation.
//
// Fraud and Controls are nil when the rate limit check denied the attempt,
// since neither runs in that case.
type OperationVerdict struct {
	Allowed     bool
	RateLimit   RateLimitDecision
	Fraud       *FraudAssessment
	Controls    *SecurityDecision
	LockedUntil *time.Time
}

// ControlsRequired reports whether the caller must complete any verification
// step before proceeding.
func (v OperationVerdict) ControlsRequired() bool {
	if v.Controls == nil {
		return false
	}
	return len(v.Controls.RequiredControls) > 0 || len(v.Controls.AdditionalVerification) > 0
}
