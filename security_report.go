package goGuard

import (
	"sort"
	"time"

	"github.com/MrEthical07/goGuard/reputation"
)

// PolicyReport is a read-only view of the engine's abuse-prevention posture.
type PolicyReport struct {
	Operations           []OperationReport
	DefaultPolicy        RateLimitPolicy
	IPHourlyCeiling      int
	IPDailyCeiling       int
	IPSuspiciousAt       int
	IPBlockDuration      time.Duration
	DeviceDerating       bool
	FailOpen             bool
	StoreTimeout         time.Duration
	BreakerState         string
	MaliciousIPBlock     time.Duration
	FraudLockDuration    time.Duration
	ReputationConfigured bool
	DeviceSignals        bool
	AuditEnabled         bool
	AuditDropIfFull      bool
	MetricsEnabled       bool
}

// OperationReport describes one configured operation policy.
type OperationReport struct {
	Operation       string
	MaxAttempts     int
	Window          time.Duration
	MaxCooldown     time.Duration
	EscalationSteps int
}

// PolicyReport summarizes the active configuration. Operations are sorted by
// name.
func (e *Engine) PolicyReport() PolicyReport {
	if e == nil {
		return PolicyReport{}
	}

	ops := make([]OperationReport, 0, len(e.config.Policies))
	for name, p := range e.config.Policies {
		r := OperationReport{
			Operation:       name,
			MaxAttempts:     p.MaxAttempts,
			Window:          p.Window,
			EscalationSteps: len(p.EscalationSteps),
		}
		if n := len(p.EscalationSteps); n > 0 {
			r.MaxCooldown = p.EscalationSteps[n-1].Cooldown
		}
		ops = append(ops, r)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Operation < ops[j].Operation })

	_, noReputation := e.reputation.(reputation.None)

	return PolicyReport{
		Operations:           ops,
		DefaultPolicy:        e.config.DefaultPolicy.Clone(),
		IPHourlyCeiling:      e.config.IP.HourlyCeiling,
		IPDailyCeiling:       e.config.IP.DailyCeiling,
		IPSuspiciousAt:       e.config.IP.SuspiciousThreshold,
		IPBlockDuration:      e.config.IP.BlockDuration,
		DeviceDerating:       e.config.Device.NewDeviceDivisor > 1 || e.config.Device.LowTrustDivisor > 1,
		FailOpen:             e.config.Store.FailOpen,
		StoreTimeout:         e.config.Store.Timeout,
		BreakerState:         e.store.State(),
		MaliciousIPBlock:     e.config.Controls.MaliciousIPBlock,
		FraudLockDuration:    e.config.Controls.FraudLockDuration,
		ReputationConfigured: !noReputation,
		DeviceSignals:        e.devices != nil,
		AuditEnabled:         e.config.Audit.Enabled,
		AuditDropIfFull:      e.config.Audit.DropIfFull,
		MetricsEnabled:       e.config.Metrics.Enabled,
	}
}
