package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const (
	AuditDroppedName = "goguard_audit_dropped_total"
	AuditDroppedHelp = "Audit entries dropped due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: goGuard.MetricRateLimitChecks, Name: "goguard_rate_limit_checks_total", Help: "Rate limit checks evaluated."},
	{ID: goGuard.MetricRateLimitAllowed, Name: "goguard_rate_limit_allowed_total", Help: "Rate limit checks that allowed the attempt."},
	{ID: goGuard.MetricRateLimitDenied, Name: "goguard_rate_limit_denied_total", Help: "Rate limit checks that denied the attempt."},
	{ID: goGuard.MetricRateLimitFailOpen, Name: "goguard_rate_limit_fail_open_total", Help: "Checks allowed because the attempt store was unreachable."},
	{ID: goGuard.MetricRateLimitStrictDenied, Name: "goguard_rate_limit_strict_denied_total", Help: "Checks denied because the attempt store was unreachable in strict mode."},
	{ID: goGuard.MetricAttemptsRecorded, Name: "goguard_attempts_recorded_total", Help: "Attempt outcomes recorded."},
	{ID: goGuard.MetricAttemptRecordFailures, Name: "goguard_attempt_record_failures_total", Help: "Attempt outcomes the store failed to persist."},
	{ID: goGuard.MetricEscalations, Name: "goguard_escalations_total", Help: "Failures that reached escalation level 2 or higher."},
	{ID: goGuard.MetricFraudAllow, Name: "goguard_fraud_allow_total", Help: "Fraud assessments recommending allow."},
	{ID: goGuard.MetricFraudChallenge, Name: "goguard_fraud_challenge_total", Help: "Fraud assessments recommending challenge."},
	{ID: goGuard.MetricFraudBlock, Name: "goguard_fraud_block_total", Help: "Fraud assessments recommending block."},
	{ID: goGuard.MetricControlsAllowed, Name: "goguard_controls_allowed_total", Help: "Security control decisions that allowed the operation."},
	{ID: goGuard.MetricControlsDenied, Name: "goguard_controls_denied_total", Help: "Security control decisions that denied the operation."},
	{ID: goGuard.MetricAccountsLocked, Name: "goguard_locks_total", Help: "Subjects or IPs locked after a fraud or reputation verdict."},
}

var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricCheckLatency, Name: "goguard_check_latency_seconds", Help: "Rate limit check latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds; the eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
