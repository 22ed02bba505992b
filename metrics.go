package goGuard

import internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"

// MetricID identifies one engine counter.
type MetricID = internalmetrics.MetricID

// MetricsSnapshot is a point-in-time copy of the engine counters.
type MetricsSnapshot = internalmetrics.Snapshot

const (
	MetricRateLimitChecks       = internalmetrics.RateLimitChecks
	MetricRateLimitAllowed      = internalmetrics.RateLimitAllowed
	MetricRateLimitDenied       = internalmetrics.RateLimitDenied
	MetricRateLimitFailOpen     = internalmetrics.RateLimitFailOpen
	MetricRateLimitStrictDenied = internalmetrics.RateLimitStrictDenied
	MetricAttemptsRecorded      = internalmetrics.AttemptsRecorded
	MetricAttemptRecordFailures = internalmetrics.AttemptRecordFailures
	MetricEscalations           = internalmetrics.Escalations
	MetricFraudAllow            = internalmetrics.FraudAllow
	MetricFraudChallenge        = internalmetrics.FraudChallenge
	MetricFraudBlock            = internalmetrics.FraudBlock
	MetricControlsAllowed       = internalmetrics.ControlsAllowed
	MetricControlsDenied        = internalmetrics.ControlsDenied
	MetricAccountsLocked        = internalmetrics.AccountsLocked
	MetricCheckLatency          = internalmetrics.CheckLatency
)
