// Package ratelimit implements goGuard's multi-axis attempt limiter.
//
// # Design
//
// Each check runs up to three independent sub-checks against the same
// per-operation policy: account (subject), network origin (IP) and device.
// Every sub-check counts failure records in the policy window, derives an
// escalation level from the policy's steps and denies once the count reaches
// the effective ceiling, persisting a block marker for the cooldown. Results
// are combined with [Merge], so a denial on any axis denies the attempt.
//
// The IP sub-check additionally enforces hourly and daily ceilings across
// all operations and halves the ceiling past a suspicious threshold. The
// device sub-check derates the ceiling for new and low-trust devices.
//
// # Architecture boundaries
//
// The limiter reads and appends through ledger.AttemptLedger only. Logging of
// the fail-open diagnostic and auditing are the caller's job; Check reports
// failed sub-checks through its error.
//
// # What this package must NOT do
//
//   - Retry ledger calls.
//   - Hold per-subject state between calls.
//   - Import goGuard.
package ratelimit
