// Package goGuard provides an adaptive abuse-prevention engine for
// security-sensitive operations: verification codes, account recovery,
// privileged overrides.
//
// Every attempt is evaluated along three axes (user, IP, device). Failures
// are counted in a shared attempt ledger over sliding windows and escalate
// through configured cooldown steps. A fraud score aggregates IP reputation,
// device trust, behavior and velocity signals, and the control arbiter turns
// that score into the verification steps the caller must perform.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goGuard is the public surface. It exposes [Engine], [Builder], [Config] and
// the decision value types. Counting, scoring, arbitration, audit dispatch
// and metrics live under internal/. Storage backends live in [ledger],
// device signals in [device], IP reputation in [reputation].
//
// # What this package must NOT do
//
//   - Perform the controls it requires. Callers own OTP delivery and identity
//     checks.
//   - Let a storage failure on one axis loosen a deny on another.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//
// # Performance contract
//
// CheckRateLimit issues the per-axis ledger reads concurrently and is bounded
// by Config.Store.Timeout. Audit delivery never blocks the decision path when
// Config.Audit.DropIfFull is set.
package goGuard
