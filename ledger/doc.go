// Package ledger stores attempt records for goGuard.
//
// Every rate-limit and fraud decision is derived from the records kept here:
// windowed failure counts per axis value, access timestamps for behavioral
// checks, and block markers carrying a BlockedUntil deadline.
//
// # Implementations
//
//   - [Memory] keeps records in process. Useful for tests and single-node use.
//   - [Redis] keeps one sorted set per axis value, operation and outcome.
//   - [Postgres] keeps one row per record; schema managed by goose.
//   - [Guarded] wraps any of the above with a per-call timeout and a
//     circuit breaker so an unhealthy backend fails fast.
//
// # Architecture boundaries
//
// The ledger knows nothing about policies, thresholds or scores. It answers
// counting questions and persists records.
//
// # What this package must NOT do
//
//   - Mutate or delete a record after it was appended.
//   - Retry failed backend calls.
//   - Import goGuard or any internal package.
package ledger
