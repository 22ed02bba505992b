// Package metrics provides lock-free counters and a latency histogram for
// goGuard decisions.
//
// # Design
//
// Counters sit in cache-line-padded uint64 slots and are incremented with
// [sync/atomic.AddUint64]. The check latency histogram uses 8 fixed buckets
// (≤5ms … +Inf). The write path does not allocate.
//
// # Architecture boundaries
//
// This package owns storage and snapshots. Export (Prometheus, OTel) lives
// in metrics/export/ and reads snapshots through the engine.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Register with a global registry.
package metrics
