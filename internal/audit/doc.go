// Package audit carries goGuard's decision records to durable sinks.
//
// # Components
//
//   - [Entry] is the append-only record of one decision.
//   - [Sink] consumes entries: channel, JSON lines, fan-out, no-op. Network
//     sinks (Kafka, NATS) live under auditsink/.
//   - [Dispatcher] relays entries from one goroutine so the decision path
//     never waits on a sink.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. The engine decides what to emit.
//
// # What this package must NOT do
//
//   - Drop or rewrite entries based on their content.
//   - Import goGuard or sibling internal packages.
package audit
