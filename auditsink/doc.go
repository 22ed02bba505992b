// Package auditsink groups network audit sinks for goGuard.
//
//   - kafkasink writes entries to a Kafka topic, keyed by subject.
//   - natssink publishes entries on per-event NATS subjects.
//
// Both implement [goGuard.AuditSink] and are meant to sit behind the engine's
// dispatcher, which already decouples them from the decision path. A failed
// publish is logged and counted; it never reaches the caller.
package auditsink
