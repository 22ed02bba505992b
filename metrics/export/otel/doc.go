// Package otel binds goGuard engine counters to OpenTelemetry metrics.
//
// [NewExporter] folds related engine counters into one Int64ObservableCounter
// each (for example goguard.fraud.assessments with an action attribute) and
// reports check latency as a gauge keyed by the "le" bucket bound. A single
// callback reads [goGuard.Engine.MetricsSnapshot] per collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
