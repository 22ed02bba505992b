// Package prometheus exposes goGuard engine counters through
// github.com/prometheus/client_golang.
//
// [NewCollector] returns a [Collector] that reads [goGuard.Engine.MetricsSnapshot]
// on every scrape. Counter names are prefixed goguard_*_total; the single
// histogram is goguard_check_latency_seconds.
//
// # What this package must NOT do
//
//   - Register with the global Prometheus registry. Callers register the
//     Collector or mount Handler.
//   - Mutate engine state.
package prometheus
