// Package internal holds goGuard's private building blocks.
//
// # Sub-packages
//
//   - models: decision and context types shared by every component
//   - ratelimit: per-axis attempt limiting and decision merging
//   - fraud: weighted risk scoring
//   - controls: risk tiers to verification requirements
//   - behavior: hour-of-day and rapid-attempt anomaly rules
//   - audit: async dispatch of decision records
//   - metrics: lock-free counters and latency histograms
//
// # What this package must NOT do
//
//   - Export types that appear in the public goGuard API except through
//     aliases declared at the module root.
package internal
