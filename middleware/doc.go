// Package middleware adapts a goGuard.Engine to net/http.
//
// # Guards
//
//   - [RateLimit] runs CheckRateLimit and answers 429 with Retry-After.
//   - [StepUp] runs EvaluateOperation and answers 401 when the caller must
//     complete additional verification first.
//
// Both derive the SecurityContext from the request (client IP, User-Agent)
// plus a caller-supplied [Identify] function, and store the decision in the
// request context for the handler.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. All decisions are
// delegated to the engine.
//
// # What this package must NOT do
//
//   - Expose scores, reasons or fired rules in responses. Clients only see
//     generic messages.
//   - Record attempt outcomes. Only the handler knows whether the attempt
//     succeeded; it calls Engine.RecordAttempt.
package middleware
