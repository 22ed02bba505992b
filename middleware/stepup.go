package middleware

import (
	"context"
	"net/http"

	goGuard "github.com/MrEthical07/goGuard"
)

// StepUp gates high-value operations on the full evaluation. A rate limit
// deny answers 429, a denied operation 403, and pending controls 401 with
// a generic message. The handler runs only when no control is pending; it
// finds the verdict with VerdictFromContext.
func StepUp(engine *goGuard.Engine, operation string, identify Identify, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			sc, ctx, err := securityContext(engine, r, operation, identify, opts)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}

			v, err := engine.EvaluateOperation(ctx, operation, sc)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}

			switch {
			case !v.RateLimit.Allowed:
				tooManyAttempts(w, v.RateLimit)
				return
			case !v.Allowed:
				http.Error(w, "operation not permitted", http.StatusForbidden)
				return
			case v.ControlsRequired():
				http.Error(w, "additional verification required", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, verdictContextKey{}, v)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
