package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// RateLimit denies requests that exceed the operation's attempt limits.
func RateLimit(engine *goGuard.Engine, operation string, identify Identify, opts Options) func(http.Handler) http.Handler {
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

			d, err := engine.CheckRateLimit(ctx, operation, sc)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if !d.Allowed {
				tooManyAttempts(w, d)
				return
			}

			ctx = context.WithValue(ctx, rateLimitContextKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tooManyAttempts(w http.ResponseWriter, d goGuard.RateLimitDecision) {
	if d.CooldownUntil == nil {
		// strict-mode store outage
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	secs := int(math.Ceil(time.Until(*d.CooldownUntil).Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	http.Error(w, "too many attempts, retry after "+strconv.Itoa(secs)+"s", http.StatusTooManyRequests)
}
