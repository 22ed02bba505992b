package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// Identify returns the subject and device for a request. Either may be
// empty.
type Identify func(r *http.Request) (subjectID, deviceID string)

// Options tune request inspection.
type Options struct {
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// entry. Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

type rateLimitContextKey struct{}
type verdictContextKey struct{}

// RateLimitFromContext returns the decision stored by RateLimit.
func RateLimitFromContext(ctx context.Context) (goGuard.RateLimitDecision, bool) {
	d, ok := ctx.Value(rateLimitContextKey{}).(goGuard.RateLimitDecision)
	return d, ok
}

// VerdictFromContext returns the verdict stored by StepUp.
func VerdictFromContext(ctx context.Context) (goGuard.OperationVerdict, bool) {
	v, ok := ctx.Value(verdictContextKey{}).(goGuard.OperationVerdict)
	return v, ok
}

// clientIP prefers the forwarded address when trusted, else RemoteAddr.
func clientIP(r *http.Request, opts Options) string {
	if opts.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func securityContext(engine *goGuard.Engine, r *http.Request, operation string, identify Identify, opts Options) (goGuard.SecurityContext, context.Context, error) {
	ctx := goGuard.WithClientIP(r.Context(), clientIP(r, opts))
	ctx = goGuard.WithUserAgent(ctx, r.UserAgent())

	var subjectID, deviceID string
	if identify != nil {
		subjectID, deviceID = identify(r)
	}
	sc, err := engine.NewSecurityContext(ctx, operation, subjectID, deviceID)
	return sc, ctx, err
}
