package goGuard

import (
	"context"

	"go.uber.org/zap"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx for
// NewSecurityContext.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the raw User-Agent header to ctx. Audit entries
// carry only a device and browser summary of it.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

// NewSecurityContext builds a SecurityContext from the values attached with
// WithClientIP and WithUserAgent, filling device signals from the configured
// device adjuster.
//
// Without an adjuster, or without deviceID, the device is treated as known
// and fully trusted. When the adjuster fails the device is treated as new
// with neutral trust 0.5 and the failure is logged.
func (e *Engine) NewSecurityContext(ctx context.Context, operation, subjectID, deviceID string) (SecurityContext, error) {
	sc := SecurityContext{
		SubjectID:        subjectID,
		IPAddress:        clientIPFromContext(ctx),
		DeviceID:         deviceID,
		UserAgent:        userAgentFromContext(ctx),
		Operation:        operation,
		DeviceTrustScore: 1,
	}

	if deviceID != "" && e != nil && e.devices != nil {
		lookupCtx := ctx
		if e.config.Store.Timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, e.config.Store.Timeout)
			defer cancel()
		}
		isNew, err := e.devices.IsNewDevice(lookupCtx, deviceID)
		if err == nil {
			var trust float64
			trust, err = e.devices.TrustScore(lookupCtx, deviceID)
			sc.IsNewDevice, sc.DeviceTrustScore = isNew, trust
		}
		if err != nil {
			e.logger.Warn("device signals unavailable",
				zap.String("operation", operation),
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
			sc.IsNewDevice, sc.DeviceTrustScore = true, 0.5
		}
	}

	if err := e.validateContext("", &sc); err != nil {
		return SecurityContext{}, err
	}
	return sc, nil
}
