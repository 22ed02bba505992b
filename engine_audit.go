package goGuard

import (
	"context"
	"strconv"
	"strings"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
)

func (e *Engine) emitAudit(ctx context.Context, event string, sc SecurityContext, allowed bool, reason string, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(ctx, internalaudit.Entry{
		ID:        e.newID(),
		Timestamp: e.now(),
		EventType: event,
		Operation: sc.Operation,
		SubjectID: sc.SubjectID,
		IP:        sc.IPAddress,
		DeviceID:  sc.DeviceID,
		UserAgent: internalaudit.SummarizeUserAgent(sc.UserAgent),
		Allowed:   allowed,
		Reason:    reason,
		Metadata:  metadata,
	})
}

func decisionMetadata(d RateLimitDecision) map[string]string {
	m := map[string]string{
		"remaining_attempts": strconv.Itoa(d.RemainingAttempts),
		"escalation_level":   strconv.Itoa(d.EscalationLevel),
	}
	if d.Axis != "" {
		m["axis"] = string(d.Axis)
	}
	if d.CooldownUntil != nil {
		m["cooldown_until"] = d.CooldownUntil.UTC().Format(timeFormat)
	}
	return m
}

func joinControls(cs []Control) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
