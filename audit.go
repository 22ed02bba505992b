package goGuard

import (
	"io"

	internalaudit "github.com/MrEthical07/goGuard/internal/audit"
)

// AuditEntry is one decision record.
type AuditEntry = internalaudit.Entry

// AuditSink receives audit entries from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// ChannelAuditSink buffers entries on a channel.
type ChannelAuditSink = internalaudit.ChannelSink

// JSONWriterAuditSink writes one JSON object per line.
type JSONWriterAuditSink = internalaudit.JSONWriterSink

// MultiAuditSink fans entries out to several sinks.
type MultiAuditSink = internalaudit.MultiSink

// NoOpAuditSink discards entries.
type NoOpAuditSink = internalaudit.NoOpSink

// Audit event types.
const (
	AuditEventRateLimitCheck     = internalaudit.EventRateLimitCheck
	AuditEventRateLimitDegraded  = internalaudit.EventRateLimitDegraded
	AuditEventAttemptRecorded    = internalaudit.EventAttemptRecorded
	AuditEventSecurityEscalation = internalaudit.EventSecurityEscalation
	AuditEventFraudAssessment    = internalaudit.EventFraudAssessment
	AuditEventSecurityControls   = internalaudit.EventSecurityControls
	AuditEventAccountLocked      = internalaudit.EventAccountLocked
)

// NewChannelAuditSink returns a sink that buffers up to buffer entries.
func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink returns a sink writing JSON lines to w.
func NewJSONWriterAuditSink(w io.Writer) *JSONWriterAuditSink {
	return internalaudit.NewJSONWriterSink(w)
}
