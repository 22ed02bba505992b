package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	EventRateLimitCheck     = "rate_limit_check"
	EventRateLimitDegraded  = "rate_limit_degraded"
	EventAttemptRecorded    = "attempt_recorded"
	EventSecurityEscalation = "security_escalation"
	EventFraudAssessment    = "fraud_assessment"
	EventSecurityControls   = "security_controls"
	EventAccountLocked      = "account_locked"
)

// Entry is one immutable audit record. Sinks must not modify it.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Operation string            `json:"operation"`
	SubjectID string            `json:"subject_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Allowed   bool              `json:"allowed"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives audit entries. Emit must be safe for concurrent use and
// should not block for long; the dispatcher is the only caller on the
// decision path.
type Sink interface {
	Emit(ctx context.Context, entry Entry)
}

// NoOpSink drops entries.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Entry) {}

// ChannelSink hands entries to a buffered channel, mostly for tests and
// in-process consumers.
type ChannelSink struct {
	entries chan Entry
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{entries: make(chan Entry, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, entry Entry) {
	select {
	case s.entries <- entry:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Entries() <-chan Entry {
	return s.entries
}

// JSONWriterSink writes newline-delimited JSON.
type JSONWriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, entry Entry) {
	if s == nil || s.w == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(data)
}

// MultiSink fans every entry out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, entry Entry) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, entry)
		}
	}
}
