package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type subjectKey struct {
	axis  Axis
	value string
}

// Memory is an in-process AttemptLedger. Records are never evicted.
type Memory struct {
	mu       sync.RWMutex
	attempts map[subjectKey][]Record
	blocks   map[subjectKey][]Record
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{
		attempts: make(map[subjectKey][]Record),
		blocks:   make(map[subjectKey][]Record),
	}
}

func (m *Memory) Append(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.BlockedUntil != nil {
		until := *rec.BlockedUntil
		rec.BlockedUntil = &until
	}

	key := subjectKey{axis: rec.Axis, value: rec.AxisValue}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.IsBlock() {
		m.blocks[key] = append(m.blocks[key], rec)
		return nil
	}
	m.attempts[key] = append(m.attempts[key], rec)
	return nil
}

func (m *Memory) CountSince(_ context.Context, q Query) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.attempts[subjectKey{axis: q.Axis, value: q.Value}] {
		if q.matches(rec) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) TimestampsSince(_ context.Context, q Query) ([]time.Time, error) {
	m.mu.RLock()
	var out []time.Time
	for _, rec := range m.attempts[subjectKey{axis: q.Axis, value: q.Value}] {
		if q.matches(rec) {
			out = append(out, rec.Timestamp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *Memory) FindActiveBlock(_ context.Context, axis Axis, value, operation string, now time.Time) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *time.Time
	for _, rec := range m.blocks[subjectKey{axis: axis, value: value}] {
		if rec.Operation != operation && rec.Operation != AnyOperation {
			continue
		}
		if !rec.BlockedUntil.After(now) {
			continue
		}
		if latest == nil || rec.BlockedUntil.After(*latest) {
			until := *rec.BlockedUntil
			latest = &until
		}
	}
	return latest, nil
}

// Len returns the number of stored records, block markers included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, recs := range m.attempts {
		n += len(recs)
	}
	for _, recs := range m.blocks {
		n += len(recs)
	}
	return n
}
