package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter.
type MetricID uint16

const (
	RateLimitChecks MetricID = iota
	RateLimitAllowed
	RateLimitDenied
	RateLimitFailOpen
	RateLimitStrictDenied
	AttemptsRecorded
	AttemptRecordFailures
	Escalations
	FraudAllow
	FraudChallenge
	FraudBlock
	ControlsAllowed
	ControlsDenied
	AccountsLocked
	CheckLatency
	idCount
)

// Count is the number of defined metric IDs.
const Count = int(idCount)

const (
	BucketCount   = 8
	cacheLineSize = 64
)

type histogram struct {
	buckets [BucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics is a fixed set of lock-free counters plus one latency histogram.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// Snapshot is a point-in-time copy.
type Snapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d for histogram metrics. Only CheckLatency is a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != CheckLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := Snapshot{
		Counters:   make(map[MetricID]uint64, Count),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < idCount; id++ {
		if id == CheckLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, BucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[CheckLatency].buckets[i])
		}
		s.Histograms[CheckLatency] = buckets
	}
	return s
}

// Bucket upper bounds: 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
