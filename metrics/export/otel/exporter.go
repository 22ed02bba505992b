package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
}

// point maps one engine counter to an attribute set on an instrument.
type point struct {
	id    goGuard.MetricID
	attrs []attribute.KeyValue
}

type family struct {
	name   string
	desc   string
	points []point
}

func outcome(v string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("outcome", v)}
}

// families groups related engine counters under one instrument each.
var families = []family{
	{name: "goguard.rate_limit.checks", desc: "Rate limit checks evaluated.", points: []point{
		{id: goGuard.MetricRateLimitChecks},
	}},
	{name: "goguard.rate_limit.decisions", desc: "Rate limit decisions by outcome.", points: []point{
		{id: goGuard.MetricRateLimitAllowed, attrs: outcome("allowed")},
		{id: goGuard.MetricRateLimitDenied, attrs: outcome("denied")},
	}},
	{name: "goguard.rate_limit.degraded", desc: "Checks answered without the attempt store.", points: []point{
		{id: goGuard.MetricRateLimitFailOpen, attrs: outcome("fail_open")},
		{id: goGuard.MetricRateLimitStrictDenied, attrs: outcome("strict_denied")},
	}},
	{name: "goguard.attempts", desc: "Attempt outcomes by persistence result.", points: []point{
		{id: goGuard.MetricAttemptsRecorded, attrs: outcome("recorded")},
		{id: goGuard.MetricAttemptRecordFailures, attrs: outcome("failed")},
	}},
	{name: "goguard.escalations", desc: "Failures that reached escalation level 2 or higher.", points: []point{
		{id: goGuard.MetricEscalations},
	}},
	{name: "goguard.fraud.assessments", desc: "Fraud assessments by recommended action.", points: []point{
		{id: goGuard.MetricFraudAllow, attrs: []attribute.KeyValue{attribute.String("action", "allow")}},
		{id: goGuard.MetricFraudChallenge, attrs: []attribute.KeyValue{attribute.String("action", "challenge")}},
		{id: goGuard.MetricFraudBlock, attrs: []attribute.KeyValue{attribute.String("action", "block")}},
	}},
	{name: "goguard.controls.decisions", desc: "Security control decisions by outcome.", points: []point{
		{id: goGuard.MetricControlsAllowed, attrs: outcome("allowed")},
		{id: goGuard.MetricControlsDenied, attrs: outcome("denied")},
	}},
	{name: "goguard.locks", desc: "Subjects or IPs locked after a fraud or reputation verdict.", points: []point{
		{id: goGuard.MetricAccountsLocked},
	}},
}

type boundCounter struct {
	id   goGuard.MetricID
	ins  metric.Int64ObservableCounter
	opts []metric.ObserveOption
}

// Exporter publishes engine counters as observable OTel instruments, with
// related counters folded into one instrument keyed by attribute.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []boundCounter
	buckets      metric.Int64ObservableGauge
	bucketOpts   [8][]metric.ObserveOption
	count        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *goGuard.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(families)+3)

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithDescription(f.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", f.name, err)
		}
		observables = append(observables, ins)
		for _, p := range f.points {
			var opts []metric.ObserveOption
			if len(p.attrs) > 0 {
				opts = append(opts, metric.WithAttributeSet(attribute.NewSet(p.attrs...)))
			}
			e.counters = append(e.counters, boundCounter{id: p.id, ins: ins, opts: opts})
		}
	}

	var err error
	e.buckets, err = meter.Int64ObservableGauge("goguard.check.latency.bucket",
		metric.WithDescription("Cumulative rate limit check latency count per upper bound (le, seconds)."))
	if err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	for i := range e.bucketOpts {
		le := "+Inf"
		if i < len(internaldefs.HistogramUpperBounds) {
			le = strconv.FormatFloat(internaldefs.HistogramUpperBounds[i], 'f', -1, 64)
		}
		e.bucketOpts[i] = []metric.ObserveOption{metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))}
	}
	e.count, err = meter.Int64ObservableGauge("goguard.check.latency.count",
		metric.WithDescription("Rate limit checks with a recorded latency."))
	if err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	e.auditDropped, err = meter.Int64ObservableCounter("goguard.audit.dropped",
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.buckets, e.count, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.ins, int64(snapshot.Counters[c.id]), c.opts...)
	}

	// latency is absent when histograms are disabled
	if raw, ok := snapshot.Histograms[goGuard.MetricCheckLatency]; ok {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, v := range cumulative {
			o.ObserveInt64(e.buckets, int64(v), e.bucketOpts[i]...)
		}
		o.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]))
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The instruments stay with the meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
