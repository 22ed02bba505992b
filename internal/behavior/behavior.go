// Package behavior is the single definition of an anomalous access pattern,
// shared by the fraud scorer and the control arbiter.
package behavior

import (
	"context"
	"math"
	"time"

	"github.com/MrEthical07/goGuard/internal/models"
	"github.com/MrEthical07/goGuard/ledger"
)

const (
	ReasonUnusualHour = "unusual_access_hour"
	ReasonRapid       = "rapid_verification_attempts"
)

// Config tunes the two anomaly rules.
type Config struct {
	// HourDeviation is the circular distance, in hours, between the current
	// hour and the historical mean hour beyond which access is unusual.
	HourDeviation float64
	// History is the lookback for the mean access hour.
	History time.Duration
	// MinHistory is the number of successful accesses required before the
	// hour rule applies.
	MinHistory int
	// RapidWindow and RapidLimit: more than RapidLimit attempts inside
	// RapidWindow is anomalous.
	RapidWindow time.Duration
	RapidLimit  int
	Location    *time.Location
}

// DefaultConfig is six hours against a rolling week, and more than three
// attempts in five minutes.
func DefaultConfig() Config {
	return Config{
		HourDeviation: 6,
		History:       7 * 24 * time.Hour,
		MinHistory:    3,
		RapidWindow:   5 * time.Minute,
		RapidLimit:    3,
		Location:      time.UTC,
	}
}

// Result explains an analysis.
type Result struct {
	Anomalous bool
	Reasons   []string
}

type Analyzer struct {
	store ledger.AttemptLedger
	cfg   Config
	now   func() time.Time
}

// New returns an analyzer reading attempt history from store.
func New(store ledger.AttemptLedger, cfg Config, now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Analyzer{store: store, cfg: cfg, now: now}
}

// Analyze applies both rules to the subject of sc. Contexts without a subject
// are never anomalous.
func (a *Analyzer) Analyze(ctx context.Context, sc models.SecurityContext) (Result, error) {
	var res Result
	if sc.SubjectID == "" {
		return res, nil
	}
	now := a.now()

	history, err := a.store.TimestampsSince(ctx, ledger.Query{
		Axis:      ledger.AxisUser,
		Value:     sc.SubjectID,
		Operation: ledger.AnyOperation,
		Outcome:   ledger.OutcomeSuccess,
		Since:     now.Add(-a.cfg.History),
	})
	if err != nil {
		return Result{}, err
	}
	if len(history) >= a.cfg.MinHistory && len(history) > 0 {
		mean := MeanHour(history, a.cfg.Location)
		if HourDistance(hourOf(now, a.cfg.Location), mean) > a.cfg.HourDeviation {
			res.Reasons = append(res.Reasons, ReasonUnusualHour)
		}
	}

	recent, err := a.store.CountSince(ctx, ledger.Query{
		Axis:      ledger.AxisUser,
		Value:     sc.SubjectID,
		Operation: ledger.AnyOperation,
		Since:     now.Add(-a.cfg.RapidWindow),
	})
	if err != nil {
		return Result{}, err
	}
	if recent > a.cfg.RapidLimit {
		res.Reasons = append(res.Reasons, ReasonRapid)
	}

	res.Anomalous = len(res.Reasons) > 0
	return res, nil
}

func hourOf(t time.Time, loc *time.Location) float64 {
	t = t.In(loc)
	return float64(t.Hour()) + float64(t.Minute())/60
}

// MeanHour is the circular mean of the access hours, so 23:00 and 01:00
// average to midnight rather than noon.
func MeanHour(ts []time.Time, loc *time.Location) float64 {
	var sin, cos float64
	for _, t := range ts {
		angle := hourOf(t, loc) / 24 * 2 * math.Pi
		sin += math.Sin(angle)
		cos += math.Cos(angle)
	}
	mean := math.Atan2(sin, cos) / (2 * math.Pi) * 24
	if mean < 0 {
		mean += 24
	}
	return mean
}

// HourDistance is the distance between two hours on a 24h clock face.
func HourDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 12 {
		d = 24 - d
	}
	return d
}
