package fraud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/goGuard/internal/behavior"
	"github.com/MrEthical07/goGuard/internal/models"
	"github.com/MrEthical07/goGuard/ledger"
	"github.com/MrEthical07/goGuard/reputation"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testNow = time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type downLedger struct{}

func (downLedger) Append(context.Context, ledger.Record) error {
	return fmt.Errorf("%w: down", ledger.ErrUnavailable)
}

func (downLedger) CountSince(context.Context, ledger.Query) (int, error) {
	return 0, fmt.Errorf("%w: down", ledger.ErrUnavailable)
}

func (downLedger) TimestampsSince(context.Context, ledger.Query) ([]time.Time, error) {
	return nil, fmt.Errorf("%w: down", ledger.ErrUnavailable)
}

func (downLedger) FindActiveBlock(context.Context, ledger.Axis, string, string, time.Time) (*time.Time, error) {
	return nil, fmt.Errorf("%w: down", ledger.ErrUnavailable)
}

func newScorer(t *testing.T, store ledger.AttemptLedger, logger *zap.Logger) *Scorer {
	t.Helper()
	rep, err := reputation.NewCIDRList([]string{"172.16.0.0/12"}, []string{"203.0.113.66"})
	if err != nil {
		t.Fatalf("NewCIDRList failed: %v", err)
	}
	analyzer := behavior.New(store, behavior.DefaultConfig(), clock)
	return NewScorer(store, rep, analyzer, DefaultConfig(), clock, logger)
}

func failures(t *testing.T, store ledger.AttemptLedger, subject, ip string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		at := testNow.Add(-time.Duration(i) * 30 * time.Second)
		for _, rec := range []ledger.Record{
			{Axis: ledger.AxisUser, AxisValue: subject},
			{Axis: ledger.AxisIP, AxisValue: ip},
		} {
			rec.ID = uuid.NewString()
			rec.Operation = "otp"
			rec.Timestamp = at
			rec.Outcome = ledger.OutcomeFailure
			if err := store.Append(context.Background(), rec); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}
	}
}

func TestActionBoundaries(t *testing.T) {
	cases := map[float64]models.Action{
		0:          models.ActionAllow,
		0.5:        models.ActionAllow,
		0.5000001:  models.ActionChallenge,
		0.8:        models.ActionChallenge,
		0.80000001: models.ActionBlock,
		1:          models.ActionBlock,
	}
	for score, want := range cases {
		if got := models.ActionFor(score); got != want {
			t.Fatalf("ActionFor(%v): expected %s, got %s", score, want, got)
		}
	}
}

func TestCleanContextScoresZero(t *testing.T) {
	s := newScorer(t, ledger.NewMemory(), nil)
	a := s.Score(context.Background(), models.SecurityContext{
		SubjectID: "u1", IPAddress: "198.51.100.1", DeviceID: "d1", DeviceTrustScore: 0.9, Operation: "otp",
	})
	if a.FraudScore != 0 || a.RecommendedAction != models.ActionAllow || len(a.RiskFactors) != 0 {
		t.Fatalf("unexpected assessment %+v", a)
	}
	if len(a.Signals) != 4 {
		t.Fatalf("expected 4 signals, got %d", len(a.Signals))
	}
}

func TestAllSignalsMaximalStaysWithinBounds(t *testing.T) {
	store := ledger.NewMemory()
	failures(t, store, "u1", "203.0.113.66", 8)

	s := newScorer(t, store, nil)
	a := s.Score(context.Background(), models.SecurityContext{
		SubjectID:        "u1",
		IPAddress:        "203.0.113.66",
		DeviceID:         "d1",
		IsNewDevice:      true,
		DeviceTrustScore: 0.1,
		Operation:        "otp",
	})

	if a.FraudScore < 0 || a.FraudScore > 1 {
		t.Fatalf("score out of bounds: %v", a.FraudScore)
	}
	if a.FraudScore != 1 {
		t.Fatalf("expected saturated score 1, got %v", a.FraudScore)
	}
	if a.RecommendedAction != models.ActionBlock {
		t.Fatalf("expected block, got %s", a.RecommendedAction)
	}
	for _, sig := range a.Signals {
		if sig.Score > sig.Weight {
			t.Fatalf("signal %s exceeds its weight: %v > %v", sig.Source, sig.Score, sig.Weight)
		}
	}
	if a.Signals[0].Score != WeightIP {
		t.Fatalf("expected ip signal capped at %v, got %v", WeightIP, a.Signals[0].Score)
	}

	want := []string{
		ReasonIPElevatedFailures, ReasonIPMalicious, ReasonNewDevice, ReasonLowDeviceTrust,
		ReasonBehavioralAnomaly, behavior.ReasonRapid, ReasonHighVelocity,
	}
	if len(a.RiskFactors) != len(want) {
		t.Fatalf("expected risk factors %v, got %v", want, a.RiskFactors)
	}
	for i := range want {
		if a.RiskFactors[i] != want[i] {
			t.Fatalf("expected risk factors %v, got %v", want, a.RiskFactors)
		}
	}
}

func TestHighRiskIPWithNewDevice(t *testing.T) {
	s := newScorer(t, ledger.NewMemory(), nil)
	a := s.Score(context.Background(), models.SecurityContext{
		SubjectID: "u1", IPAddress: "172.20.1.1", DeviceID: "d1", IsNewDevice: true, DeviceTrustScore: 0.5,
	})
	if a.FraudScore != 0.4 {
		t.Fatalf("expected 0.4, got %v", a.FraudScore)
	}
	if a.RecommendedAction != models.ActionAllow {
		t.Fatalf("expected allow, got %s", a.RecommendedAction)
	}
}

func TestElevatedFailuresPlusHighRiskIsExactlyHalf(t *testing.T) {
	store := ledger.NewMemory()
	failures(t, store, "other", "172.20.1.1", 5)

	s := newScorer(t, store, nil)
	a := s.Score(context.Background(), models.SecurityContext{SubjectID: "u1", IPAddress: "172.20.1.1"})
	if a.FraudScore != 0.5 {
		t.Fatalf("expected 0.5, got %v", a.FraudScore)
	}
	if a.RecommendedAction != models.ActionAllow {
		t.Fatalf("0.5 must not challenge, got %s", a.RecommendedAction)
	}
}

func TestFailedSignalsContributeZero(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := newScorer(t, downLedger{}, zap.New(core))

	a := s.Score(context.Background(), models.SecurityContext{
		SubjectID: "u1", IPAddress: "203.0.113.66", DeviceID: "d1", IsNewDevice: true, DeviceTrustScore: 0.9,
	})
	// reputation (0.5) and the new device (0.1) survive the ledger outage
	if a.FraudScore != 0.6 {
		t.Fatalf("expected reputation plus device (0.6), got %v", a.FraudScore)
	}
	for _, f := range a.RiskFactors {
		if f == ReasonIPElevatedFailures {
			t.Fatalf("failure count must not contribute when the ledger is down: %v", a.RiskFactors)
		}
	}
	if got := logs.FilterMessage("fraud signal unavailable").Len(); got != 3 {
		t.Fatalf("expected 3 warnings, got %d", got)
	}
}

type downReputation struct{}

func (downReputation) Lookup(context.Context, string) (reputation.Level, error) {
	return reputation.LevelNone, errors.New("reputation feed timeout")
}

func TestReputationOutageKeepsFailureCount(t *testing.T) {
	store := ledger.NewMemory()
	failures(t, store, "u9", "198.51.100.4", 6)

	core, logs := observer.New(zapcore.WarnLevel)
	s := NewScorer(store, downReputation{}, nil, DefaultConfig(), clock, zap.New(core))

	a := s.Score(context.Background(), models.SecurityContext{IPAddress: "198.51.100.4", DeviceTrustScore: 1})
	if a.FraudScore < 0.2 {
		t.Fatalf("expected the elevated failure part to survive, got %v (%v)", a.FraudScore, a.RiskFactors)
	}
	found := false
	for _, f := range a.RiskFactors {
		found = found || f == ReasonIPElevatedFailures
	}
	if !found {
		t.Fatalf("expected %s in %v", ReasonIPElevatedFailures, a.RiskFactors)
	}
	warn := logs.FilterMessage("fraud signal unavailable").FilterField(zap.String("part", "reputation"))
	if warn.Len() != 1 {
		t.Fatalf("expected one reputation warning, got %d", warn.Len())
	}
}
