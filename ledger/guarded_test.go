package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubLedger struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (s *stubLedger) wait(ctx context.Context) error {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *stubLedger) Append(ctx context.Context, _ Record) error { return s.wait(ctx) }

func (s *stubLedger) CountSince(ctx context.Context, _ Query) (int, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return 7, nil
}

func (s *stubLedger) TimestampsSince(ctx context.Context, _ Query) ([]time.Time, error) {
	return nil, s.wait(ctx)
}

func (s *stubLedger) FindActiveBlock(ctx context.Context, _ Axis, _, _ string, _ time.Time) (*time.Time, error) {
	return nil, s.wait(ctx)
}

func TestGuardedTimeoutMapsToUnavailable(t *testing.T) {
	inner := &stubLedger{delay: time.Second}
	g := NewGuarded(inner, GuardOptions{Timeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := g.CountSince(context.Background(), Query{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout not enforced, call took %v", time.Since(start))
	}
}

func TestGuardedPassesThroughValues(t *testing.T) {
	g := NewGuarded(&stubLedger{}, GuardOptions{Timeout: time.Second, MaxFailures: 2})
	n, err := g.CountSince(context.Background(), Query{})
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
	until, err := g.FindActiveBlock(context.Background(), AxisUser, "u", "otp", time.Now())
	if err != nil || until != nil {
		t.Fatalf("expected nil block, got %v, %v", until, err)
	}
}

func TestGuardedBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubLedger{err: ErrUnavailable}
	g := NewGuarded(inner, GuardOptions{Name: "test", MaxFailures: 3, OpenFor: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := g.CountSince(context.Background(), Query{}); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}
	if g.State() != "open" {
		t.Fatalf("expected open breaker, got %s", g.State())
	}

	before := inner.calls.Load()
	if _, err := g.CountSince(context.Background(), Query{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from open breaker, got %v", err)
	}
	if inner.calls.Load() != before {
		t.Fatal("open breaker must not call the backend")
	}
}

func TestGuardedInvalidRecordDoesNotTrip(t *testing.T) {
	inner := &stubLedger{err: ErrInvalidRecord}
	g := NewGuarded(inner, GuardOptions{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		if err := g.Append(context.Background(), Record{}); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
	}
	if g.State() != "closed" {
		t.Fatalf("expected closed breaker, got %s", g.State())
	}
}

func TestGuardedNilInner(t *testing.T) {
	var g *Guarded
	if _, err := g.CountSince(context.Background(), Query{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if g.State() != "disabled" {
		t.Fatalf("expected disabled, got %s", g.State())
	}
}
