package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// GuardOptions configures Guarded.
type GuardOptions struct {
	Name string
	// Timeout bounds every backend call. Zero disables the deadline.
	Timeout time.Duration
	// MaxFailures consecutive ErrUnavailable results open the breaker.
	// Zero disables the breaker.
	MaxFailures uint32
	// OpenFor is how long the breaker stays open before probing.
	OpenFor time.Duration
}

// Guarded bounds each call to an inner ledger with a timeout and trips a
// circuit breaker after repeated backend failures. Every failure it returns,
// including an open breaker and an expired deadline, wraps ErrUnavailable.
type Guarded struct {
	inner   AttemptLedger
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps inner.
func NewGuarded(inner AttemptLedger, opts GuardOptions) *Guarded {
	g := &Guarded{inner: inner, timeout: opts.Timeout}
	if opts.MaxFailures == 0 {
		return g
	}
	if opts.Name == "" {
		opts.Name = "attempt-ledger"
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}

	maxFailures := opts.MaxFailures
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 5,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
	})
	return g
}

// State reports the breaker state ("closed", "half-open", "open"), or
// "disabled" when no breaker is configured.
func (g *Guarded) State() string {
	if g == nil || g.breaker == nil {
		return "disabled"
	}
	return g.breaker.State().String()
}

func guard[T any](ctx context.Context, g *Guarded, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil || g.inner == nil {
		return zero, fmt.Errorf("%w: no ledger configured", ErrUnavailable)
	}

	call := func() (T, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err != nil && !errors.Is(err, ErrUnavailable) &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return v, err
	}

	if g.breaker == nil {
		return call()
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: breaker (%s): %v", ErrUnavailable, g.breaker.Name(), err)
		}
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

func (g *Guarded) Append(ctx context.Context, rec Record) error {
	_, err := guard(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.Append(ctx, rec)
	})
	return err
}

func (g *Guarded) CountSince(ctx context.Context, q Query) (int, error) {
	return guard(ctx, g, func(ctx context.Context) (int, error) {
		return g.inner.CountSince(ctx, q)
	})
}

func (g *Guarded) TimestampsSince(ctx context.Context, q Query) ([]time.Time, error) {
	return guard(ctx, g, func(ctx context.Context) ([]time.Time, error) {
		return g.inner.TimestampsSince(ctx, q)
	})
}

func (g *Guarded) FindActiveBlock(ctx context.Context, axis Axis, value, operation string, now time.Time) (*time.Time, error) {
	return guard(ctx, g, func(ctx context.Context) (*time.Time, error) {
		return g.inner.FindActiveBlock(ctx, axis, value, operation, now)
	})
}
