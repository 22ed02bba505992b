package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Axis names the identity dimension an attempt is counted against.
type Axis string

const (
	AxisUser   Axis = "user"
	AxisIP     Axis = "ip"
	AxisDevice Axis = "device"
)

// Valid reports whether a is one of the known axes.
func (a Axis) Valid() bool {
	switch a {
	case AxisUser, AxisIP, AxisDevice:
		return true
	default:
		return false
	}
}

// Outcome is the result of a recorded attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AnyOperation matches every operation in queries and scopes a block to all
// operations when used as a Record's Operation.
const AnyOperation = "*"

var (
	// ErrUnavailable wraps backend failures (network, timeout, open breaker).
	ErrUnavailable = errors.New("attempt ledger unavailable")
	// ErrInvalidRecord is returned by Append for malformed records.
	ErrInvalidRecord = errors.New("invalid attempt record")
)

// Record is one immutable attempt event. A record with BlockedUntil set is a
// block marker: it is never counted as an attempt and only consulted by
// FindActiveBlock.
type Record struct {
	ID           string
	Axis         Axis
	AxisValue    string
	Operation    string
	Timestamp    time.Time
	Outcome      Outcome
	BlockedUntil *time.Time
}

// IsBlock reports whether r is a block marker.
func (r Record) IsBlock() bool {
	return r.BlockedUntil != nil
}

// Validate checks the fields every backend relies on.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case !r.Axis.Valid():
		return fmt.Errorf("%w: unknown axis %q", ErrInvalidRecord, r.Axis)
	case r.AxisValue == "":
		return fmt.Errorf("%w: empty axis value", ErrInvalidRecord)
	case r.Operation == "":
		return fmt.Errorf("%w: empty operation", ErrInvalidRecord)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: zero timestamp", ErrInvalidRecord)
	case r.Outcome != OutcomeSuccess && r.Outcome != OutcomeFailure:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRecord, r.Outcome)
	case r.BlockedUntil != nil && !r.BlockedUntil.After(r.Timestamp):
		return fmt.Errorf("%w: block ends before it starts", ErrInvalidRecord)
	}
	return nil
}

// Query selects attempt records (never block markers) on one axis value.
// Operation AnyOperation spans all operations; an empty Outcome matches both.
type Query struct {
	Axis      Axis
	Value     string
	Operation string
	Outcome   Outcome
	Since     time.Time
}

func (q Query) matches(r Record) bool {
	if r.IsBlock() || r.Axis != q.Axis || r.AxisValue != q.Value {
		return false
	}
	if q.Operation != AnyOperation && r.Operation != q.Operation {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	return !r.Timestamp.Before(q.Since)
}

// AttemptLedger is the append-only source of truth for windowed counts and
// active blocks. There is deliberately no update or delete.
type AttemptLedger interface {
	Append(ctx context.Context, rec Record) error
	CountSince(ctx context.Context, q Query) (int, error)
	TimestampsSince(ctx context.Context, q Query) ([]time.Time, error)
	// FindActiveBlock returns the latest BlockedUntil after now among blocks
	// scoped to operation or to AnyOperation, or nil when none is active.
	FindActiveBlock(ctx context.Context, axis Axis, value, operation string, now time.Time) (*time.Time, error)
}
