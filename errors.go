package goGuard

import "errors"

var (
	// ErrStoreUnavailable is returned when the attempt ledger cannot be read
	// or written. Rate limit checks never return it; they degrade instead.
	ErrStoreUnavailable = errors.New("attempt store unavailable")
	// ErrPolicyConfiguration is returned by Build and Validate for invalid
	// configuration.
	ErrPolicyConfiguration = errors.New("invalid policy configuration")
	// ErrInvalidContext is returned when a SecurityContext is missing
	// required fields or carries out-of-range scores.
	ErrInvalidContext = errors.New("invalid security context")
	// ErrBuilderUsed is returned when Build is called twice.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrEngineClosed is returned by Engine methods after Close.
	ErrEngineClosed = errors.New("engine closed")
)
