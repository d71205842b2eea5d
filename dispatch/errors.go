package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for dispatch operations.
var (
	// ErrRetriesExhausted is returned when every attempt allowed by the
	// policy has failed.
	ErrRetriesExhausted = errors.New("dispatch: retries exhausted")

	// ErrTimeout is returned when a single attempt exceeds the policy
	// timeout.
	ErrTimeout = errors.New("dispatch: operation timed out")

	// ErrNoFallback is returned when a degraded path is needed but the
	// endpoint's category has no registered fallback strategy.
	ErrNoFallback = errors.New("dispatch: no fallback for category")
)

// nonRetryableError marks an operation error that must bypass retries,
// such as an authentication failure.
type nonRetryableError struct {
	err error
}

// NonRetryable wraps err so the dispatcher will not retry it.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}

func (e *nonRetryableError) Error() string {
	return fmt.Sprintf("dispatch: non-retryable: %v", e.err)
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}
