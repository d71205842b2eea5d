package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned when a key has no tokens available.
var ErrRateLimited = errors.New("ratelimit: rate limit exceeded")

// RateLimitedError carries the retry-after hint for a denied check.
// It unwraps to ErrRateLimited.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("ratelimit: key %q rate limited, retry after %s", e.Key, e.RetryAfter)
}

// Unwrap returns ErrRateLimited so errors.Is matching works.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}
