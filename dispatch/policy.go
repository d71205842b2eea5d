package dispatch

import (
	"math"
	"time"
)

// Policy controls retry and timeout behavior for one dispatch.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Set to -1 to disable retries entirely.
	// Default: 3
	MaxRetries int `json:"max_retries"`

	// BaseDelay is the backoff delay after the first failed attempt.
	// Default: 100ms
	BaseDelay time.Duration `json:"base_delay_ns"`

	// MaxDelay caps the backoff delay.
	// Default: 30 seconds
	MaxDelay time.Duration `json:"max_delay_ns"`

	// Multiplier grows the delay each attempt.
	// Default: 2.0
	Multiplier float64 `json:"multiplier"`

	// Timeout bounds each individual attempt.
	// Default: 30 seconds
	Timeout time.Duration `json:"timeout_ns"`

	// NoRetryOnTimeout stops retrying once an attempt times out, going
	// straight to the fallback path. A timed-out attempt still counts as
	// a failure for the endpoint's breaker either way.
	NoRetryOnTimeout bool `json:"no_retry_on_timeout"`

	// RetryIf decides whether an error is worth retrying.
	// Default: every error except those marked NonRetryable.
	RetryIf func(err error) bool `json:"-"`
}

// withDefaults returns the policy with zero fields filled in.
func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	} else if p.MaxRetries == 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.RetryIf == nil {
		p.RetryIf = func(err error) bool { return !IsNonRetryable(err) }
	}
	return p
}

// delayFor returns the backoff delay after the given zero-based failed
// attempt: min(BaseDelay * Multiplier^attempt, MaxDelay).
func (p Policy) delayFor(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}
