package endpoint

import (
	"encoding/json"
	"time"
)

// Status represents the health status of an endpoint.
type Status int

const (
	// StatusHealthy indicates the endpoint is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates recent failures below the unhealthy threshold.
	StatusDegraded
	// StatusUnhealthy indicates sustained consecutive failures.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string form.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CircuitState represents the circuit breaker state for an endpoint.
type CircuitState int

const (
	// CircuitClosed means operations are attempted normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen means operations are short-circuited to fallback.
	CircuitOpen
	// CircuitHalfOpen means a single trial operation is admitted.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the circuit state as its string form.
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Health is a point-in-time snapshot of one endpoint's tracked state.
type Health struct {
	// Status is derived from the consecutive failure count:
	// 0 failures is healthy, 1-2 degraded, 3 or more unhealthy.
	Status Status `json:"status"`

	// ConsecutiveFailures is the current run of failures without a success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// SuccessRate is a rolling success percentage in [0, 100].
	SuccessRate float64 `json:"success_rate"`

	// AvgLatency is a rolling average of successful operation latency.
	AvgLatency time.Duration `json:"avg_latency_ns"`

	// CircuitOpen reports whether dispatch is currently short-circuited.
	CircuitOpen bool `json:"circuit_open"`

	// CircuitState is the full breaker state, including half-open.
	CircuitState CircuitState `json:"circuit_state"`

	// LastCheck is when the endpoint was last dispatched to.
	LastCheck time.Time `json:"last_check"`
}

// statusFor derives status from a consecutive failure count.
func statusFor(failures int) Status {
	switch {
	case failures == 0:
		return StatusHealthy
	case failures < 3:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
