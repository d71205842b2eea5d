package endpoint

import "errors"

// ErrCircuitOpen is returned when an endpoint's circuit is open and a
// dispatch must be short-circuited to its fallback.
var ErrCircuitOpen = errors.New("endpoint: circuit breaker is open")
