// Package dispatch executes single operations against unreliable remote
// endpoints.
//
// A Dispatcher composes the reliability layers in a fixed order: the rate
// limiter is consulted first and denials surface immediately with a
// retry-after hint; the endpoint's circuit breaker is queried next and an
// open circuit short-circuits to the category's fallback strategy; then
// attempts run with exponential backoff until the retry budget is spent.
// Succeeding with explicitly degraded data is a deliberate availability
// trade-off, so results carry both UsedFallback and Degraded markers.
package dispatch
