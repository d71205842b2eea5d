// Package endpoint tracks per-endpoint health and circuit breaker state.
//
// A Tracker owns one record per endpoint key: a derived health status,
// consecutive failure count, rolling success rate and latency, and a
// three-state circuit breaker (closed, open, half-open). Failures on one
// endpoint never affect another's breaker. The dispatcher queries Allow
// before invoking an operation and records every outcome.
package endpoint
