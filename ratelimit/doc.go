// Package ratelimit provides per-key token bucket rate limiting.
//
// Buckets refill continuously from elapsed time, allow bursts up to
// capacity, and answer every check with a remaining count, a reset time,
// and a retry-after hint on denial. A Tiered variant composes several
// named buckets with different capacities. Idle buckets are reclaimed by
// a background sweep to bound memory.
package ratelimit
