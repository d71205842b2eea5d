// Package event defines the core's event stream.
//
// Components publish typed events (task transitions, circuit state changes,
// retries, degradation alerts) to a Bus. Consumers either register
// synchronous handlers or subscribe to a buffered channel. Delivery is
// ordered: events for one task fire in causal order relative to that task's
// transitions.
package event
