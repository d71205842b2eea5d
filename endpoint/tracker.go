package endpoint

import (
	"sort"
	"sync"
	"time"
)

// Config configures a Tracker.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit. Default: 5
	FailureThreshold int

	// Cooldown is how long an open circuit waits before admitting a
	// half-open trial. Default: 30 seconds
	Cooldown time.Duration

	// LatencyWeight is the weight given to the previous rolling latency
	// when folding in a new sample. Default: 0.9
	LatencyWeight float64

	// SuccessWeight is the weight given to the previous rolling success
	// rate when folding in a new outcome. Default: 0.95
	SuccessWeight float64

	// OnStateChange is called when an endpoint's circuit changes state.
	// The Health snapshot reflects the state after the transition.
	OnStateChange func(key string, from, to CircuitState, h Health)

	// OnHealthChange is called when an endpoint's status changes.
	OnHealthChange func(key string, from, to Status, h Health)
}

// Tracker tracks health and circuit state for a set of endpoints.
//
// Each endpoint key has fully independent state guarded by its own lock;
// the tracker-level lock only protects the key map, so dispatches to
// different endpoints never serialize on each other.
type Tracker struct {
	config Config

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex

	circuit     CircuitState
	failures    int
	successRate float64
	avgLatency  time.Duration
	lastFailure time.Time
	lastCheck   time.Time
	probing     bool
}

// NewTracker creates a tracker. Keys named here are registered immediately
// with healthy defaults; unknown keys are registered lazily on first use.
func NewTracker(config Config, keys ...string) *Tracker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.LatencyWeight <= 0 || config.LatencyWeight >= 1 {
		config.LatencyWeight = 0.9
	}
	if config.SuccessWeight <= 0 || config.SuccessWeight >= 1 {
		config.SuccessWeight = 0.95
	}

	t := &Tracker{
		config:  config,
		entries: make(map[string]*entry),
	}
	for _, k := range keys {
		t.entries[k] = newEntry()
	}
	return t
}

func newEntry() *entry {
	return &entry{circuit: CircuitClosed, successRate: 100}
}

func (t *Tracker) entryFor(key string) *entry {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; ok {
		return e
	}
	e = newEntry()
	t.entries[key] = e
	return e
}

// Allow reports whether a dispatch to the endpoint may proceed.
//
// A closed circuit always admits. An open circuit rejects with
// ErrCircuitOpen until the cooldown elapses, after which one trial is
// admitted in half-open state; further calls are rejected until the trial
// outcome is recorded. The trial counts against the caller's normal
// concurrency budget.
func (t *Tracker) Allow(key string) error {
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.circuit {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(e.lastFailure) < t.config.Cooldown {
			return ErrCircuitOpen
		}
		t.transitionLocked(key, e, CircuitHalfOpen)
		e.probing = true
		return nil
	case CircuitHalfOpen:
		if e.probing {
			return ErrCircuitOpen
		}
		e.probing = true
		return nil
	}
	return nil
}

// RecordSuccess records a successful dispatch and its latency. It resets
// the consecutive failure count, closes the circuit, and folds the sample
// into the rolling latency and success rate.
func (t *Tracker) RecordSuccess(key string, latency time.Duration) {
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	oldStatus := statusFor(e.failures)

	e.failures = 0
	e.lastCheck = time.Now()
	e.probing = false
	e.successRate = t.config.SuccessWeight*e.successRate + (1-t.config.SuccessWeight)*100
	if e.avgLatency == 0 {
		e.avgLatency = latency
	} else {
		w := t.config.LatencyWeight
		e.avgLatency = time.Duration(w*float64(e.avgLatency) + (1-w)*float64(latency))
	}

	if e.circuit != CircuitClosed {
		t.transitionLocked(key, e, CircuitClosed)
	}
	t.healthChangedLocked(key, e, oldStatus)
}

// RecordFailure records a failed dispatch. It increments the consecutive
// failure count, opens the circuit at the failure threshold, and reopens
// immediately when a half-open trial fails.
func (t *Tracker) RecordFailure(key string) {
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	oldStatus := statusFor(e.failures)

	e.failures++
	e.lastFailure = time.Now()
	e.lastCheck = e.lastFailure
	e.probing = false
	e.successRate = t.config.SuccessWeight * e.successRate

	switch e.circuit {
	case CircuitClosed:
		if e.failures >= t.config.FailureThreshold {
			t.transitionLocked(key, e, CircuitOpen)
		}
	case CircuitHalfOpen:
		// Failed trial: back to open without requiring the full threshold.
		t.transitionLocked(key, e, CircuitOpen)
	}
	t.healthChangedLocked(key, e, oldStatus)
}

// CloseCircuit manually closes the endpoint's circuit and resets its
// failure count.
func (t *Tracker) CloseCircuit(key string) {
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	oldStatus := statusFor(e.failures)
	e.failures = 0
	e.probing = false
	if e.circuit != CircuitClosed {
		t.transitionLocked(key, e, CircuitClosed)
	}
	t.healthChangedLocked(key, e, oldStatus)
}

// OpenCircuit manually opens the endpoint's circuit.
func (t *Tracker) OpenCircuit(key string) {
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastFailure = time.Now()
	if e.circuit != CircuitOpen {
		t.transitionLocked(key, e, CircuitOpen)
	}
}

// HealthOf returns the current health snapshot for the endpoint.
func (t *Tracker) HealthOf(key string) Health {
	e := t.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthLocked()
}

// Snapshot returns health for every known endpoint.
func (t *Tracker) Snapshot() map[string]Health {
	t.mu.RLock()
	keys := make([]string, 0, len(t.entries))
	entries := make([]*entry, 0, len(t.entries))
	for k, e := range t.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make(map[string]Health, len(keys))
	for i, e := range entries {
		e.mu.Lock()
		out[keys[i]] = e.healthLocked()
		e.mu.Unlock()
	}
	return out
}

// Keys returns all known endpoint keys in sorted order.
func (t *Tracker) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *entry) healthLocked() Health {
	return Health{
		Status:              statusFor(e.failures),
		ConsecutiveFailures: e.failures,
		SuccessRate:         e.successRate,
		AvgLatency:          e.avgLatency,
		CircuitOpen:         e.circuit == CircuitOpen,
		CircuitState:        e.circuit,
		LastCheck:           e.lastCheck,
	}
}

// transitionLocked changes the circuit state and fires OnStateChange.
// Caller holds e.mu.
func (t *Tracker) transitionLocked(key string, e *entry, to CircuitState) {
	from := e.circuit
	if from == to {
		return
	}
	e.circuit = to
	if to == CircuitHalfOpen {
		e.probing = false
	}
	if t.config.OnStateChange != nil {
		t.config.OnStateChange(key, from, to, e.healthLocked())
	}
}

// healthChangedLocked fires OnHealthChange if the derived status moved.
// Caller holds e.mu.
func (t *Tracker) healthChangedLocked(key string, e *entry, from Status) {
	to := statusFor(e.failures)
	if from == to || t.config.OnHealthChange == nil {
		return
	}
	t.config.OnHealthChange(key, from, to, e.healthLocked())
}
