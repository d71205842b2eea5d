package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/toolflow/endpoint"
	"github.com/jonwraymond/toolflow/event"
	"github.com/jonwraymond/toolflow/observe"
	"github.com/jonwraymond/toolflow/ratelimit"
)

// Operation is one asynchronous unit of work against an endpoint.
// Implementations must honor ctx cancellation at their checkpoints.
type Operation func(ctx context.Context) ([]byte, error)

// Result is the outcome of one dispatch.
type Result struct {
	// Success reports whether a payload was produced, including via a
	// degraded fallback path.
	Success bool `json:"success"`

	// Payload is the operation or fallback output.
	Payload []byte `json:"payload,omitempty"`

	// Err is the final error when Success is false, or the cause that
	// forced a degraded result.
	Err error `json:"-"`

	// Latency is the total wall time of the dispatch.
	Latency time.Duration `json:"latency_ns"`

	// RetriesUsed is how many retries were consumed before the final
	// outcome.
	RetriesUsed int `json:"retries_used"`

	// UsedFallback reports whether a fallback strategy produced the
	// payload.
	UsedFallback bool `json:"used_fallback"`

	// Degraded marks a successful result whose payload is a substitute
	// rather than live data.
	Degraded bool `json:"degraded"`
}

// Config configures a Dispatcher.
type Config struct {
	// Tracker records per-endpoint health and gates dispatch through the
	// circuit breaker. Required.
	Tracker *endpoint.Tracker

	// Limiter guards call volume per endpoint key. Optional.
	Limiter *ratelimit.Limiter

	// Fallbacks maps endpoint category to its degraded strategy.
	Fallbacks map[string]Strategy

	// Cache receives every successful payload so cached fallbacks can
	// serve it later. Optional.
	Cache *ResultCache

	// Events receives retry_attempted and degradation_alert events.
	// Optional.
	Events *event.Bus

	// Logger defaults to a no-op logger.
	Logger observe.Logger

	// Metrics defaults to no-op metrics.
	Metrics observe.Metrics

	// HistorySize bounds the recent-result buffer kept for reporting.
	// Default: 100
	HistorySize int
}

// Dispatcher executes operations against endpoints with retry, backoff,
// circuit breaking, rate limiting, and category fallbacks.
type Dispatcher struct {
	config Config

	mu         sync.Mutex
	history    []Result
	nextSlot   int
	total      int64
	failures   int64
	fallbacks  int64
	retries    int64
	latencySum time.Duration
}

// Stats summarizes dispatcher activity since creation.
type Stats struct {
	Total      int64         `json:"total"`
	Failures   int64         `json:"failures"`
	Fallbacks  int64         `json:"fallbacks"`
	Retries    int64         `json:"retries"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
}

// New creates a dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Tracker == nil {
		return nil, errors.New("dispatch: config requires a Tracker")
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics{}
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}

	return &Dispatcher{
		config:  config,
		history: make([]Result, 0, config.HistorySize),
	}, nil
}

// Execute runs op against the endpoint identified by key.
//
// The rate limiter is consulted first and a denial surfaces immediately
// with a retry-after hint. An open circuit goes straight to the category
// fallback. Otherwise attempts proceed with exponential backoff between
// failures until the policy's retry budget is spent, a non-retryable
// error occurs, or ctx is cancelled.
func (d *Dispatcher) Execute(ctx context.Context, key, category string, op Operation, policy Policy) Result {
	policy = policy.withDefaults()
	start := time.Now()

	if d.config.Limiter != nil {
		if dec := d.config.Limiter.Check(key); !dec.Allowed {
			res := Result{
				Err:     &ratelimit.RateLimitedError{Key: key, RetryAfter: dec.RetryAfter},
				Latency: time.Since(start),
			}
			d.record(ctx, key, category, res)
			return res
		}
	}

	if err := d.config.Tracker.Allow(key); err != nil {
		d.config.Logger.Warn(ctx, "circuit open, using fallback", observe.F("endpoint.key", key))
		res := d.fallback(ctx, key, category, err, 0, start)
		d.record(ctx, key, category, res)
		return res
	}

	var lastErr error
	retriesUsed := 0
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		retriesUsed = attempt
		attemptStart := time.Now()
		payload, err := d.attempt(ctx, op, policy.Timeout)

		if err == nil {
			latency := time.Since(attemptStart)
			d.config.Tracker.RecordSuccess(key, latency)
			if d.config.Cache != nil {
				d.config.Cache.Put(key, payload)
			}
			res := Result{
				Success:     true,
				Payload:     payload,
				Latency:     time.Since(start),
				RetriesUsed: attempt,
			}
			d.record(ctx, key, category, res)
			return res
		}

		if ctx.Err() != nil {
			// Caller cancelled: surface as-is, no fallback, no breaker
			// penalty for work we abandoned.
			res := Result{Err: ctx.Err(), Latency: time.Since(start), RetriesUsed: attempt}
			d.record(ctx, key, category, res)
			return res
		}

		d.config.Tracker.RecordFailure(key)
		lastErr = err

		if !policy.RetryIf(err) {
			break
		}
		if errors.Is(err, ErrTimeout) && policy.NoRetryOnTimeout {
			break
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.delayFor(attempt)
		d.publish(event.Event{
			Type:   event.RetryAttempted,
			Key:    key,
			Detail: map[string]any{"attempt": attempt + 1, "delay": delay.String(), "error": err.Error()},
		})
		d.config.Logger.Debug(ctx, "retrying after failure",
			observe.F("endpoint.key", key),
			observe.F("attempt", attempt+1),
			observe.F("delay", delay.String()),
		)

		select {
		case <-ctx.Done():
			res := Result{Err: ctx.Err(), Latency: time.Since(start), RetriesUsed: attempt}
			d.record(ctx, key, category, res)
			return res
		case <-time.After(delay):
		}
	}

	cause := fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
	res := d.fallback(ctx, key, category, cause, retriesUsed, start)
	d.record(ctx, key, category, res)
	return res
}

// attempt runs a single bounded attempt. A deadline hit counts as
// ErrTimeout; parent cancellation surfaces as the context error.
func (d *Dispatcher) attempt(ctx context.Context, op Operation, timeout time.Duration) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		payload []byte
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		payload, err := op(actx)
		done <- outcome{payload, err}
	}()

	select {
	case o := <-done:
		return o.payload, o.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}
}

// fallback resolves the degraded path for the endpoint's category.
func (d *Dispatcher) fallback(ctx context.Context, key, category string, cause error, retries int, start time.Time) Result {
	d.publish(event.Event{
		Type:   event.DegradationAlert,
		Key:    key,
		Detail: map[string]any{"category": category, "cause": cause.Error()},
	})

	strat, ok := d.config.Fallbacks[category]
	if !ok {
		return Result{
			Err:         fmt.Errorf("%w %q: %w", ErrNoFallback, category, cause),
			Latency:     time.Since(start),
			RetriesUsed: retries,
		}
	}

	payload, err := strat.Fallback(ctx, key, cause)
	if err != nil {
		return Result{
			Err:          err,
			Latency:      time.Since(start),
			RetriesUsed:  retries,
			UsedFallback: true,
		}
	}
	return Result{
		Success:      true,
		Payload:      payload,
		Err:          cause,
		Latency:      time.Since(start),
		RetriesUsed:  retries,
		UsedFallback: true,
		Degraded:     true,
	}
}

func (d *Dispatcher) publish(ev event.Event) {
	if d.config.Events != nil {
		d.config.Events.Publish(ev)
	}
}

// record folds the result into stats, history, and metrics.
func (d *Dispatcher) record(ctx context.Context, key, category string, res Result) {
	d.config.Metrics.RecordDispatch(ctx, key, category, res.Latency, res.RetriesUsed, res.Err)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++
	d.latencySum += res.Latency
	d.retries += int64(res.RetriesUsed)
	if !res.Success {
		d.failures++
	}
	if res.UsedFallback {
		d.fallbacks++
	}

	if len(d.history) < cap(d.history) {
		d.history = append(d.history, res)
		return
	}
	d.history[d.nextSlot] = res
	d.nextSlot = (d.nextSlot + 1) % cap(d.history)
}

// Stats returns aggregate dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		Total:     d.total,
		Failures:  d.failures,
		Fallbacks: d.fallbacks,
		Retries:   d.retries,
	}
	if d.total > 0 {
		s.AvgLatency = d.latencySum / time.Duration(d.total)
	}
	return s
}

// Recent returns a copy of the bounded recent-result buffer.
func (d *Dispatcher) Recent() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Result, len(d.history))
	copy(out, d.history)
	return out
}

// NewEventedTracker creates an endpoint tracker whose circuit and health
// transitions are published to the bus as circuit_opened, circuit_closed,
// and health_changed events. Existing callbacks on cfg still fire.
func NewEventedTracker(cfg endpoint.Config, bus *event.Bus, keys ...string) *endpoint.Tracker {
	stateChange := cfg.OnStateChange
	healthChange := cfg.OnHealthChange

	cfg.OnStateChange = func(key string, from, to endpoint.CircuitState, h endpoint.Health) {
		switch to {
		case endpoint.CircuitOpen:
			bus.Publish(event.Event{
				Type:   event.CircuitOpened,
				Key:    key,
				Detail: map[string]any{"failures": h.ConsecutiveFailures, "from": from.String()},
			})
		case endpoint.CircuitClosed:
			bus.Publish(event.Event{
				Type:   event.CircuitClosed,
				Key:    key,
				Detail: map[string]any{"from": from.String()},
			})
		}
		if stateChange != nil {
			stateChange(key, from, to, h)
		}
	}
	cfg.OnHealthChange = func(key string, from, to endpoint.Status, h endpoint.Health) {
		bus.Publish(event.Event{
			Type:   event.HealthChanged,
			Key:    key,
			Detail: map[string]any{"from": from.String(), "to": to.String()},
		})
		if healthChange != nil {
			healthChange(key, from, to, h)
		}
	}
	return endpoint.NewTracker(cfg, keys...)
}
