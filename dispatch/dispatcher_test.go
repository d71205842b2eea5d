package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/toolflow/endpoint"
	"github.com/jonwraymond/toolflow/event"
	"github.com/jonwraymond/toolflow/ratelimit"
)

func newTestDispatcher(t *testing.T, config Config) *Dispatcher {
	t.Helper()
	if config.Tracker == nil {
		config.Tracker = endpoint.NewTracker(endpoint.Config{})
	}
	d, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func fastPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestNew_RequiresTracker(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without tracker should error")
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	res := d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			return []byte("ok"), nil
		}, fastPolicy())

	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if res.RetriesUsed != 0 {
		t.Errorf("RetriesUsed = %d, want 0", res.RetriesUsed)
	}
	if string(res.Payload) != "ok" {
		t.Errorf("Payload = %q, want %q", res.Payload, "ok")
	}
	if res.UsedFallback {
		t.Error("UsedFallback = true, want false")
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	calls := 0
	res := d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return []byte("ok"), nil
		}, fastPolicy())

	if !res.Success {
		t.Fatalf("Success = false, err = %v", res.Err)
	}
	if res.RetriesUsed != 2 {
		t.Errorf("RetriesUsed = %d, want 2", res.RetriesUsed)
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
}

func TestExecute_BackoffDelaysIncrease(t *testing.T) {
	p := Policy{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}.withDefaults()

	var prev time.Duration
	for attempt := 0; attempt < 5; attempt++ {
		d := p.delayFor(attempt)
		if d < prev {
			t.Errorf("delay for attempt %d = %v, less than previous %v", attempt, d, prev)
		}
		prev = d
	}
	if got := p.delayFor(20); got != time.Second {
		t.Errorf("delay beyond cap = %v, want MaxDelay 1s", got)
	}
}

func TestExecute_RetriesExhaustedNoFallback(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	calls := 0
	res := d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			calls++
			return nil, errors.New("down")
		}, fastPolicy())

	if res.Success {
		t.Fatal("Success = true, want false with no fallback strategy")
	}
	if !errors.Is(res.Err, ErrRetriesExhausted) {
		t.Errorf("Err = %v, want ErrRetriesExhausted", res.Err)
	}
	if calls != 4 {
		t.Errorf("operation called %d times, want 4 (1 + 3 retries)", calls)
	}
}

func TestExecute_NonRetryableBypassesRetries(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	calls := 0
	res := d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			calls++
			return nil, NonRetryable(errors.New("bad credentials"))
		}, fastPolicy())

	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
	if res.Success {
		t.Error("Success = true, want false")
	}
}

func TestExecute_CircuitOpenGoesToFallback(t *testing.T) {
	tracker := endpoint.NewTracker(endpoint.Config{FailureThreshold: 1})
	tracker.RecordFailure("github")

	d := newTestDispatcher(t, Config{
		Tracker: tracker,
		Fallbacks: map[string]Strategy{
			"source-control": &StaticFallback{Payload: []byte("stale")},
		},
	})

	called := false
	res := d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			called = true
			return []byte("live"), nil
		}, fastPolicy())

	if called {
		t.Error("operation must not run while circuit is open")
	}
	if !res.Success || !res.UsedFallback || !res.Degraded {
		t.Errorf("got %+v, want degraded fallback success", res)
	}
	if string(res.Payload) != "stale" {
		t.Errorf("Payload = %q, want %q", res.Payload, "stale")
	}
}

func TestExecute_CachedFallback(t *testing.T) {
	cache := NewResultCache(time.Minute)
	d := newTestDispatcher(t, Config{
		Cache: cache,
		Fallbacks: map[string]Strategy{
			"source-control": &CachedFallback{Cache: cache},
		},
	})

	// Prime the cache with a real success.
	d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			return []byte("live"), nil
		}, fastPolicy())

	// Now fail everything: fallback serves the cached payload.
	res := d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("down")
		}, fastPolicy())

	if !res.Success || !res.Degraded {
		t.Fatalf("got %+v, want degraded success from cache", res)
	}
	if string(res.Payload) != "live" {
		t.Errorf("Payload = %q, want cached %q", res.Payload, "live")
	}
}

func TestExecute_CachedFallbackEmptyCache(t *testing.T) {
	cache := NewResultCache(time.Minute)
	d := newTestDispatcher(t, Config{
		Fallbacks: map[string]Strategy{
			"search": &CachedFallback{Cache: cache},
		},
	})

	res := d.Execute(context.Background(), "exa", "search",
		func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("down")
		}, fastPolicy())

	if res.Success {
		t.Error("Success = true with empty cache, want false")
	}
	if !res.UsedFallback {
		t.Error("UsedFallback should be true even when the strategy fails")
	}
}

func TestExecute_TimeoutCountsAsFailure(t *testing.T) {
	tracker := endpoint.NewTracker(endpoint.Config{})
	d := newTestDispatcher(t, Config{Tracker: tracker})

	res := d.Execute(context.Background(), "slow", "workflow",
		func(ctx context.Context) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, Policy{
			MaxRetries: -1,
			BaseDelay:  time.Millisecond,
			Timeout:    10 * time.Millisecond,
		})

	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if !errors.Is(res.Err, ErrRetriesExhausted) {
		t.Errorf("Err = %v, want wrapped ErrRetriesExhausted", res.Err)
	}
	if got := tracker.HealthOf("slow").ConsecutiveFailures; got != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1 (timeout is a breaker failure)", got)
	}
}

func TestExecute_NoRetryOnTimeout(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	calls := 0
	d.Execute(context.Background(), "slow", "workflow",
		func(ctx context.Context) ([]byte, error) {
			calls++
			<-ctx.Done()
			return nil, ctx.Err()
		}, Policy{
			MaxRetries:       3,
			BaseDelay:        time.Millisecond,
			Timeout:          10 * time.Millisecond,
			NoRetryOnTimeout: true,
		})

	if calls != 1 {
		t.Errorf("operation called %d times, want 1 with NoRetryOnTimeout", calls)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{MaxRequests: 1, Window: time.Minute})
	defer limiter.Close()

	d := newTestDispatcher(t, Config{Limiter: limiter})

	op := func(ctx context.Context) ([]byte, error) { return []byte("ok"), nil }

	if res := d.Execute(context.Background(), "github", "", op, fastPolicy()); !res.Success {
		t.Fatalf("first dispatch failed: %v", res.Err)
	}

	res := d.Execute(context.Background(), "github", "", op, fastPolicy())
	if res.Success {
		t.Fatal("second dispatch allowed, want rate limited")
	}
	var rle *ratelimit.RateLimitedError
	if !errors.As(res.Err, &rle) {
		t.Fatalf("Err = %v, want RateLimitedError", res.Err)
	}
	if rle.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", rle.RetryAfter)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	res := d.Execute(ctx, "github", "source-control",
		func(opCtx context.Context) ([]byte, error) {
			calls++
			<-opCtx.Done()
			return nil, opCtx.Err()
		}, Policy{MaxRetries: 5, BaseDelay: time.Millisecond, Timeout: time.Minute})

	if res.Success {
		t.Fatal("Success = true after cancellation")
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if res.UsedFallback {
		t.Error("cancellation must not take the fallback path")
	}
}

func TestExecute_EmitsRetryEvents(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	var types []event.Type
	bus.Handle(func(ev event.Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	d := newTestDispatcher(t, Config{Events: bus})

	calls := 0
	d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("transient")
			}
			return []byte("ok"), nil
		}, fastPolicy())

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 1 || types[0] != event.RetryAttempted {
		t.Errorf("events = %v, want [retry_attempted]", types)
	}
}

func TestExecute_EmitsDegradationAlert(t *testing.T) {
	bus := event.NewBus()
	var got []event.Event
	bus.Handle(func(ev event.Event) {
		if ev.Type == event.DegradationAlert {
			got = append(got, ev)
		}
	})

	d := newTestDispatcher(t, Config{Events: bus})

	d.Execute(context.Background(), "github", "source-control",
		func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("down")
		}, Policy{MaxRetries: -1, BaseDelay: time.Millisecond, Timeout: time.Second})

	if len(got) != 1 {
		t.Fatalf("got %d degradation alerts, want 1", len(got))
	}
	if got[0].Key != "github" {
		t.Errorf("alert Key = %q, want github", got[0].Key)
	}
}

func TestDispatcher_Stats(t *testing.T) {
	d := newTestDispatcher(t, Config{
		Fallbacks: map[string]Strategy{
			"search": &StaticFallback{Payload: []byte("{}")},
		},
	})

	ok := func(ctx context.Context) ([]byte, error) { return []byte("ok"), nil }
	bad := func(ctx context.Context) ([]byte, error) { return nil, errors.New("down") }

	d.Execute(context.Background(), "a", "", ok, fastPolicy())
	d.Execute(context.Background(), "b", "search", bad, Policy{MaxRetries: -1, BaseDelay: time.Millisecond, Timeout: time.Second})
	d.Execute(context.Background(), "c", "", bad, Policy{MaxRetries: -1, BaseDelay: time.Millisecond, Timeout: time.Second})

	s := d.Stats()
	if s.Total != 3 {
		t.Errorf("Total = %d, want 3", s.Total)
	}
	if s.Failures != 1 {
		t.Errorf("Failures = %d, want 1 (fallback success is not a failure)", s.Failures)
	}
	if s.Fallbacks != 2 {
		t.Errorf("Fallbacks = %d, want 2", s.Fallbacks)
	}
}

func TestDispatcher_HistoryBounded(t *testing.T) {
	d := newTestDispatcher(t, Config{HistorySize: 5})

	ok := func(ctx context.Context) ([]byte, error) { return nil, nil }
	for i := 0; i < 20; i++ {
		d.Execute(context.Background(), "a", "", ok, fastPolicy())
	}

	if got := len(d.Recent()); got != 5 {
		t.Errorf("len(Recent()) = %d, want 5", got)
	}
}

func TestNewEventedTracker(t *testing.T) {
	bus := event.NewBus()
	var types []event.Type
	bus.Handle(func(ev event.Event) {
		types = append(types, ev.Type)
	})

	tracker := NewEventedTracker(endpoint.Config{
		FailureThreshold: 2,
		Cooldown:         time.Millisecond,
	}, bus)

	tracker.RecordFailure("api") // health_changed (healthy -> degraded)
	tracker.RecordFailure("api") // circuit_opened
	time.Sleep(5 * time.Millisecond)
	_ = tracker.Allow("api") // half-open, no event
	// Trial success: circuit_closed plus health_changed.
	tracker.RecordSuccess("api", time.Millisecond)

	var opened, closed, health int
	for _, ty := range types {
		switch ty {
		case event.CircuitOpened:
			opened++
		case event.CircuitClosed:
			closed++
		case event.HealthChanged:
			health++
		}
	}
	if opened != 1 {
		t.Errorf("circuit_opened events = %d, want 1", opened)
	}
	if closed != 1 {
		t.Errorf("circuit_closed events = %d, want 1", closed)
	}
	if health < 2 {
		t.Errorf("health_changed events = %d, want >= 2", health)
	}
}

func TestResultCache_TTL(t *testing.T) {
	c := NewResultCache(10 * time.Millisecond)

	c.Put("k", []byte("v"))
	if _, _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}

	time.Sleep(20 * time.Millisecond)
	if _, _, ok := c.Get("k"); ok {
		t.Error("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after lazy expiry, want 0", c.Len())
	}
}
