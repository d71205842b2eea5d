package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	// MaxRequests is the bucket capacity per key per window.
	// Default: 100
	MaxRequests int

	// Window is the time over which a full bucket refills.
	// Default: 1 minute
	Window time.Duration

	// SweepInterval is how often idle entries are reclaimed.
	// Entries untouched for twice the window are evicted.
	// Default: the window.
	SweepInterval time.Duration
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Remaining is the number of whole tokens left after this check.
	Remaining int `json:"remaining"`

	// ResetAt is when the bucket will be back at full capacity.
	ResetAt time.Time `json:"reset_at"`

	// RetryAfter is how long to wait before the request would be
	// admitted. Zero when Allowed.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Limiter is a per-key token bucket rate limiter.
//
// Tokens refill continuously with elapsed time rather than on a tick, and
// refill and consumption happen atomically under the key's lock, so
// concurrent callers sharing a key cannot race a check-then-consume.
// Different keys never contend on the same lock.
type Limiter struct {
	config Config
	rate   float64 // tokens per second

	mu      sync.RWMutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
}

// New creates a rate limiter and starts its idle-entry sweeper.
func New(config Config) *Limiter {
	// Apply defaults
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = config.Window
	}

	l := &Limiter{
		config:  config,
		rate:    float64(config.MaxRequests) / config.Window.Seconds(),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Check consumes one token for key if available.
func (l *Limiter) Check(key string) Decision {
	return l.CheckN(key, 1)
}

// CheckN consumes n tokens for key if available.
func (l *Limiter) CheckN(key string, n int) Decision {
	if n <= 0 {
		n = 1
	}
	b := l.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	l.refillLocked(b, now)
	b.lastUsed = now

	need := float64(n)
	if b.tokens >= need {
		b.tokens -= need
		return Decision{
			Allowed:   true,
			Remaining: int(b.tokens),
			ResetAt:   l.resetAtLocked(b, now),
		}
	}

	retryAfter := time.Duration((need - b.tokens) / l.rate * float64(time.Second))
	return Decision{
		Allowed:    false,
		Remaining:  int(b.tokens),
		ResetAt:    l.resetAtLocked(b, now),
		RetryAfter: retryAfter,
	}
}

// Reset restores the key's bucket to full capacity.
func (l *Limiter) Reset(key string) {
	b := l.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = float64(l.config.MaxRequests)
	b.lastRefill = time.Now()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Close stops the background sweeper. The limiter remains usable.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	now := time.Now()
	b = &bucket{
		tokens:     float64(l.config.MaxRequests),
		lastRefill: now,
		lastUsed:   now,
	}
	l.buckets[key] = b
	return b
}

// refillLocked adds tokens for the time elapsed since the last refill.
// A full window elapsing snaps the bucket to capacity. Caller holds b.mu.
func (l *Limiter) refillLocked(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	b.lastRefill = now

	capacity := float64(l.config.MaxRequests)
	if elapsed >= l.config.Window {
		b.tokens = capacity
		return
	}

	b.tokens += elapsed.Seconds() * l.rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

// resetAtLocked is when the bucket reaches full capacity again.
// Caller holds b.mu.
func (l *Limiter) resetAtLocked(b *bucket, now time.Time) time.Time {
	missing := float64(l.config.MaxRequests) - b.tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / l.rate * float64(time.Second)))
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			cutoff := now.Add(-2 * l.config.Window)
			l.mu.Lock()
			for key, b := range l.buckets {
				b.mu.Lock()
				idle := b.lastUsed.Before(cutoff)
				b.mu.Unlock()
				if idle {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
