package dispatch

import (
	"sync"
	"time"
)

// ResultCache keeps the last successful payload per endpoint key so the
// cached fallback strategy can serve stale-but-real data when an endpoint
// is unavailable.
type ResultCache struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]*cachedResult
}

type cachedResult struct {
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
}

// NewResultCache creates a result cache. TTL <= 0 keeps entries forever.
func NewResultCache(ttl time.Duration) *ResultCache {
	return &ResultCache{
		ttl:     ttl,
		entries: make(map[string]*cachedResult),
	}
}

// Get returns the cached payload for an endpoint key along with its age.
// Returns (nil, 0, false) on miss or expiry.
func (c *ResultCache) Get(key string) ([]byte, time.Duration, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, 0, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		// Expired - clean up lazily
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, 0, false
	}
	return entry.payload, time.Since(entry.storedAt), true
}

// Put stores the latest good payload for an endpoint key.
func (c *ResultCache) Put(key string, payload []byte) {
	now := time.Now()
	entry := &cachedResult{payload: payload, storedAt: now}
	if c.ttl > 0 {
		entry.expiresAt = now.Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// Delete removes the entry for an endpoint key. Idempotent.
func (c *ResultCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
