package dispatch

import (
	"context"
	"fmt"
)

// Strategy produces a degraded substitute payload when the real operation
// cannot complete. Strategies are registered per endpoint *category*, not
// per key, because different endpoint families have different safe
// degraded behaviors: a source-control endpoint can serve cached data, a
// storage endpoint can point at a local substitute.
type Strategy interface {
	// Fallback returns the substitute payload for the endpoint key.
	// cause is the error that forced the degraded path.
	Fallback(ctx context.Context, key string, cause error) ([]byte, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, key string, cause error) ([]byte, error)

// Fallback calls the wrapped function.
func (f StrategyFunc) Fallback(ctx context.Context, key string, cause error) ([]byte, error) {
	return f(ctx, key, cause)
}

// CachedFallback serves the last successful payload recorded for the
// endpoint key. It fails when nothing has been cached yet.
type CachedFallback struct {
	Cache *ResultCache
}

// Fallback returns the cached payload for the key.
func (c *CachedFallback) Fallback(_ context.Context, key string, cause error) ([]byte, error) {
	if c.Cache == nil {
		return nil, fmt.Errorf("dispatch: cached fallback for %q has no cache", key)
	}
	payload, _, ok := c.Cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("dispatch: no cached result for %q: %w", key, cause)
	}
	return payload, nil
}

// StaticFallback serves a fixed substitute payload.
type StaticFallback struct {
	Payload []byte
}

// Fallback returns the static payload.
func (s *StaticFallback) Fallback(context.Context, string, error) ([]byte, error) {
	return s.Payload, nil
}
