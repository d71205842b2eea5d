package ratelimit

import "sort"

// Tiered composes several named limiters with different capacities,
// e.g. anonymous / authenticated / premium. Each tier has identical
// refill semantics and independent per-key buckets.
type Tiered struct {
	tiers map[string]*Limiter
}

// NewTiered creates one limiter per named tier config.
func NewTiered(configs map[string]Config) *Tiered {
	tiers := make(map[string]*Limiter, len(configs))
	for name, cfg := range configs {
		tiers[name] = New(cfg)
	}
	return &Tiered{tiers: tiers}
}

// Check consumes one token for key from the named tier.
// An unknown tier is rejected outright.
func (t *Tiered) Check(tier, key string) Decision {
	l, ok := t.tiers[tier]
	if !ok {
		return Decision{Allowed: false}
	}
	return l.Check(key)
}

// Tier returns the limiter for a named tier, or nil if not configured.
func (t *Tiered) Tier(name string) *Limiter {
	return t.tiers[name]
}

// Tiers returns configured tier names in sorted order.
func (t *Tiered) Tiers() []string {
	names := make([]string, 0, len(t.tiers))
	for name := range t.tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every tier's sweeper.
func (t *Tiered) Close() {
	for _, l := range t.tiers {
		l.Close()
	}
}
