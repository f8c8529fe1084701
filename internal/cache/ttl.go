package cache

import "time"

// TTLPolicy layers an optional bounded-staleness policy on top of a Table.
// spec.md's core has no such concept — its explicit non-goal is "no
// consistency with on-disk file changes during a cache entry's lifetime;
// stale content is acceptable" — so this type is never constructed by
// internal/dispatch.Init by default. It exists for deployments that do
// want a staleness bound, ported from the teacher's CacheEntry.IsExpired
// pattern (internal/middleware/cache.go) rather than invented from
// scratch.
//
// TTL tracking piggybacks on the same lock as the Table it wraps: callers
// must already be holding that lock when calling Stamp or Expired, exactly
// as for every other Table method.
type TTLPolicy struct {
	ttl        time.Duration
	insertedAt map[string]time.Time
}

func NewTTLPolicy(ttl time.Duration) *TTLPolicy {
	return &TTLPolicy{
		ttl:        ttl,
		insertedAt: make(map[string]time.Time),
	}
}

// Stamp records that name was (re)admitted to the cache at now. Call this
// alongside Table.Admit.
func (p *TTLPolicy) Stamp(name string, now time.Time) {
	p.insertedAt[name] = now
}

// Forget drops the staleness record for name. Call this alongside eviction
// so the map doesn't grow unboundedly across the cache's lifetime.
func (p *TTLPolicy) Forget(name string) {
	delete(p.insertedAt, name)
}

// Expired reports whether name's entry has outlived the configured TTL.
// A name with no recorded stamp (never admitted under this policy) is
// treated as not expired — the policy only ever shortens an entry's life,
// never extends it past what the cache's own LRU/pin rules already allow.
func (p *TTLPolicy) Expired(name string, now time.Time) bool {
	stamped, ok := p.insertedAt[name]
	if !ok {
		return false
	}
	return now.Sub(stamped) > p.ttl
}
