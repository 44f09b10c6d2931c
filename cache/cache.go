// Package cache provides the two-tier read cache in front of the
// storefront's upstreams: a bounded in-process tier backed by ristretto and
// a shared tier on the keystore, with single-flight stampede protection,
// tag-based invalidation and version-token namespaces.
//
// Caching is an optimization, never a correctness dependency. Every cache
// failure is absorbed and logged: Get turns into a miss, Set and Del report
// false, and only the caller's own loader error ever propagates out of
// GetOrSet.
package cache

import (
	"context"
	"time"
)

// Loader produces the value for a key on a cache miss, typically by calling
// an upstream through a circuit breaker.
type Loader func(ctx context.Context) ([]byte, error)

// Cache is the caching contract exposed to route handlers.
type Cache interface {
	// Get retrieves a value by key. The boolean reports a hit; failures
	// and stale entries read as misses.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value in both tiers with the given TTL and registers
	// the key under each tag. A zero TTL means no automatic expiration.
	// It reports whether the shared tier accepted the write.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration, tags ...string) bool

	// Del removes key from both tiers, reporting whether the shared tier
	// delete went through.
	Del(ctx context.Context, key string) bool

	// GetOrSet returns the cached value for key. On a miss it invokes
	// loader once per key per instance, coalescing concurrent callers
	// onto the same in-flight load, stores the result and returns it.
	// Only loader errors are returned.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, loader Loader, tags ...string) ([]byte, error)

	// InvalidateByTags removes every entry registered under any of the
	// tags, then the tag indexes themselves. It returns the number of
	// shared-tier entries removed. Best effort: failures are logged and
	// skipped.
	InvalidateByTags(ctx context.Context, tags ...string) int
}
