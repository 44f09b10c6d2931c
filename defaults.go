package breakwater

import "github.com/kelpline/breakwater/dedupe"

// defaultCacheBytes sizes the in-process hot tier when DefaultOptions is
// used. 64 MiB holds a storefront's working set of rendered fragments.
const defaultCacheBytes = 64 << 20

// DefaultOptions returns the recommended set of options for production
// use: a tiered cache, idempotency for mutating requests and collapsing of
// concurrent identical reads. Callers append their own options after it:
//
//	gw, err := breakwater.New(append(breakwater.DefaultOptions(),
//		breakwater.WithRedis(redisCfg),
//	)...)
func DefaultOptions() []Option {
	return []Option{
		WithCache(defaultCacheBytes),
		WithIdempotency(dedupe.Config{}),
		WithReadDedup(),
	}
}
