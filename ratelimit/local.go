package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLocalKeys bounds the fallback gate's per-identifier map. The store
// outage that activates the gate should be short; past the bound the map is
// dropped wholesale rather than grown without limit.
const maxLocalKeys = 8192

// localGate is the process-local token-bucket gate behind FallbackLocal. It
// approximates the configured limit for this one instance while the shared
// store is unreachable.
type localGate struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalGate(limit int64, window time.Duration) *localGate {
	return &localGate{
		rps:      rate.Limit(float64(limit) / window.Seconds()),
		burst:    int(limit),
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether identifier may proceed, lazily creating its bucket.
func (g *localGate) allow(identifier string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.limiters) >= maxLocalKeys {
		g.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := g.limiters[identifier]
	if !ok {
		lim = rate.NewLimiter(g.rps, g.burst)
		g.limiters[identifier] = lim
	}
	return lim.Allow()
}
