package cache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/metrics"
)

const (
	tierMemory = "memory"
	tierStore  = "store"
)

// Tiered combines the in-process tier with the shared keystore tier. Reads
// check memory first, then the store with promotion back into memory;
// writes land in both.
type Tiered struct {
	mem   *Memory
	store keystore.Store

	flights singleflight.Group
	mu      sync.Mutex
	started map[string]time.Time

	prefix     string
	protectTTL time.Duration
	maxPayload int
	compressAt int
	tagSlack   time.Duration

	log     *slog.Logger
	mc      *metrics.Collector
	nowFunc func() time.Time
}

// TieredOption configures a Tiered cache.
type TieredOption func(*Tiered)

// WithPrefix namespaces every key the cache touches in the shared store.
func WithPrefix(prefix string) TieredOption {
	return func(t *Tiered) { t.prefix = prefix }
}

// WithProtectionTTL bounds how long a single in-flight load can absorb
// followers. Past the TTL the stuck flight is abandoned and the next caller
// loads fresh.
func WithProtectionTTL(d time.Duration) TieredOption {
	return func(t *Tiered) { t.protectTTL = d }
}

// WithMaxPayload caps the encoded blob size accepted by the shared tier.
func WithMaxPayload(n int) TieredOption {
	return func(t *Tiered) { t.maxPayload = n }
}

// WithCompressionThreshold compresses values at or above n bytes before they
// cross the network.
func WithCompressionThreshold(n int) TieredOption {
	return func(t *Tiered) { t.compressAt = n }
}

// WithLogger sets the logger for absorbed failures.
func WithLogger(log *slog.Logger) TieredOption {
	return func(t *Tiered) { t.log = log }
}

// WithMetrics records hits, misses and swallowed errors on the collector.
func WithMetrics(mc *metrics.Collector) TieredOption {
	return func(t *Tiered) { t.mc = mc }
}

// WithNowFunc sets the cache clock, used by tests.
func WithNowFunc(now func() time.Time) TieredOption {
	return func(t *Tiered) { t.nowFunc = now }
}

// NewTiered creates the two-tier cache over mem and store.
func NewTiered(mem *Memory, store keystore.Store, opts ...TieredOption) *Tiered {
	t := &Tiered{
		mem:        mem,
		store:      store,
		started:    make(map[string]time.Time),
		prefix:     "cache:",
		protectTTL: 10 * time.Second,
		maxPayload: 1 << 20,
		compressAt: 4 << 10,
		tagSlack:   5 * time.Minute,
		log:        logging.Nop(),
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get checks memory, then the store. A store hit is promoted into memory
// with its remaining TTL. Failures and stale envelopes read as misses.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	k := t.prefix + key
	if v, ok := t.mem.Get(k); ok {
		t.mc.RecordCacheHit(tierMemory)
		return v, true
	}
	t.mc.RecordCacheMiss(tierMemory)

	blob, err := t.store.Get(ctx, k)
	if err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			t.log.Warn("cache read failed", "key", key, "error", err)
			t.mc.RecordInternalError("cache")
		}
		t.mc.RecordCacheMiss(tierStore)
		return nil, false
	}
	env, val, err := decodeEnvelope(blob)
	if err != nil {
		t.log.Warn("cache entry corrupt, treating as miss", "key", key, "error", err)
		t.mc.RecordInternalError("cache")
		t.mc.RecordCacheMiss(tierStore)
		return nil, false
	}
	ttl, live := t.remaining(env)
	if !live {
		// The store has not reaped the entry yet; a stale read must
		// not resurrect it.
		t.mc.RecordCacheMiss(tierStore)
		return nil, false
	}
	t.mem.Set(k, val, ttl)
	t.mc.RecordCacheHit(tierStore)
	return val, true
}

// Set writes the value into both tiers and registers key under each tag.
func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration, tags ...string) bool {
	k := t.prefix + key
	blob, err := encodeEnvelope(val, ttl, tags, t.compressAt, t.maxPayload, t.nowFunc())
	if err != nil {
		t.log.Warn("cache write rejected", "key", key, "size", len(val), "error", err)
		t.mc.RecordInternalError("cache")
		return false
	}
	if err := t.store.Set(ctx, k, blob, ttl); err != nil {
		t.log.Warn("cache write failed", "key", key, "error", err)
		t.mc.RecordInternalError("cache")
		return false
	}
	t.mem.Set(k, val, ttl)
	t.addTags(ctx, k, tags, ttl)
	return true
}

// Del removes key from both tiers.
func (t *Tiered) Del(ctx context.Context, key string) bool {
	k := t.prefix + key
	t.mem.Del(k)
	if _, err := t.store.Del(ctx, k); err != nil {
		t.log.Warn("cache delete failed", "key", key, "error", err)
		t.mc.RecordInternalError("cache")
		return false
	}
	return true
}

// GetOrSet returns the cached value for key or loads it. Concurrent misses
// for the same key within the protection TTL share one loader invocation;
// the in-flight entry is always dropped when the load settles, so a finished
// load never blocks later callers.
func (t *Tiered) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader Loader, tags ...string) ([]byte, error) {
	if v, ok := t.Get(ctx, key); ok {
		return v, nil
	}

	k := t.prefix + key
	t.mu.Lock()
	if startedAt, ok := t.started[k]; ok && t.nowFunc().Sub(startedAt) > t.protectTTL {
		// The flight outlived its protection window, likely a stuck
		// loader. Detach it so this caller loads fresh.
		t.flights.Forget(k)
		delete(t.started, k)
	}
	if _, ok := t.started[k]; !ok {
		t.started[k] = t.nowFunc()
	}
	t.mu.Unlock()

	v, err, _ := t.flights.Do(k, func() (any, error) {
		defer func() {
			t.mu.Lock()
			delete(t.started, k)
			t.mu.Unlock()
		}()
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		t.Set(ctx, key, val, ttl, tags...)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

// remaining maps an envelope's absolute expiry back to a TTL for the memory
// backfill. The second return is false when the entry is already stale.
func (t *Tiered) remaining(env envelope) (time.Duration, bool) {
	if env.ExpiresAt.IsZero() {
		return 0, true
	}
	ttl := env.ExpiresAt.Sub(t.nowFunc())
	if ttl <= 0 {
		return 0, false
	}
	return ttl, true
}
