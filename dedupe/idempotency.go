// Package dedupe suppresses duplicate work: an in-process single-flight for
// identical concurrent reads, and a durable idempotency guard that makes a
// retried mutation replay its first result instead of executing twice.
//
// The single-flight is best effort and instance-local. The idempotency guard
// is backed by the shared keystore and holds across instances: a stored
// result replays byte for byte for the retention window, and a short-lived
// processing lock keeps concurrent attempts from racing the first execution.
// When the store is unavailable the guard steps aside and the request runs
// unguarded; double execution is the accepted cost of staying up.
package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/metrics"
)

// ErrInProgress reports that another attempt holds the processing lock for
// the same idempotency key. Callers should retry after the guard's hint.
var ErrInProgress = errors.New("dedupe: request already processing")

const (
	defaultRetention = 24 * time.Hour
	defaultLockTTL   = 30 * time.Second
	defaultRetryHint = time.Second
	defaultPrefix    = "idem:"
)

// Config controls the idempotency guard.
type Config struct {
	// Retention bounds how long a stored result keeps replaying.
	Retention time.Duration
	// LockTTL bounds the processing lock so a crashed holder cannot
	// block its key past the window.
	LockTTL time.Duration
	// RetryHint is the wait suggested to callers rejected with
	// ErrInProgress.
	RetryHint time.Duration
	// Prefix namespaces guard keys in the shared store.
	Prefix string
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	if c.RetryHint <= 0 {
		c.RetryHint = defaultRetryHint
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	return c
}

// Guard gives mutating requests at-most-once semantics per idempotency key.
type Guard struct {
	store keystore.Store
	cfg   Config

	log     *slog.Logger
	mc      *metrics.Collector
	nowFunc func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger for absorbed guard failures.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) { g.log = log }
}

// WithMetrics records replays and swallowed errors on the collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(g *Guard) { g.mc = mc }
}

// WithNowFunc sets the guard clock, used by tests.
func WithNowFunc(now func() time.Time) Option {
	return func(g *Guard) { g.nowFunc = now }
}

// NewGuard creates an idempotency guard over the shared store.
func NewGuard(store keystore.Store, cfg Config, opts ...Option) *Guard {
	g := &Guard{
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     logging.Nop(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RetryHint returns the wait to suggest alongside ErrInProgress.
func (g *Guard) RetryHint() time.Duration {
	return g.cfg.RetryHint
}

// Run executes exec at most once per key within the retention window.
//
// A stored result replays without invoking exec; the replayed return is true.
// If another attempt holds the processing lock, Run returns ErrInProgress
// without executing. An exec error stores nothing and releases the lock, so
// the caller may retry with the same key. exec must return a non-nil
// envelope on success.
func (g *Guard) Run(ctx context.Context, key string, exec func(context.Context) (*ResponseEnvelope, error)) (env *ResponseEnvelope, replayed bool, err error) {
	rk := g.cfg.Prefix + "res:" + key
	lk := g.cfg.Prefix + "lock:" + key

	env, found, err := g.storedResult(ctx, rk)
	if err != nil {
		return g.unguarded(ctx, key, exec, err)
	}
	if found {
		g.mc.RecordDedupHit("idempotency")
		return env, true, nil
	}

	holder := uuid.NewString()
	ok, err := g.store.SetNX(ctx, lk, []byte(holder), g.cfg.LockTTL)
	if err != nil {
		return g.unguarded(ctx, key, exec, err)
	}
	if !ok {
		return nil, false, ErrInProgress
	}
	defer g.release(ctx, lk, holder)

	// The first attempt may have stored its result between our miss
	// above and the lock grant.
	if env, found, err := g.storedResult(ctx, rk); err == nil && found {
		g.mc.RecordDedupHit("idempotency")
		return env, true, nil
	}

	env, execErr := exec(ctx)
	if execErr != nil {
		// Nothing stored: a retry with the same key executes again.
		return nil, false, execErr
	}
	if env.CompletedAt.IsZero() {
		env.CompletedAt = g.nowFunc()
	}
	g.persist(ctx, rk, env)
	return env, false, nil
}

// storedResult fetches and decodes the result envelope under key. A corrupt
// record is logged and treated as absent so the attempt re-executes.
func (g *Guard) storedResult(ctx context.Context, key string) (*ResponseEnvelope, bool, error) {
	blob, err := g.store.Get(ctx, key)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var env ResponseEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		g.log.Warn("idempotency record corrupt", "key", key, "error", err)
		g.mc.RecordInternalError("dedupe")
		return nil, false, nil
	}
	return &env, true, nil
}

// unguarded runs exec without the guard. Store trouble must not block the
// request itself.
func (g *Guard) unguarded(ctx context.Context, key string, exec func(context.Context) (*ResponseEnvelope, error), cause error) (*ResponseEnvelope, bool, error) {
	g.log.Warn("idempotency guard unavailable, proceeding unguarded", "key", key, "error", cause)
	g.mc.RecordInternalError("dedupe")
	env, err := exec(ctx)
	return env, false, err
}

func (g *Guard) persist(ctx context.Context, key string, env *ResponseEnvelope) {
	blob, err := json.Marshal(env)
	if err != nil {
		g.log.Warn("idempotency record encode failed", "key", key, "error", err)
		g.mc.RecordInternalError("dedupe")
		return
	}
	if err := g.store.Set(ctx, key, blob, g.cfg.Retention); err != nil {
		g.log.Warn("idempotency record write failed", "key", key, "error", err)
		g.mc.RecordInternalError("dedupe")
	}
}

// release drops the processing lock if this attempt still holds it. An
// expired or stolen lock is left alone.
func (g *Guard) release(ctx context.Context, lockKey, holder string) {
	if _, err := g.store.CompareAndDelete(ctx, lockKey, []byte(holder)); err != nil {
		g.log.Warn("idempotency lock release failed", "key", lockKey, "error", err)
		g.mc.RecordInternalError("dedupe")
	}
}
