package breakwater

import (
	"log/slog"
	"net/http"

	"github.com/kelpline/breakwater/auth"
	"github.com/kelpline/breakwater/breaker"
	"github.com/kelpline/breakwater/cache"
	"github.com/kelpline/breakwater/dedupe"
	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/metrics"
	"github.com/kelpline/breakwater/policy"
	"github.com/kelpline/breakwater/ratelimit"
	"github.com/kelpline/breakwater/security"
	"github.com/kelpline/breakwater/tracing"
)

// Option configures a Gateway.
type Option func(*config)

// WithLogger sets the logger every component logs through. Without it the
// gateway stays silent.
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics publishes request, limiter, cache, breaker and dedup metrics
// to the collector and enables the metrics middleware.
func WithMetrics(mc *metrics.Collector) Option {
	return func(c *config) { c.mc = mc }
}

// WithKeyStore sets the coordination store shared by rate limiting,
// caching and idempotency. Without it (or WithRedis) an in-process memory
// store is used, which is fine for a single instance and for tests.
func WithKeyStore(store keystore.Store) Option {
	return func(c *config) { c.store = store }
}

// WithRedis connects the gateway to Redis for cross-instance coordination.
// WithKeyStore takes precedence when both are given.
func WithRedis(cfg keystore.RedisConfig) Option {
	return func(c *config) { c.redisCfg = &cfg }
}

// WithCache enables the tiered response cache with an in-process hot tier
// of maxBytes. Handlers reach it through [Gateway.Cache].
func WithCache(maxBytes int64, opts ...cache.TieredOption) Option {
	return func(c *config) {
		c.cacheBytes = maxBytes
		c.cacheOpts = opts
	}
}

// WithRateLimit applies cfg as the gateway-wide rate limit. Policy groups
// with their own RateLimit config override it per route.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(c *config) { c.limitCfg = &cfg }
}

// WithPolicies installs the route policy table that maps requests to
// per-group limits, cache hints, auth requirements and dedup opt-ins.
func WithPolicies(r *policy.Resolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithBreakers sets the default circuit breaker configuration for every
// dependency obtained from [Gateway.Breakers].
func WithBreakers(defaults breaker.Config) Option {
	return func(c *config) { c.breakerDefaults = defaults }
}

// WithBreaker overrides the breaker configuration for one named dependency.
func WithBreaker(name string, cfg breaker.Config) Option {
	return func(c *config) {
		if c.breakerCfgs == nil {
			c.breakerCfgs = make(map[string]breaker.Config)
		}
		c.breakerCfgs[name] = cfg
	}
}

// WithIdempotency enables the idempotency guard for mutating requests that
// carry an Idempotency-Key header, and the webhook delivery guard.
func WithIdempotency(cfg dedupe.Config) Option {
	return func(c *config) { c.idemCfg = &cfg }
}

// WithReadDedup collapses concurrent identical safe-method requests into a
// single handler execution per caller.
func WithReadDedup() Option {
	return func(c *config) { c.readDedup = true }
}

// WithAuth installs fn as the authentication hook. With a policy table
// installed, only routes whose group sets AuthRequired reject on failure;
// everything else proceeds anonymously. Without one, failures always
// reject.
func WithAuth(fn auth.AuthFunc) Option {
	return func(c *config) { c.authFn = fn }
}

// WithIPBlock enables allow/deny list filtering of client addresses. The
// blocker's trusted-proxy resolver also becomes the client address source
// for rate limiting and read dedup.
func WithIPBlock(cfg security.Config) Option {
	return func(c *config) { c.ipCfg = &cfg }
}

// WithTracing enables the OpenTelemetry tracing middleware.
func WithTracing(cfg *tracing.TracingConfig) Option {
	return func(c *config) { c.traceCfg = cfg }
}

// WithMiddleware inserts a caller-supplied middleware at the given chain
// slot (see the Order* constants). Middleware at the same slot runs in the
// order it was added.
func WithMiddleware(order int, mw func(http.Handler) http.Handler) Option {
	return func(c *config) {
		if mw == nil {
			return
		}
		c.extra = append(c.extra, orderedMiddleware{order: order, mw: mw})
	}
}
