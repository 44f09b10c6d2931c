package breakwater

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/kelpline/breakwater/breaker"
	"github.com/kelpline/breakwater/cache"
	"github.com/kelpline/breakwater/dedupe"
	"github.com/kelpline/breakwater/health"
	"github.com/kelpline/breakwater/httpmw"
	"github.com/kelpline/breakwater/internal/core"
	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/policy"
	"github.com/kelpline/breakwater/ratelimit"
	"github.com/kelpline/breakwater/security"
	"github.com/kelpline/breakwater/tracing"
)

// Gateway owns the resilience components and the middleware chain that
// applies them to every request. Construct one with [New], then wrap the
// application router:
//
//	gw, err := breakwater.New(
//		breakwater.WithRedis(keystore.RedisConfig{Addr: "localhost:6379"}),
//		breakwater.WithRateLimit(ratelimit.Config{Limit: 500, Window: time.Minute}),
//		breakwater.WithCache(64<<20),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	http.ListenAndServe(":8080", gw.Wrap(mux))
//
// Handlers reach the cache and breakers through the accessors; the
// operational endpoints (metrics, breaker status, health) are plain
// http.Handlers the embedding application mounts wherever it wants.
type Gateway struct {
	log      *slog.Logger
	store    keystore.Store
	cache    cache.Cache
	limiter  *ratelimit.Limiter
	breakers *breaker.Registry
	guard    *dedupe.Guard
	resolver *policy.Resolver
	health   *health.Handler
	chain    []core.Middleware

	metricsHandler http.Handler
}

// New builds a Gateway from the supplied options. Middleware execution
// order follows the fixed Order* slots, not the order options are passed.
// Only the layers whose options were given join the chain; recovery and
// request id assignment are always present.
//
// Without a store option the gateway coordinates in process memory, which
// is correct for one instance and for tests but does not share windows,
// cache entries or idempotency records across a fleet.
func New(opts ...Option) (*Gateway, error) {
	cfg := config{log: logging.Nop()}
	for _, o := range opts {
		o(&cfg)
	}

	store := cfg.store
	if store == nil && cfg.redisCfg != nil {
		store = keystore.NewRedis(*cfg.redisCfg)
	}
	if store == nil {
		store = keystore.NewMemory()
	}

	g := &Gateway{
		log:      cfg.log,
		store:    store,
		resolver: cfg.resolver,
	}

	if cfg.cacheBytes > 0 {
		mem, err := cache.NewMemory(cfg.cacheBytes)
		if err != nil {
			return nil, err
		}
		tieredOpts := append([]cache.TieredOption{
			cache.WithLogger(cfg.log),
			cache.WithMetrics(cfg.mc),
		}, cfg.cacheOpts...)
		g.cache = cache.NewTiered(mem, store, tieredOpts...)
	}

	g.breakers = breaker.NewRegistry(cfg.breakerDefaults,
		breaker.WithLogger(cfg.log),
		breaker.WithMetrics(cfg.mc),
	)
	for name, bc := range cfg.breakerCfgs {
		g.breakers.Configure(name, bc)
	}

	var blocker *security.IPBlocker
	var clientIP func(*http.Request) string
	if cfg.ipCfg != nil {
		b, err := security.NewIPBlocker(*cfg.ipCfg)
		if err != nil {
			return nil, err
		}
		blocker = b
		clientIP = resolvedClientIP(b.Resolver())
	}

	rlOpts := []ratelimit.Option{
		ratelimit.WithLogger(cfg.log),
		ratelimit.WithMetrics(cfg.mc),
	}
	if clientIP != nil {
		rlOpts = append(rlOpts, ratelimit.WithClientIP(clientIP))
	}
	if cfg.limitCfg != nil {
		g.limiter = ratelimit.New(store, *cfg.limitCfg, rlOpts...)
	}

	if cfg.idemCfg != nil {
		g.guard = dedupe.NewGuard(store, *cfg.idemCfg,
			dedupe.WithLogger(cfg.log),
			dedupe.WithMetrics(cfg.mc),
		)
	}

	g.health = health.New(health.WithLogger(cfg.log))
	g.health.Add("keystore", health.StoreCheck(store))

	g.metricsHandler = cfg.mc.Handler()

	var b core.MiddlewareBuilder
	b.Add(core.OrderRecovery, httpmw.Recovery(cfg.log))
	b.Add(core.OrderRequestID, httpmw.RequestID())
	if cfg.traceCfg != nil {
		b.Add(core.OrderTracing, tracing.Middleware(cfg.traceCfg))
	}
	if cfg.mc != nil {
		b.Add(core.OrderMetrics, httpmw.Metrics(cfg.mc, cfg.resolver))
	}
	if blocker != nil {
		b.Add(core.OrderIPBlock, httpmw.IPBlock(blocker))
	}
	if cfg.authFn != nil {
		b.Add(core.OrderAuth, httpmw.Auth(cfg.authFn, cfg.resolver))
	}
	if cfg.readDedup {
		b.Add(core.OrderDedup, httpmw.Dedup(cfg.resolver, clientIP, cfg.mc))
	}
	if g.guard != nil {
		b.Add(core.OrderIdempotency, httpmw.Idempotency(g.guard, cfg.resolver))
	}
	if g.limiter != nil || cfg.resolver != nil {
		b.Add(core.OrderRateLimit, httpmw.RateLimit(g.limiter, cfg.resolver, store, rlOpts...))
	}
	for _, e := range cfg.extra {
		b.Add(e.order, e.mw)
	}
	g.chain = b.Build()

	return g, nil
}

// Wrap applies the gateway's middleware chain to h, outermost layer first.
func (g *Gateway) Wrap(h http.Handler) http.Handler {
	return core.Chain(h, g.chain)
}

// Store returns the coordination store the gateway was built on.
func (g *Gateway) Store() keystore.Store {
	return g.store
}

// Cache returns the tiered cache configured via WithCache, or nil.
func (g *Gateway) Cache() cache.Cache {
	return g.cache
}

// Limiter returns the gateway-wide rate limiter configured via
// WithRateLimit, or nil. Per-group limiters live inside the chain and are
// not exposed.
func (g *Gateway) Limiter() *ratelimit.Limiter {
	return g.limiter
}

// Breakers returns the circuit breaker registry. Handlers guard upstream
// calls with Breakers().Get(name).Execute.
func (g *Gateway) Breakers() *breaker.Registry {
	return g.breakers
}

// Guard returns the idempotency guard configured via WithIdempotency, or
// nil. Webhook endpoints wrap themselves with [Gateway.Webhook] instead of
// using it directly.
func (g *Gateway) Guard() *dedupe.Guard {
	return g.guard
}

// Policies returns the policy resolver configured via WithPolicies, or
// nil. Handlers consult it for cache TTLs and tags of the matched group.
func (g *Gateway) Policies() *policy.Resolver {
	return g.resolver
}

// Health returns the health handler so the application can register
// additional readiness checks.
func (g *Gateway) Health() *health.Handler {
	return g.health
}

// Webhook returns middleware that gives one webhook endpoint at-most-once
// processing per delivery id carried in header (empty means X-Delivery-ID).
// It requires WithIdempotency; without it deliveries pass through
// unguarded.
func (g *Gateway) Webhook(header string) func(http.Handler) http.Handler {
	return httpmw.Webhook(g.guard, header)
}

// MetricsHandler serves the Prometheus exposition endpoint.
func (g *Gateway) MetricsHandler() http.Handler {
	return g.metricsHandler
}

// BreakerStatusHandler serves the read-only JSON breaker status endpoint.
func (g *Gateway) BreakerStatusHandler() http.Handler {
	return g.breakers.Handler()
}

// LivenessHandler reports process liveness without touching dependencies.
func (g *Gateway) LivenessHandler() http.Handler {
	return g.health.Liveness()
}

// ReadinessHandler runs the registered health checks, keystore
// reachability included, and reports 503 when any fails.
func (g *Gateway) ReadinessHandler() http.Handler {
	return g.health.Readiness()
}

// resolvedClientIP adapts the trusted-proxy resolver to the string address
// the limiter and dedup layers key on, falling back to the bare peer
// address when no trustworthy candidate exists.
func resolvedClientIP(rs *security.Resolver) func(*http.Request) string {
	return func(r *http.Request) string {
		if addr, ok := rs.ClientIP(r); ok {
			return addr.String()
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
