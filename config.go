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

// orderedMiddleware is a caller-supplied middleware pinned to a slot in the
// chain via the Order* constants.
type orderedMiddleware struct {
	order int
	mw    func(http.Handler) http.Handler
}

// config holds the raw settings assembled via functional options. Options
// only record; New turns the record into live components, so option
// application can never fail.
type config struct {
	log *slog.Logger
	mc  *metrics.Collector

	store    keystore.Store
	redisCfg *keystore.RedisConfig

	cacheBytes int64
	cacheOpts  []cache.TieredOption

	limitCfg *ratelimit.Config
	resolver *policy.Resolver

	breakerDefaults breaker.Config
	breakerCfgs     map[string]breaker.Config

	idemCfg   *dedupe.Config
	readDedup bool

	authFn   auth.AuthFunc
	ipCfg    *security.Config
	traceCfg *tracing.TracingConfig

	extra []orderedMiddleware
}
