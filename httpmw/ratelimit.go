package httpmw

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/policy"
	"github.com/kelpline/breakwater/ratelimit"
)

// rateLimitState holds the gateway-wide limiter, an optional policy
// resolver, and a cache of per-group limiters created lazily from resolved
// policies.
type rateLimitState struct {
	global   *ratelimit.Limiter
	resolver *policy.Resolver
	store    keystore.Store
	opts     []ratelimit.Option

	mu     sync.Mutex
	groups map[string]*ratelimit.Limiter
}

// limiterFor returns the per-group limiter when the resolver matches route
// to a group carrying a RateLimit policy. Otherwise it returns the
// gateway-wide limiter, which may be nil when no global limit is set.
func (s *rateLimitState) limiterFor(route string) *ratelimit.Limiter {
	if s.resolver != nil && s.store != nil {
		if name, pol, ok := s.resolver.Resolve(route); ok && pol != nil && pol.RateLimit != nil {
			return s.groupLimiter(name, *pol.RateLimit)
		}
	}
	return s.global
}

// groupLimiter returns (or lazily creates) a per-group limiter keyed by the
// resolved group name. The group name namespaces the limiter's windows
// unless the policy names them itself.
func (s *rateLimitState) groupLimiter(name string, cfg ratelimit.Config) *ratelimit.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.groups[name]; ok {
		return l
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	l := ratelimit.New(s.store, cfg, s.opts...)
	s.groups[name] = l
	return l
}

// RateLimit returns middleware that checks each request against the
// applicable rate limiter and rejects exhausted callers with 429. When a
// resolver is provided and the route matches a group with a RateLimit
// policy, a limiter for that group is built on store with opts; otherwise
// the global limiter applies.
//
// Every response carries the X-RateLimit-* headers; denials additionally
// carry Retry-After and the rate-limited error envelope.
func RateLimit(global *ratelimit.Limiter, resolver *policy.Resolver, store keystore.Store, opts ...ratelimit.Option) func(http.Handler) http.Handler {
	st := &rateLimitState{
		global:   global,
		resolver: resolver,
		store:    store,
		opts:     opts,
		groups:   make(map[string]*ratelimit.Limiter),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := st.limiterFor(policy.RouteKey(r))
			if l == nil {
				next.ServeHTTP(w, r)
				return
			}
			res := l.CheckRequest(r.Context(), r)
			setRateLimitHeaders(w.Header(), res)
			if !res.Allowed {
				writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", res.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders writes the standard limit headers from one decision.
// Reset is epoch seconds.
func setRateLimitHeaders(h http.Header, res ratelimit.Result) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	h.Set("X-RateLimit-Used", strconv.FormatInt(res.Used, 10))
}
