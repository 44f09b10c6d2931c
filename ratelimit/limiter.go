// Package ratelimit provides distributed request rate limiting for the
// storefront gateway. Window state lives in the shared keystore and every
// check runs as one atomic store operation, so concurrent requests across
// instances can never each observe the same free slot.
//
// A limiter never returns an error: when the store is unreachable the
// configured fallback policy decides the outcome instead.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/metrics"
)

// Algorithm selects how a window is counted.
type Algorithm string

const (
	// FixedWindow counts calls in aligned buckets. Cheap, but permits
	// bursts across bucket boundaries.
	FixedWindow Algorithm = "fixed_window"
	// SlidingWindow counts calls in a continuously trailing interval and
	// has no boundary bursts.
	SlidingWindow Algorithm = "sliding_window"
)

// Fallback decides the outcome when the store cannot answer.
type Fallback string

const (
	// FallbackAllow fails open. The default for most scopes: losing rate
	// limiting briefly beats refusing the whole storefront.
	FallbackAllow Fallback = "allow"
	// FallbackDeny fails closed, for endpoints where overrun is worse
	// than unavailability (login, password reset).
	FallbackDeny Fallback = "deny"
	// FallbackLocal degrades to a process-local token bucket sized to
	// this instance, keeping some bound while the store is away.
	FallbackLocal Fallback = "local"
)

// Scope selects how requests are grouped into windows.
type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeAPIKey   Scope = "api_key"
	ScopeUser     Scope = "user"
	ScopeEndpoint Scope = "endpoint"
)

// KeyFunc derives a caller identifier from a request, overriding the scope's
// built-in derivation entirely.
type KeyFunc func(r *http.Request) string

// Config describes one limiter.
type Config struct {
	// Name namespaces the limiter's windows, so two limiters sharing a
	// scope count independently. Empty means the shared default
	// namespace.
	Name      string
	Scope     Scope
	Algorithm Algorithm
	Limit     int64
	Window    time.Duration
	Fallback  Fallback
	KeyFunc   KeyFunc
}

func (c Config) withDefaults() Config {
	if c.Scope == "" {
		c.Scope = ScopeIP
	}
	if c.Algorithm == "" {
		c.Algorithm = FixedWindow
	}
	if c.Limit <= 0 {
		c.Limit = 100
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Fallback == "" {
		c.Fallback = FallbackAllow
	}
	return c
}

// Result is one admit/deny decision with everything the response headers
// need.
type Result struct {
	Allowed   bool
	Limit     int64
	// Used is the number of calls recorded in the current window.
	Used      int64
	Remaining int64
	ResetAt   time.Time
	// RetryAfter is how long a denied caller should wait. Zero on allowed
	// results.
	RetryAfter time.Duration
}

// Limiter checks requests against one scoped window configuration. All
// methods are safe for concurrent use.
type Limiter struct {
	store keystore.Store
	cfg   Config
	local *localGate

	clientIP func(*http.Request) string
	log      *slog.Logger
	mc       *metrics.Collector
	nowFunc  func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger for fallback warnings.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithMetrics records limiter decisions on the collector.
func WithMetrics(mc *metrics.Collector) Option {
	return func(l *Limiter) { l.mc = mc }
}

// WithNowFunc sets the limiter clock. Tests use it to cross window
// boundaries deterministically.
func WithNowFunc(now func() time.Time) Option {
	return func(l *Limiter) { l.nowFunc = now }
}

// WithClientIP replaces the client address derivation, typically with a
// trusted-proxy-aware resolver from the security package.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(l *Limiter) { l.clientIP = fn }
}

// New creates a limiter over the shared store.
func New(store keystore.Store, cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		cfg:      cfg.withDefaults(),
		clientIP: remoteIP,
		log:      logging.Nop(),
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cfg.Fallback == FallbackLocal {
		l.local = newLocalGate(l.cfg.Limit, l.cfg.Window)
	}
	return l
}

// Config returns the limiter's effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// CheckRequest derives the caller identifier per the configured scope and
// checks it against the window.
func (l *Limiter) CheckRequest(ctx context.Context, r *http.Request) Result {
	return l.Check(ctx, l.identify(r))
}

// Check records one call for identifier and decides admission. Store
// failures never surface: the fallback policy resolves them.
func (l *Limiter) Check(ctx context.Context, identifier string) Result {
	now := l.nowFunc()
	key := "rl:"
	if l.cfg.Name != "" {
		key += l.cfg.Name + ":"
	}
	key += string(l.cfg.Scope) + ":" + identifier

	var (
		wr  keystore.WindowResult
		err error
	)
	switch l.cfg.Algorithm {
	case SlidingWindow:
		wr, err = l.store.SlidingWindow(ctx, key, l.cfg.Limit, l.cfg.Window, now)
	default:
		wr, err = l.store.FixedWindow(ctx, key, l.cfg.Limit, l.cfg.Window, now)
	}
	if err != nil {
		return l.fallback(identifier, now, err)
	}

	res := Result{
		Allowed:   wr.Allowed,
		Limit:     l.cfg.Limit,
		Used:      wr.Count,
		Remaining: wr.Remaining,
		ResetAt:   wr.ResetAt,
	}
	if !res.Allowed {
		res.RetryAfter = retryAfter(now, wr.ResetAt)
		l.mc.RecordRateLimit(string(l.cfg.Scope), "blocked")
		return res
	}
	l.mc.RecordRateLimit(string(l.cfg.Scope), "allowed")
	return res
}

// fallback resolves a store failure per the configured policy.
func (l *Limiter) fallback(identifier string, now time.Time, err error) Result {
	l.log.Warn("rate limit store unavailable, applying fallback",
		"scope", string(l.cfg.Scope), "fallback", string(l.cfg.Fallback), "error", err)
	l.mc.RecordInternalError("ratelimit")

	res := Result{
		Limit:   l.cfg.Limit,
		ResetAt: now.Add(l.cfg.Window),
	}
	allowed := true
	outcome := "fallback_allowed"
	switch l.cfg.Fallback {
	case FallbackDeny:
		allowed = false
	case FallbackLocal:
		allowed = l.local.allow(identifier)
	}
	res.Allowed = allowed
	if allowed {
		res.Remaining = l.cfg.Limit - 1
	} else {
		outcome = "fallback_blocked"
		res.RetryAfter = retryAfter(now, res.ResetAt)
	}
	res.Used = res.Limit - res.Remaining
	l.mc.RecordRateLimit(string(l.cfg.Scope), outcome)
	return res
}

// retryAfter rounds the wait up to whole seconds, minimum one, matching the
// Retry-After header's resolution.
func retryAfter(now, resetAt time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	rounded := d.Truncate(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	return rounded
}
