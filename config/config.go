// Package config loads and validates gateway configuration from TOML
// files, producing the option set [breakwater.New] consumes. Everything a
// deployment tunes without recompiling lives here: the Redis address,
// cache sizes and ceilings, limiter profiles, breaker thresholds,
// idempotency retention and the route policy table.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/kelpline/breakwater"
	"github.com/kelpline/breakwater/breaker"
	"github.com/kelpline/breakwater/cache"
	"github.com/kelpline/breakwater/dedupe"
	"github.com/kelpline/breakwater/internal/logging"
	"github.com/kelpline/breakwater/keystore"
	"github.com/kelpline/breakwater/policy"
	"github.com/kelpline/breakwater/ratelimit"
	"github.com/kelpline/breakwater/security"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "500ms" or "1m30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) value() time.Duration {
	return time.Duration(d)
}

// RedisSection configures the shared Redis keystore.
type RedisSection struct {
	Addr      string   `toml:"addr"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	OpTimeout Duration `toml:"op_timeout"`
}

// CacheSection configures the tiered response cache.
type CacheSection struct {
	MaxBytes             int64    `toml:"max_bytes"`
	Prefix               string   `toml:"prefix"`
	MaxPayload           int      `toml:"max_payload"`
	CompressionThreshold int      `toml:"compression_threshold"`
	ProtectionTTL        Duration `toml:"protection_ttl"`
}

// RateLimitSection configures a limiter, either from a named profile with
// optional field overrides or entirely from explicit fields.
type RateLimitSection struct {
	Profile   string   `toml:"profile"`
	Scope     string   `toml:"scope"`
	Algorithm string   `toml:"algorithm"`
	Limit     int64    `toml:"limit"`
	Window    Duration `toml:"window"`
	Fallback  string   `toml:"fallback"`
}

// IdempotencySection configures the duplicate-suppression guard.
type IdempotencySection struct {
	Enabled   bool     `toml:"enabled"`
	Retention Duration `toml:"retention"`
	LockTTL   Duration `toml:"lock_ttl"`
	RetryHint Duration `toml:"retry_hint"`
	Prefix    string   `toml:"prefix"`
}

// DedupSection toggles collapsing of concurrent identical reads.
type DedupSection struct {
	Enabled bool `toml:"enabled"`
}

// BreakerSection holds one breaker's thresholds.
type BreakerSection struct {
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  Duration `toml:"recovery_timeout"`
}

// BreakersSection holds the registry defaults plus per-dependency
// overrides keyed by dependency name.
type BreakersSection struct {
	FailureThreshold int                       `toml:"failure_threshold"`
	RecoveryTimeout  Duration                  `toml:"recovery_timeout"`
	Dependency       map[string]BreakerSection `toml:"dependency"`
}

// IPBlockSection configures client address filtering.
type IPBlockSection struct {
	Mode           string   `toml:"mode"`
	CIDRs          []string `toml:"cidrs"`
	TrustedProxies []string `toml:"trusted_proxies"`
	HeaderPriority []string `toml:"header_priority"`
}

// GroupSection declares one route policy group.
type GroupSection struct {
	Name         string            `toml:"name"`
	Exact        []string          `toml:"exact"`
	Prefix       []string          `toml:"prefix"`
	Regex        []string          `toml:"regex"`
	RateLimit    *RateLimitSection `toml:"rate_limit"`
	CacheTTL     Duration          `toml:"cache_ttl"`
	CacheTags    []string          `toml:"cache_tags"`
	Dedup        bool              `toml:"dedup"`
	Idempotency  bool              `toml:"idempotency"`
	Breaker      string            `toml:"breaker"`
	Timeout      Duration          `toml:"timeout"`
	AuthRequired bool              `toml:"auth_required"`
}

// File mirrors the expected gateway TOML schema.
type File struct {
	Verbose     bool                `toml:"verbose"`
	Redis       *RedisSection       `toml:"redis"`
	Cache       *CacheSection       `toml:"cache"`
	RateLimit   *RateLimitSection   `toml:"rate_limit"`
	Idempotency *IdempotencySection `toml:"idempotency"`
	Dedup       *DedupSection       `toml:"dedup"`
	Breakers    *BreakersSection    `toml:"breakers"`
	IPBlock     *IPBlockSection     `toml:"ip_block"`
	Groups      []GroupSection      `toml:"group"`
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	// Strict turns unknown-key warnings into errors.
	Strict bool
}

// Result wraps the assembled gateway options alongside any non-fatal
// warnings.
type Result struct {
	Options  []breakwater.Option
	Warnings []string
}

// Load reads, validates and resolves a gateway configuration file. The
// returned options are ready for [breakwater.New]; callers append their
// code-level options (auth hooks, custom middleware) after them.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknown, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknown, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	options, err := assemble(path, f)
	if err != nil {
		return res, err
	}
	res.Options = options
	return res, nil
}

// assemble turns the parsed file into gateway options, validating every
// section on the way.
func assemble(path string, f File) ([]breakwater.Option, error) {
	var options []breakwater.Option

	if f.Verbose {
		options = append(options, breakwater.WithLogger(logging.New(logging.Options{Verbose: true})))
	}

	if f.Redis != nil {
		if f.Redis.Addr == "" {
			return nil, fmt.Errorf("%s: redis: addr is required", path)
		}
		options = append(options, breakwater.WithRedis(keystore.RedisConfig{
			Addr:      f.Redis.Addr,
			Password:  f.Redis.Password,
			DB:        f.Redis.DB,
			OpTimeout: f.Redis.OpTimeout.value(),
		}))
	}

	if f.Cache != nil {
		if f.Cache.MaxBytes <= 0 {
			return nil, fmt.Errorf("%s: cache: max_bytes must be positive", path)
		}
		var tiered []cache.TieredOption
		if f.Cache.Prefix != "" {
			tiered = append(tiered, cache.WithPrefix(f.Cache.Prefix))
		}
		if f.Cache.MaxPayload > 0 {
			tiered = append(tiered, cache.WithMaxPayload(f.Cache.MaxPayload))
		}
		if f.Cache.CompressionThreshold > 0 {
			tiered = append(tiered, cache.WithCompressionThreshold(f.Cache.CompressionThreshold))
		}
		if f.Cache.ProtectionTTL > 0 {
			tiered = append(tiered, cache.WithProtectionTTL(f.Cache.ProtectionTTL.value()))
		}
		options = append(options, breakwater.WithCache(f.Cache.MaxBytes, tiered...))
	}

	if f.RateLimit != nil {
		cfg, err := resolveRateLimit(path, "rate_limit", f.RateLimit)
		if err != nil {
			return nil, err
		}
		options = append(options, breakwater.WithRateLimit(cfg))
	}

	if len(f.Groups) > 0 {
		groups := make([]*policy.GroupBuilder, 0, len(f.Groups))
		for i, gc := range f.Groups {
			b, err := buildGroup(path, i, gc)
			if err != nil {
				return nil, err
			}
			groups = append(groups, b)
		}
		options = append(options, breakwater.WithPolicies(policy.NewResolver(groups...)))
	}

	if f.Breakers != nil {
		if f.Breakers.FailureThreshold < 0 {
			return nil, fmt.Errorf("%s: breakers: failure_threshold must not be negative", path)
		}
		options = append(options, breakwater.WithBreakers(breaker.Config{
			FailureThreshold: f.Breakers.FailureThreshold,
			RecoveryTimeout:  f.Breakers.RecoveryTimeout.value(),
		}))
		names := make([]string, 0, len(f.Breakers.Dependency))
		for name := range f.Breakers.Dependency {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			dep := f.Breakers.Dependency[name]
			if dep.FailureThreshold < 0 {
				return nil, fmt.Errorf("%s: breakers.dependency.%s: failure_threshold must not be negative", path, name)
			}
			options = append(options, breakwater.WithBreaker(name, breaker.Config{
				FailureThreshold: dep.FailureThreshold,
				RecoveryTimeout:  dep.RecoveryTimeout.value(),
			}))
		}
	}

	if f.Idempotency != nil && f.Idempotency.Enabled {
		options = append(options, breakwater.WithIdempotency(dedupe.Config{
			Retention: f.Idempotency.Retention.value(),
			LockTTL:   f.Idempotency.LockTTL.value(),
			RetryHint: f.Idempotency.RetryHint.value(),
			Prefix:    f.Idempotency.Prefix,
		}))
	}

	if f.Dedup != nil && f.Dedup.Enabled {
		options = append(options, breakwater.WithReadDedup())
	}

	if f.IPBlock != nil {
		mode, err := resolveMode(path, f.IPBlock.Mode)
		if err != nil {
			return nil, err
		}
		options = append(options, breakwater.WithIPBlock(security.Config{
			Mode:           mode,
			CIDRs:          f.IPBlock.CIDRs,
			TrustedProxies: f.IPBlock.TrustedProxies,
			HeaderPriority: f.IPBlock.HeaderPriority,
		}))
	}

	return options, nil
}

// resolveRateLimit turns a section into a limiter config. A named profile
// supplies the base; explicit fields override it. section names the spot in
// the file for error messages.
func resolveRateLimit(path, section string, rc *RateLimitSection) (ratelimit.Config, error) {
	var cfg ratelimit.Config
	if rc.Profile != "" {
		base, ok := ratelimit.Profile(rc.Profile)
		if !ok {
			return cfg, fmt.Errorf("%s: %s: unknown profile %q", path, section, rc.Profile)
		}
		cfg = base
	}

	if rc.Scope != "" {
		switch s := ratelimit.Scope(rc.Scope); s {
		case ratelimit.ScopeIP, ratelimit.ScopeAPIKey, ratelimit.ScopeUser, ratelimit.ScopeEndpoint:
			cfg.Scope = s
		default:
			return cfg, fmt.Errorf("%s: %s: unknown scope %q", path, section, rc.Scope)
		}
	}
	if rc.Algorithm != "" {
		switch a := ratelimit.Algorithm(rc.Algorithm); a {
		case ratelimit.FixedWindow, ratelimit.SlidingWindow:
			cfg.Algorithm = a
		default:
			return cfg, fmt.Errorf("%s: %s: unknown algorithm %q", path, section, rc.Algorithm)
		}
	}
	if rc.Fallback != "" {
		switch fb := ratelimit.Fallback(rc.Fallback); fb {
		case ratelimit.FallbackAllow, ratelimit.FallbackDeny, ratelimit.FallbackLocal:
			cfg.Fallback = fb
		default:
			return cfg, fmt.Errorf("%s: %s: unknown fallback %q", path, section, rc.Fallback)
		}
	}
	if rc.Limit < 0 {
		return cfg, fmt.Errorf("%s: %s: limit must not be negative", path, section)
	}
	if rc.Limit > 0 {
		cfg.Limit = rc.Limit
	}
	if rc.Window > 0 {
		cfg.Window = rc.Window.value()
	}
	return cfg, nil
}

// buildGroup validates one [[group]] section and produces its builder.
func buildGroup(path string, index int, gc GroupSection) (*policy.GroupBuilder, error) {
	if gc.Name == "" {
		return nil, fmt.Errorf("%s: group %d: name is required", path, index)
	}
	if len(gc.Exact)+len(gc.Prefix)+len(gc.Regex) == 0 {
		return nil, fmt.Errorf("%s: group %q: at least one exact, prefix or regex pattern is required", path, gc.Name)
	}

	b := policy.Group(gc.Name)
	for _, p := range gc.Exact {
		b.Exact(p)
	}
	for _, p := range gc.Prefix {
		b.Prefix(p)
	}
	for _, p := range gc.Regex {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%s: group %q: invalid regex %q: %w", path, gc.Name, p, err)
		}
		b.Regex(p)
	}

	pol := policy.Policy{
		CacheTTL:     gc.CacheTTL.value(),
		CacheTags:    gc.CacheTags,
		Dedup:        gc.Dedup,
		Idempotency:  gc.Idempotency,
		Breaker:      gc.Breaker,
		Timeout:      gc.Timeout.value(),
		AuthRequired: gc.AuthRequired,
	}
	if gc.RateLimit != nil {
		cfg, err := resolveRateLimit(path, fmt.Sprintf("group %q: rate_limit", gc.Name), gc.RateLimit)
		if err != nil {
			return nil, err
		}
		pol.RateLimit = &cfg
	}
	return b.Policy(pol), nil
}

// resolveMode maps the ip_block mode string onto the security mode.
func resolveMode(path, mode string) (security.Mode, error) {
	switch mode {
	case "allow":
		return security.AllowList, nil
	case "deny":
		return security.DenyList, nil
	default:
		return 0, fmt.Errorf("%s: ip_block: mode must be %q or %q, got %q", path, "allow", "deny", mode)
	}
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := map[string]struct{}{
		"verbose":     {},
		"redis":       {},
		"cache":       {},
		"rate_limit":  {},
		"idempotency": {},
		"dedup":       {},
		"breakers":    {},
		"ip_block":    {},
		"group":       {},
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}
