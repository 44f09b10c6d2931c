package policy

import (
	"regexp"
	"time"

	"github.com/kelpline/breakwater/ratelimit"
)

// Policy holds the resilience configuration that applies to a matched route
// group.
type Policy struct {
	// RateLimit overrides the gateway-wide limiter for the group.
	RateLimit *ratelimit.Config
	// CacheTTL is the entry lifetime handlers should use when caching
	// the group's upstream reads.
	CacheTTL time.Duration
	// CacheTags label the group's cached entries for tag invalidation.
	CacheTags []string
	// Dedup collapses concurrent identical safe-method requests into a
	// single in-process execution.
	Dedup bool
	// Idempotency applies the durable idempotency guard to the group's
	// mutating methods.
	Idempotency bool
	// Breaker names the circuit breaker guarding the group's upstream.
	Breaker string
	// Timeout bounds the wrapped handler.
	Timeout time.Duration
	// AuthRequired rejects unauthenticated requests before the handler.
	AuthRequired bool
}

// matchKind distinguishes the three matching strategies.
type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

// rule is a single matching rule inside a group.
type rule struct {
	kind    matchKind
	pattern string         // used for exact and prefix matches
	re      *regexp.Regexp // used for regex matches
}

// GroupBuilder constructs a route group with one or more matching rules and
// a policy. Routes are "METHOD /path" strings, e.g. "GET /api/products".
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new route group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact adds an exact-match rule for pattern.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex adds a regex-match rule for pattern.
// The pattern is compiled immediately; an invalid regex will panic.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// Policy attaches a Policy to the group and returns the finished builder.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
