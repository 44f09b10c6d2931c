// Package policy maps routes to resilience profiles. Routes are grouped by
// exact, prefix or regex rules; a group's Policy decides the limiter
// configuration, cache TTL and tags, idempotency, breaker name and auth
// requirement that the middleware applies to matching requests.
package policy

import "net/http"

// RouteKey is the canonical "METHOD /path" form the resolver matches on.
func RouteKey(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

// Resolver holds a set of route groups and resolves a route to the
// best-matching group and its associated policy.
type Resolver struct {
	groups []*GroupBuilder
}

// NewResolver creates a Resolver from the supplied group builders.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve finds the best-matching group for route.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - When two matches have equal kind and length the group that was
//     registered first (stable order) wins.
//
// If no group matches, ok is false.
func (res *Resolver) Resolve(route string) (groupName string, pol *Policy, ok bool) {
	bestKind := matchKind(-1)
	bestLen := -1

	for _, g := range res.groups {
		for _, r := range g.rules {
			matched, mLen := r.match(route)
			if !matched {
				continue
			}
			// A lower kind value means higher priority.
			better := bestKind < 0 ||
				r.kind < bestKind ||
				(r.kind == bestKind && mLen > bestLen)
			if better {
				bestKind = r.kind
				bestLen = mLen
				groupName = g.name
				pol = g.policy
				ok = true
			}
		}
	}
	return groupName, pol, ok
}
