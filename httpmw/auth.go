package httpmw

import (
	"errors"
	"net/http"

	"github.com/kelpline/breakwater/auth"
	"github.com/kelpline/breakwater/policy"
)

// Auth returns middleware that runs the application's AuthFunc on every
// request and forwards the enriched context on success, so downstream
// layers can scope work by the authenticated actor.
//
// Authentication failures only reject the request on routes whose policy
// sets AuthRequired; everywhere else the request proceeds anonymously with
// the original context. With no resolver, failures always reject. A nil fn
// is a passthrough.
func Auth(fn auth.AuthFunc, resolver *policy.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if fn == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := fn(r.Context(), r)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if !authRequired(resolver, r) {
				next.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, auth.ErrForbidden) {
				writeError(w, r, http.StatusForbidden, CodeForbidden, "access denied", 0)
				return
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "authentication required", 0)
		})
	}
}

// authRequired reports whether an authentication failure must reject the
// request. Routes opt out through their policy group.
func authRequired(resolver *policy.Resolver, r *http.Request) bool {
	if resolver == nil {
		return true
	}
	_, pol, ok := resolver.Resolve(policy.RouteKey(r))
	if !ok || pol == nil {
		return false
	}
	return pol.AuthRequired
}
