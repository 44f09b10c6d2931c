package httpmw

import (
	"net"
	"net/http"

	"github.com/kelpline/breakwater/contextx"
	"github.com/kelpline/breakwater/dedupe"
	"github.com/kelpline/breakwater/metrics"
	"github.com/kelpline/breakwater/policy"
)

// Dedup returns middleware that collapses concurrent identical safe-method
// requests into a single handler execution per process. Requests are
// identical when method, path+query and caller scope all match; the scope
// is the authenticated subject when present, the client address otherwise,
// so responses never cross callers. Responses are buffered whole for
// replay to the collapsed callers.
//
// With no resolver every GET and HEAD request participates; with one, only
// routes whose policy sets Dedup do.
func Dedup(resolver *policy.Resolver, clientIP func(*http.Request) string, mc *metrics.Collector) func(http.Handler) http.Handler {
	if clientIP == nil {
		clientIP = peerIP
	}
	var flight dedupe.Flight
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !dedupEnabled(resolver, r) {
				next.ServeHTTP(w, r)
				return
			}
			scope := clientIP(r)
			if actor, ok := contextx.ActorFromContext(r.Context()); ok && actor.Subject != "" {
				scope = actor.Subject
			}
			sig := dedupe.Signature(r.Method, r.URL.RequestURI(), scope)
			env, shared, err := flight.Do(sig, func() (*dedupe.ResponseEnvelope, error) {
				rec := dedupe.NewRecorder()
				next.ServeHTTP(rec, r)
				return rec.Envelope(), nil
			})
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", 0)
				return
			}
			if shared {
				mc.RecordDedupHit("singleflight")
			}
			_ = env.Replay(w)
		})
	}
}

// dedupEnabled restricts collapsing to safe methods and, when a resolver is
// present, to routes that opted in.
func dedupEnabled(resolver *policy.Resolver, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if resolver == nil {
		return true
	}
	_, pol, ok := resolver.Resolve(policy.RouteKey(r))
	return ok && pol != nil && pol.Dedup
}

// peerIP is the fallback scope derivation: the peer address with the port
// stripped.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
