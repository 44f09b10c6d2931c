package httpmw

import (
	"context"
	"errors"
	"net/http"

	"github.com/kelpline/breakwater/contextx"
	"github.com/kelpline/breakwater/dedupe"
	"github.com/kelpline/breakwater/policy"
)

// HeaderIdempotencyKey carries the client-supplied idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

// Idempotency returns middleware that guards mutating requests carrying an
// Idempotency-Key header. The first execution's response is recorded and
// replayed unchanged for every retry within the retention window; a retry
// racing the first execution is answered 409 with a retry hint. Keys are
// scoped by the authenticated subject when one is present, so two callers
// picking the same key never share a result.
//
// Requests without the header pass through untouched. With no resolver
// every POST, PUT, PATCH and DELETE is eligible; with one, only routes
// whose policy sets Idempotency are.
func Idempotency(g *dedupe.Guard, resolver *policy.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" || !idempotencyEnabled(resolver, r) {
				next.ServeHTTP(w, r)
				return
			}
			if actor, ok := contextx.ActorFromContext(r.Context()); ok && actor.Subject != "" {
				key = actor.Subject + ":" + key
			}
			env, _, err := g.Run(r.Context(), key, func(ctx context.Context) (*dedupe.ResponseEnvelope, error) {
				rec := dedupe.NewRecorder()
				next.ServeHTTP(rec, r.WithContext(ctx))
				return rec.Envelope(), nil
			})
			if err != nil {
				if errors.Is(err, dedupe.ErrInProgress) {
					writeError(w, r, http.StatusConflict, CodeInProgress,
						"a request with this idempotency key is already processing", g.RetryHint())
					return
				}
				writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", 0)
				return
			}
			_ = env.Replay(w)
		})
	}
}

// idempotencyEnabled restricts the guard to mutating methods and, when a
// resolver is present, to routes that opted in.
func idempotencyEnabled(resolver *policy.Resolver, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	if resolver == nil {
		return true
	}
	_, pol, ok := resolver.Resolve(policy.RouteKey(r))
	return ok && pol != nil && pol.Idempotency
}
