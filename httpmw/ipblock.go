package httpmw

import (
	"net/http"

	"github.com/kelpline/breakwater/security"
)

// IPBlock returns middleware that rejects requests whose resolved client
// address fails the blocker's allow/deny evaluation. A nil blocker is a
// passthrough so the slot can be wired unconditionally.
func IPBlock(b *security.IPBlocker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if b == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.Evaluate(r) {
				writeError(w, r, http.StatusForbidden, CodeForbidden, "request blocked by ip policy", 0)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
