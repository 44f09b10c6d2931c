package httpmw

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kelpline/breakwater/internal/logging"
)

// Recovery returns middleware that recovers from handler panics and answers
// with a generic internal error instead of crashing the process. It belongs
// at the outermost position of the chain so no other layer runs unprotected.
func Recovery(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logging.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					// net/http uses this sentinel to abort a response on
					// purpose; it must keep propagating.
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.Error("panic recovered",
						"panic", v,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write(internalBody)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
