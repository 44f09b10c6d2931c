package httpmw

import (
	"net/http"
	"time"

	"github.com/kelpline/breakwater/contextx"
	"github.com/kelpline/breakwater/metrics"
	"github.com/kelpline/breakwater/policy"
)

// routeLabel is the metrics label for requests no policy group matches.
// Labeling by group name instead of raw path keeps parameterized paths from
// exploding label cardinality.
const routeLabel = "default"

// Metrics returns middleware that records request totals, durations and the
// in-flight gauge on the collector. When a resolver is given, requests are
// labeled with their matched policy group name and the name is stored in
// the request context for downstream layers.
func Metrics(mc *metrics.Collector, resolver *policy.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel
			if resolver != nil {
				if name, _, ok := resolver.Resolve(policy.RouteKey(r)); ok {
					route = name
				}
			}
			r = r.WithContext(contextx.WithRoute(r.Context(), route))

			start := time.Now()
			mc.RecordRequestStart()
			sw := &statusWriter{ResponseWriter: w}
			defer func() {
				mc.RecordRequestEnd()
				mc.RecordRequest(r.Method, route, sw.code(), time.Since(start))
			}()
			next.ServeHTTP(sw, r)
		})
	}
}

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
