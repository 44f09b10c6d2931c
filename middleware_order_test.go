package breakwater

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func tagMiddleware(tag string, log *[]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*log = append(*log, tag)
			next.ServeHTTP(w, r)
		})
	}
}

func TestMiddlewareOrderDeterminesExecution(t *testing.T) {
	var log []string

	// Register in reverse order; the slot values should sort them.
	gw, err := New(
		WithMiddleware(OrderRateLimit+1, tagMiddleware("C", &log)),
		WithMiddleware(OrderRecovery+1, tagMiddleware("A", &log)),
		WithMiddleware(OrderAuth+1, tagMiddleware("B", &log)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := gw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log = append(log, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"A", "B", "C", "handler"}
	if !slices.Equal(log, want) {
		t.Fatalf("execution order = %v, want %v", log, want)
	}
}

func TestMiddlewareOrderStableForSameOrder(t *testing.T) {
	var log []string

	gw, err := New(
		WithMiddleware(OrderAuth, tagMiddleware("first", &log)),
		WithMiddleware(OrderAuth, tagMiddleware("second", &log)),
		WithMiddleware(OrderAuth, tagMiddleware("third", &log)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := gw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log = append(log, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"first", "second", "third", "handler"}
	if !slices.Equal(log, want) {
		t.Fatalf("execution order = %v, want %v", log, want)
	}
}

func TestMiddlewareRunsInsideBuiltinLayers(t *testing.T) {
	var sawRequestID string

	gw, err := New(WithMiddleware(OrderAuth, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawRequestID = w.Header().Get("X-Request-ID")
			next.ServeHTTP(w, r)
		})
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := gw.Wrap(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if sawRequestID == "" {
		t.Fatal("middleware at OrderAuth ran before request id assignment")
	}
}
