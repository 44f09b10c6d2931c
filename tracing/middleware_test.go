package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestConfig returns a TracingConfig backed by an in-memory span recorder.
func newTestConfig(t *testing.T) (*TracingConfig, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return &TracingConfig{
		TracerProvider: tp,
		Propagators:    propagation.TraceContext{},
	}, rec
}

func TestMiddleware_CreatesSpan(t *testing.T) {
	cfg, rec := newTestConfig(t)
	mw := Middleware(cfg)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /api/products" {
		t.Fatalf("expected span name %q, got %q", "GET /api/products", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Fatalf("expected SpanKindServer, got %v", span.SpanKind())
	}

	assertAttr(t, span.Attributes(), "http.request.method", "GET")
	assertAttr(t, span.Attributes(), "url.path", "/api/products")
	assertAttr(t, span.Attributes(), "http.response.status_code", "200")
}

func TestMiddleware_RecordsServerError(t *testing.T) {
	cfg, rec := newTestConfig(t)
	mw := Middleware(cfg)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status().Code != codes.Error {
		t.Fatalf("expected Error status, got %v", span.Status().Code)
	}
	assertAttr(t, span.Attributes(), "http.response.status_code", "502")
}

func TestMiddleware_ClientErrorIsNotSpanError(t *testing.T) {
	cfg, rec := newTestConfig(t)
	mw := Middleware(cfg)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products/none", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	// A 404 is the server doing its job.
	if spans[0].Status().Code == codes.Error {
		t.Fatal("4xx must not mark the span as an error")
	}
}

func TestMiddleware_NilConfig_Passthrough(t *testing.T) {
	mw := Middleware(nil)

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if !called {
		t.Fatal("handler was not called")
	}
	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}
}

func TestMiddleware_ExtractsTraceContext(t *testing.T) {
	cfg, rec := newTestConfig(t)
	mw := Middleware(cfg)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	handler.ServeHTTP(httptest.NewRecorder(), r)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	sc := spans[0].SpanContext()
	if sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace context not extracted; traceID = %s", sc.TraceID())
	}
}

func TestTraceIDFromContext(t *testing.T) {
	if got := TraceIDFromContext(t.Context()); got != "" {
		t.Fatalf("untraced context should give %q, got %q", "", got)
	}

	cfg, _ := newTestConfig(t)
	mw := Middleware(cfg)

	var inHandler string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if inHandler == "" {
		t.Fatal("expected a trace id inside a traced request")
	}
}

func assertAttr(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			if a.Value.Emit() != want {
				t.Errorf("attribute %q = %q, want %q", key, a.Value.Emit(), want)
			}
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}
