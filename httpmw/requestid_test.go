package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kelpline/breakwater/contextx"
)

func TestRequestID_MintsWhenAbsent(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextx.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := do(h, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(seen) != 32 {
		t.Fatalf("request id = %q, want 32 hex chars", seen)
	}
	if got := rr.Header().Get(HeaderRequestID); got != seen {
		t.Fatalf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestID_HonorsClientHeader(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextx.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, "upstream-7")
	rr := do(h, r)

	if seen != "upstream-7" {
		t.Fatalf("context id = %q, want %q", seen, "upstream-7")
	}
	if got := rr.Header().Get(HeaderRequestID); got != "upstream-7" {
		t.Fatalf("echoed id = %q, want %q", got, "upstream-7")
	}
}

func TestRequestID_DistinctPerRequest(t *testing.T) {
	var ids []string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, contextx.RequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	do(h, httptest.NewRequest(http.MethodGet, "/", nil))
	do(h, httptest.NewRequest(http.MethodGet, "/", nil))

	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct ids, got %v", ids)
	}
}
