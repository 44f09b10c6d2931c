package httpmw

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func webhookRequest(header, id string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/orders", nil)
	if id != "" {
		r.Header.Set(header, id)
	}
	return r
}

func TestWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	var calls atomic.Int32
	h := Webhook(newTestGuard(t), "")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "processed")
	}))

	first := do(h, webhookRequest(HeaderDeliveryID, "evt-1"))
	if first.Code != http.StatusOK || first.Body.String() != "processed" {
		t.Fatalf("first delivery: got %d %q", first.Code, first.Body.String())
	}

	second := do(h, webhookRequest(HeaderDeliveryID, "evt-1"))
	if second.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want %d", second.Code, http.StatusOK)
	}
	if got := second.Body.String(); got != string(ackBody) {
		t.Fatalf("duplicate body = %q, want the ack %q", got, ackBody)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
}

func TestWebhook_FailedDeliveryIsReprocessed(t *testing.T) {
	var calls atomic.Int32
	h := Webhook(newTestGuard(t), "")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	// The failure is relayed so the sender retries.
	if rr := do(h, webhookRequest(HeaderDeliveryID, "evt-1")); rr.Code != http.StatusBadGateway {
		t.Fatalf("first delivery status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
	// The retry reprocesses and succeeds.
	if rr := do(h, webhookRequest(HeaderDeliveryID, "evt-1")); rr.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want %d", rr.Code, http.StatusOK)
	}
	// Only now do further re-sends become no-ops.
	if rr := do(h, webhookRequest(HeaderDeliveryID, "evt-1")); rr.Body.String() != string(ackBody) {
		t.Fatalf("re-send after success should be acknowledged, got %q", rr.Body.String())
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("handler ran %d times, want 2", got)
	}
}

func TestWebhook_NoDeliveryID_Passthrough(t *testing.T) {
	var calls atomic.Int32
	h := Webhook(newTestGuard(t), "")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	do(h, webhookRequest(HeaderDeliveryID, ""))
	do(h, webhookRequest(HeaderDeliveryID, ""))

	if got := calls.Load(); got != 2 {
		t.Fatalf("handler ran %d times, want 2", got)
	}
}

func TestWebhook_CustomHeaderName(t *testing.T) {
	var calls atomic.Int32
	h := Webhook(newTestGuard(t), "X-GitHub-Delivery")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	do(h, webhookRequest("X-GitHub-Delivery", "gh-1"))
	rr := do(h, webhookRequest("X-GitHub-Delivery", "gh-1"))

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
	if rr.Body.String() != string(ackBody) {
		t.Fatalf("duplicate body = %q, want the ack", rr.Body.String())
	}
}

func TestWebhook_ConcurrentDuplicate_Returns409(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 2)
	h := Webhook(newTestGuard(t), "")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-gate
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		do(h, webhookRequest(HeaderDeliveryID, "evt-1"))
	}()
	<-started

	rr := do(h, webhookRequest(HeaderDeliveryID, "evt-1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if detail := decodeError(t, rr.Body.Bytes()); detail.Code != CodeInProgress {
		t.Fatalf("code = %q, want %q", detail.Code, CodeInProgress)
	}

	close(gate)
	<-done
}
