// Package httpmw provides the HTTP middleware that composes the resilience
// layers around a handler: panic recovery, request ids, metrics, IP
// blocking, authentication, read deduplication, idempotency and rate
// limiting. Each concern has one constructor returning a standard
// func(http.Handler) http.Handler, so callers can use the pieces
// individually or let the gateway assemble the full chain.
//
// Errors leave the package as a single JSON envelope carrying a stable
// machine code, an optional retry hint and the request's correlation ids.
// Internal failures are never serialized verbatim to clients.
package httpmw

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kelpline/breakwater/contextx"
	"github.com/kelpline/breakwater/tracing"
)

// Stable machine codes for the error envelope. Clients switch on these,
// not on messages.
const (
	CodeRateLimited  = "RATE_LIMITED"
	CodeInProgress   = "IDEMPOTENCY_IN_PROGRESS"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeUnavailable  = "UPSTREAM_UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

// errorBody is the JSON envelope for every error response the middleware
// writes.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter is the suggested wait in whole seconds, mirrored from
	// the Retry-After header when one is set.
	RetryAfter int64  `json:"retryAfter,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
}

// internalBody is allocated once so the recovery path never depends on the
// JSON encoder after a panic.
var internalBody = []byte(`{"error":{"code":"INTERNAL","message":"internal server error"}}` + "\n")

// writeError writes the envelope with the given status and code. A positive
// retryAfter also sets the Retry-After header, rounded up to whole seconds.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string, retryAfter time.Duration) {
	secs := int64(0)
	if retryAfter > 0 {
		secs = int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	body := errorBody{Error: errorDetail{
		Code:       code,
		Message:    msg,
		RetryAfter: secs,
		RequestID:  contextx.RequestIDFromContext(r.Context()),
		TraceID:    tracing.TraceIDFromContext(r.Context()),
	}}
	buf, err := json.Marshal(body)
	if err != nil {
		buf = internalBody
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
