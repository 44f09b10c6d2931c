package contextx

import "context"

// WithRequestID returns a derived context that carries the given request ID.
// The request-id middleware populates it from the X-Request-ID header,
// minting a fresh ID when the client sent none.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request ID stored in ctx.
// It returns an empty string when no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
