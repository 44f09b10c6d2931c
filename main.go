// Package breakwater composes the resilience substrate of an HTTP gateway:
// distributed rate limiting, a two-tier response cache, per-dependency
// circuit breakers and duplicate-request suppression, assembled into a
// middleware chain by functional [Option] values passed to [New].
package breakwater

import "github.com/kelpline/breakwater/internal/core"

// Chain slots, outermost first. WithMiddleware pins caller-supplied
// middleware to one of these; offsets between two slots (for example
// OrderAuth+5) land between the built-in layers.
const (
	OrderRecovery    = core.OrderRecovery
	OrderRequestID   = core.OrderRequestID
	OrderTracing     = core.OrderTracing
	OrderMetrics     = core.OrderMetrics
	OrderIPBlock     = core.OrderIPBlock
	OrderAuth        = core.OrderAuth
	OrderDedup       = core.OrderDedup
	OrderIdempotency = core.OrderIdempotency
	OrderRateLimit   = core.OrderRateLimit
)
