package core

// Canonical middleware orders, spaced so a caller can slot custom
// middleware between any two built-ins. Lower runs first (outermost).
//
// Recovery is outermost so a panic anywhere below still produces a
// response. Deduplication and the idempotency guard run before rate
// limiting: a replayed or collapsed request never consumes limiter budget.
const (
	OrderRecovery    = 10
	OrderRequestID   = 20
	OrderTracing     = 30
	OrderMetrics     = 40
	OrderIPBlock     = 50
	OrderAuth        = 60
	OrderDedup       = 70
	OrderIdempotency = 80
	OrderRateLimit   = 90
)
