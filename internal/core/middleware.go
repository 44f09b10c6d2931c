package core

import (
	"cmp"
	"net/http"
	"slices"
)

// Middleware wraps an http.Handler with one concern.
type Middleware func(http.Handler) http.Handler

// entry is a single middleware with a deterministic execution order. Lower
// order values run first (outermost).
type entry struct {
	mw    Middleware
	order int
}

// MiddlewareBuilder collects middleware entries and produces the sorted
// chain ready for wrapping.
type MiddlewareBuilder struct {
	entries []entry
}

// Add registers mw with the given order. A nil middleware is skipped so
// optional concerns can be wired unconditionally.
func (b *MiddlewareBuilder) Add(order int, mw Middleware) {
	if mw == nil {
		return
	}
	b.entries = append(b.entries, entry{mw: mw, order: order})
}

// Build sorts the collected middleware by order (stable) and returns the
// chain, outermost first.
func (b *MiddlewareBuilder) Build() []Middleware {
	slices.SortStableFunc(b.entries, func(a, c entry) int {
		return cmp.Compare(a.order, c.order)
	})
	out := make([]Middleware, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.mw)
	}
	return out
}
