package core

import "net/http"

// Chain wraps final in the middleware chain, first entry outermost. This
// keeps the wiring logic isolated from the public API surface.
func Chain(final http.Handler, mws []Middleware) http.Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
