// Package auth provides the authentication function type used by the
// optional authentication middleware.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrForbidden marks a caller that authenticated but lacks permission.
// The middleware answers it with 403 instead of 401.
var ErrForbidden = errors.New("auth: forbidden")

// AuthFunc is a user-supplied callback that authenticates a request.  On
// success it returns a (possibly enriched) context, typically carrying a
// contextx.Actor; on failure it returns an error.
//
// The library does NOT parse tokens — that is the responsibility of the
// AuthFunc implementation.
type AuthFunc func(ctx context.Context, r *http.Request) (context.Context, error)
