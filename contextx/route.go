package contextx

import "context"

// WithRoute returns a derived context that carries the matched policy route
// name. The policy middleware stores it so the rate limiter and metrics can
// label work by route without re-resolving the request.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey, route)
}

// RouteFromContext extracts the policy route name stored in ctx.
// It returns an empty string when no route is present.
func RouteFromContext(ctx context.Context) string {
	r, _ := ctx.Value(routeKey).(string)
	return r
}
