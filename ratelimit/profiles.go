package ratelimit

import "time"

// Profiles bundle scope, algorithm, limit, window and fallback under stable
// names, so deployments pick policies instead of repeating numbers. The
// values mirror the storefront's production load shape.

// AuthProfile guards credential endpoints: a tight sliding window that fails
// closed, because letting a credential-stuffing run through during a store
// outage is worse than turning logins away.
func AuthProfile() Config {
	return Config{
		Name:      "auth",
		Scope:     ScopeIP,
		Algorithm: SlidingWindow,
		Limit:     10,
		Window:    15 * time.Minute,
		Fallback:  FallbackDeny,
	}
}

// APIKeyProfile is the general quota for integrated API clients.
func APIKeyProfile() Config {
	return Config{
		Name:      "api_key",
		Scope:     ScopeAPIKey,
		Algorithm: SlidingWindow,
		Limit:     1000,
		Window:    time.Hour,
		Fallback:  FallbackAllow,
	}
}

// CatalogProfile covers anonymous browse traffic. Fixed windows are fine
// here; a boundary burst on product listings costs nothing.
func CatalogProfile() Config {
	return Config{
		Name:      "catalog",
		Scope:     ScopeIP,
		Algorithm: FixedWindow,
		Limit:     100,
		Window:    time.Minute,
		Fallback:  FallbackAllow,
	}
}

// CheckoutProfile limits order placement per authenticated customer. Local
// fallback keeps some bound on checkout abuse even through a store outage.
func CheckoutProfile() Config {
	return Config{
		Name:      "checkout",
		Scope:     ScopeUser,
		Algorithm: SlidingWindow,
		Limit:     30,
		Window:    time.Minute,
		Fallback:  FallbackLocal,
	}
}

// WebhookProfile bounds inbound webhook deliveries per endpoint.
func WebhookProfile() Config {
	return Config{
		Name:      "webhook",
		Scope:     ScopeEndpoint,
		Algorithm: FixedWindow,
		Limit:     120,
		Window:    time.Minute,
		Fallback:  FallbackAllow,
	}
}

var profiles = map[string]func() Config{
	"auth":     AuthProfile,
	"api_key":  APIKeyProfile,
	"catalog":  CatalogProfile,
	"checkout": CheckoutProfile,
	"webhook":  WebhookProfile,
}

// Profile returns the named built-in profile configuration.
func Profile(name string) (Config, bool) {
	f, ok := profiles[name]
	if !ok {
		return Config{}, false
	}
	return f(), true
}
