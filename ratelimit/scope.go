package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"net"
	"net/http"
	"strconv"

	"github.com/kelpline/breakwater/contextx"
)

// APIKeyHeader carries the client credential the api_key scope hashes.
const APIKeyHeader = "X-API-Key"

// identify derives the window identifier for a request per the configured
// scope, unless a custom KeyFunc overrides it.
func (l *Limiter) identify(r *http.Request) string {
	if l.cfg.KeyFunc != nil {
		return l.cfg.KeyFunc(r)
	}
	switch l.cfg.Scope {
	case ScopeAPIKey:
		return l.apiKeyIdentifier(r)
	case ScopeUser:
		return l.userIdentifier(r)
	case ScopeEndpoint:
		return endpointIdentifier(r)
	default:
		return l.ipIdentifier(r)
	}
}

// ipIdentifier combines the client address with a hash of the user agent, so
// one address rotating agents still shares a window while trivially spoofed
// agents cannot hop windows for free.
func (l *Limiter) ipIdentifier(r *http.Request) string {
	return l.clientIP(r) + "#" + fnvHash(r.UserAgent())
}

// apiKeyIdentifier hashes the credential so raw keys never land in the
// store. Requests without a key degrade to the IP identifier.
func (l *Limiter) apiKeyIdentifier(r *http.Request) string {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return l.ipIdentifier(r)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// userIdentifier uses the authenticated subject; anonymous requests degrade
// to the IP identifier.
func (l *Limiter) userIdentifier(r *http.Request) string {
	if actor, ok := contextx.ActorFromContext(r.Context()); ok && actor.Subject != "" {
		return actor.Subject
	}
	return l.ipIdentifier(r)
}

// endpointIdentifier keys the window by route shape, limiting an endpoint's
// total traffic regardless of caller.
func endpointIdentifier(r *http.Request) string {
	return fnvHash(r.Method + " " + r.URL.Path)
}

// remoteIP is the default client address derivation: the peer address with
// the port stripped. The security package supplies a trusted-proxy-aware
// replacement via WithClientIP.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func fnvHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return strconv.FormatUint(h.Sum64(), 16)
}
