package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// defaultHeaderPriority is the ordered list of headers inspected when the
// caller does not provide an explicit HeaderPriority.
var defaultHeaderPriority = []string{"X-Real-IP", "X-Forwarded-For"}

// Resolver derives the effective client address for a request. Forwarding
// headers are honored only when the directly connected peer is a trusted
// proxy; otherwise anyone could spoof their way past IP-scoped limits.
type Resolver struct {
	trustedProxies []netip.Prefix
	headerPriority []string
}

// NewResolver builds a Resolver from trusted-proxy CIDR strings and an
// ordered header list. An empty header list uses X-Real-IP then
// X-Forwarded-For.
func NewResolver(trustedProxies, headerPriority []string) (*Resolver, error) {
	proxies, err := parsePrefixes(trustedProxies)
	if err != nil {
		return nil, fmt.Errorf("security: invalid trusted proxy: %w", err)
	}
	if len(headerPriority) == 0 {
		headerPriority = defaultHeaderPriority
	}
	return &Resolver{trustedProxies: proxies, headerPriority: headerPriority}, nil
}

// ClientIP resolves the client address for r.
//
// The peer address comes from r.RemoteAddr. If that peer is a trusted proxy,
// the headers are walked in priority order and the first valid IP wins;
// otherwise (or when no header carries one) the peer address itself is the
// client.
func (rs *Resolver) ClientIP(r *http.Request) (netip.Addr, bool) {
	peer, ok := parseHostAddr(r.RemoteAddr)
	if !ok {
		return netip.Addr{}, false
	}

	if matchesAny(peer, rs.trustedProxies) {
		if addr, found := addrFromHeaders(r.Header, rs.headerPriority); found {
			return addr, true
		}
	}

	return peer, true
}

// parseHostAddr parses a peer address string, stripping any port.
func parseHostAddr(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip, true
}

// addrFromHeaders walks the header keys in priority order and returns the
// first valid IP address found. For multi-value headers such as
// X-Forwarded-For the left-most (client) entry is used.
func addrFromHeaders(h http.Header, priority []string) (netip.Addr, bool) {
	for _, key := range priority {
		vals := h.Values(key)
		for _, v := range vals {
			// X-Forwarded-For may contain comma-separated IPs.
			for part := range strings.SplitSeq(v, ",") {
				trimmed := strings.TrimSpace(part)
				if trimmed == "" {
					continue
				}
				if ip, err := netip.ParseAddr(trimmed); err == nil {
					return ip, true
				}
			}
		}
	}
	return netip.Addr{}, false
}
