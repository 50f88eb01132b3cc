package http

import (
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig controls how the client IP is derived from a request. Forwarding
// headers are honored only when the direct peer is inside TrustedProxies.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of proxies allowed to set forwarding headers
}

// ExtractClientIP returns the client address for a request. Requests arriving
// through a trusted proxy use the first valid address in X-Forwarded-For,
// then X-Real-IP. Direct connections always use the socket peer address, so
// spoofed forwarding headers from untrusted sources are ignored.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer := peerAddr(r)

	if config != nil && peer.IsValid() && fromTrustedProxy(peer, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, hop := range strings.Split(xff, ",") {
				if addr, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
					return addr.Unmap().String()
				}
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if addr, err := netip.ParseAddr(xri); err == nil {
				return addr.Unmap().String()
			}
		}
	}

	if peer.IsValid() {
		return peer.String()
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// peerAddr parses the socket address, tolerating a missing port.
func peerAddr(r *http.Request) netip.Addr {
	if r.RemoteAddr == "" {
		return netip.Addr{}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

// fromTrustedProxy reports whether addr falls inside any configured CIDR.
// Malformed entries are skipped rather than treated as matches.
func fromTrustedProxy(addr netip.Addr, trustedProxies []string) bool {
	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
