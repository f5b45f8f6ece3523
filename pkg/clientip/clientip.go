// Package clientip resolves a stable client identity (an IP address) for
// rate limiting and user-scoped cache keys.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when no address can be derived from the request.
const Unknown = "unknown"

// Header names consulted after the transport peer address.
const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

// Identify returns the client identity for r.
//
// Resolution order:
//  1. transport peer address (RemoteAddr, port and IPv6 brackets removed)
//  2. first entry of X-Forwarded-For
//  3. X-Real-IP
//  4. Unknown
func Identify(r *http.Request) string {
	if r == nil {
		return Unknown
	}

	if ip := peerAddress(r.RemoteAddr); ip != "" {
		return ip
	}

	if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
		first := xff
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			first = xff[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get(HeaderRealIP)); ip != "" {
		return ip
	}

	return Unknown
}

// peerAddress extracts the host part of a RemoteAddr value.
func peerAddress(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return ""
	}

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}

	// No port: accept bare addresses, with or without IPv6 brackets.
	trimmed := strings.TrimSuffix(strings.TrimPrefix(remoteAddr, "["), "]")
	if net.ParseIP(trimmed) != nil {
		return trimmed
	}

	return remoteAddr
}
