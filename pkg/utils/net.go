package utils

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the caller's IP address. It prefers the first
// X-Forwarded-For entry, then X-Real-IP, then the host part of RemoteAddr.
//
// The service runs behind a reverse proxy that overwrites both headers, so
// they are trusted as given.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
