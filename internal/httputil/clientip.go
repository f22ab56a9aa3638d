package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP reports the address a request originated from, used to key the
// per-client stream limiter. With trustProxy set it prefers the leftmost
// X-Forwarded-For entry, then X-Real-IP; otherwise, and when neither header
// yields an address, it strips the port from RemoteAddr. Leave trustProxy
// off unless a reverse proxy in front of the server sets those headers,
// since clients can forge them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedFor picks the first entry of an X-Forwarded-For value, the
// client that opened the connection chain.
func forwardedFor(xff string) string {
	if i := strings.IndexByte(xff, ','); i > 0 {
		xff = xff[:i]
	}
	return strings.TrimSpace(xff)
}
