package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller IP used for rate-limit keys. The X-Forwarded-For
// header is consulted first because this service normally sits behind the
// platform's edge proxy; the left-most parseable entry wins, falling back to
// the direct peer address.
func ClientIP(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
