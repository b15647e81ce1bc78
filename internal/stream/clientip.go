package stream

import (
	"net"
	"net/http"
	"strings"
)

// clientIP identifies the caller for per-IP stream limits. Proxy headers are
// honoured only when trustProxy is set; the leftmost X-Forwarded-For entry
// wins over X-Real-IP.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
