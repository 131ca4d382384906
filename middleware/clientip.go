package middleware

import (
	"net"
	"net/http"
	"strings"

	authlab "github.com/ksm067300-arch/auth-lab"
)

// ClientIP attaches the caller address and User-Agent to the request
// context via authlab.WithClientIP and authlab.WithUserAgent. Forwarding
// headers are honoured only when trustProxy is set.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authlab.WithClientIP(r.Context(), RealIP(r, trustProxy))
			if ua := r.UserAgent(); ua != "" {
				ctx = authlab.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RealIP returns the client address of r, or "" when none parses.
func RealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		var ip string
		if tcip := r.Header.Get("True-Client-IP"); tcip != "" {
			ip = tcip
		} else if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			ip = xrip
		} else if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip, _, _ = strings.Cut(xff, ",")
		}
		ip = strings.TrimSpace(ip)
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}
	return ""
}
