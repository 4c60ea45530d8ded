package middleware

import (
	"net/http"
	"strings"
)

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecureHeaders returns headers suited to a same-origin local web UI.
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		ContentSecurityPolicy: strings.Join([]string{
			"default-src 'self'",
			"script-src 'self' 'unsafe-inline'",
			"style-src 'self' 'unsafe-inline'",
			"img-src 'self' data: blob:",
			"connect-src 'self' ws: wss:",
			"frame-ancestors 'none'",
			"base-uri 'self'",
			"form-action 'self'",
		}, "; "),
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		PermissionsPolicy:   "camera=(), geolocation=(), microphone=(), payment=(), usb=()",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		set := func(name, value string) {
			if value != "" {
				h.Set(name, value)
			}
		}
		set("Content-Security-Policy", sh.ContentSecurityPolicy)
		set("X-Frame-Options", sh.XFrameOptions)
		set("X-Content-Type-Options", sh.XContentTypeOptions)
		set("Referrer-Policy", sh.ReferrerPolicy)
		set("Permissions-Policy", sh.PermissionsPolicy)

		next.ServeHTTP(w, r)
	})
}
