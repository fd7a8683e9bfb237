package server

import "net/http"

// securityHeadersMiddleware adds security headers to all responses. Every
// route returns JSON or a raw download, so nothing may be framed or run.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		// Share pages and grants are per-recipient.
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
