package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets security headers on HTTP responses.
// These headers protect against clickjacking, MIME sniffing, and caching of
// sensitive OAuth responses.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "no-referrer")

	// HSTS only applies when the issuer itself is served over HTTPS
	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token and error responses must never be cached
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
