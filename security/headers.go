package security

import (
	"net/http"
	"strconv"
	"strings"
)

// SetSecurityHeaders sets the headers every OAuth response carries. Token and
// userinfo responses must never be cached (RFC 6749 section 5.1).
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	if strings.HasPrefix(issuer, "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// SetCacheableHeaders is SetSecurityHeaders for static documents such as discovery metadata.
func SetCacheableHeaders(w http.ResponseWriter, issuer string, maxAgeSeconds int) {
	SetSecurityHeaders(w, issuer)
	w.Header().Del("Pragma")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAgeSeconds))
}
