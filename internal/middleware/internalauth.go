package middleware

import (
	"crypto/subtle"
	"net/http"
)

// InternalAuthHeader carries the shared secret on internal calls.
const InternalAuthHeader = "X-Internal-Auth"

// InternalAuth guards routes that only trusted callers may use. The header is
// compared in constant time. An empty server secret disables the routes
// with 503 rather than leaving them open.
func InternalAuth(secret string) func(http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				writeError(w, r.Context(), http.StatusServiceUnavailable, "not_configured", "internal auth not configured")
				return
			}
			got := []byte(r.Header.Get(InternalAuthHeader))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				writeError(w, r.Context(), http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
