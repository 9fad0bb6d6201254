package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// HubToken returns middleware that checks the action hub's shared secret.
//
// The hub sends `Authorization: Token token="<secret>"` on every call. The
// whole header is compared in constant time against the expected value.
// A missing header is a malformed request (400); a wrong token is 403.
func HubToken(secret string) func(http.Handler) http.Handler {
	expected := []byte(`Token token="` + secret + `"`)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				slog.Warn("auth: missing hub token",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeFailure(w, http.StatusBadRequest, "Request does not have auth token")
				return
			}

			if secret == "" || subtle.ConstantTimeCompare([]byte(header), expected) != 1 {
				slog.Warn("auth: incorrect hub token",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeFailure(w, http.StatusForbidden, "Incorrect token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
