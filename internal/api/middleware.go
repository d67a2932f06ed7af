// Package api implements the reference remote store's REST API using chi.
package api

import (
	"net/http"
	"strings"
)

// Header names used by the store.
const (
	HeaderAccessToken = "X-Access-Token"
	HeaderStreamToken = "X-Stream-Token"
)

// bearer extracts the token from a "Bearer <token>" value. A bare token is
// accepted as well.
func bearer(v string) string {
	return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
}

// AuthMiddleware returns middleware that validates the access token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry "X-Access-Token: Bearer <token>",
// or the same value as an X-Access-Token query parameter for push-stream
// clients that cannot set headers.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(HeaderAccessToken)
			if got == "" {
				got = r.URL.Query().Get(HeaderAccessToken)
			}
			if got == "" || bearer(got) != token {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func streamToken(r *http.Request) string {
	return bearer(r.Header.Get(HeaderStreamToken))
}
