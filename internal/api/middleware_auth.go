package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/healthpulse/pulse-jobs/internal/core"
)

// KeyAuth returns a middleware that validates Bearer token authentication.
// Requests to paths in skipPaths bypass authentication. A missing or
// malformed header yields 401; a wrong key yields 403.
func KeyAuth(apiKey string, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="pulse"`)
				WriteError(w, http.StatusUnauthorized,
					core.NewUnauthorizedError("missing or malformed bearer token"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				WriteError(w, http.StatusForbidden,
					core.NewUnauthorizedError("invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
