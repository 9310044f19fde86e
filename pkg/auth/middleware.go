// Package auth provides request authentication for the token endpoint.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/cloudmint/cloudmint/pkg/logger"
)

// APIKeyMiddleware creates an HTTP middleware that requires callers to
// present the shared API key as a bearer token in the Authorization header.
// Comparison is constant-time so the key cannot be probed byte by byte.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				logger.Warnw("Rejected request with invalid API key", "path", r.URL.Path, "remote", r.RemoteAddr)
				unauthorized(w, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="cloudmint"`)
	http.Error(w, detail, http.StatusUnauthorized)
}
