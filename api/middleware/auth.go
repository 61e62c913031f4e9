package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/agentgate/agentgate/api"
)

// Auth enforces a static API key, accepted as either the x-api-key header
// or a bearer token. An empty key disables auth. Health stays open for
// probes.
func Auth(key string) Middleware {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			if !keyMatches(r, key) {
				writeJSONError(w, http.StatusUnauthorized,
					api.NewErrorResponse(api.ErrTypeAuthentication, "invalid or missing API key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyMatches(r *http.Request, key string) bool {
	candidate := r.Header.Get("x-api-key")
	if candidate == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			candidate = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1
}
