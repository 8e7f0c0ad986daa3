package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const clientKey contextKey = "client"

// ClientFromContext returns the name of the API key that authenticated the
// request, or "" if none did.
func ClientFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(clientKey).(string); ok {
		return name
	}
	return ""
}

// LookupFunc resolves an API key to the name of the client holding it.
type LookupFunc func(ctx context.Context, apiKey string) (string, error)

// BearerAuth returns an HTTP middleware that validates Bearer token authentication.
// On success, the client name is stored in the request context.
func BearerAuth(lookup LookupFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}

			scheme, apiKey, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				unauthorized(w, "invalid authorization format, expected Bearer <token>")
				return
			}
			if apiKey == "" {
				unauthorized(w, "empty API key")
				return
			}

			name, err := lookup(r.Context(), apiKey)
			if err != nil {
				unauthorized(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="queueing"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
