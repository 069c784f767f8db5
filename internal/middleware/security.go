package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const apiClientKey contextKey = "api-client"

// APIKeyAuth admits requests whose X-API-Key header matches one of validKeys
// and stores the key's client name in the context. An empty validKeys admits
// every request.
func APIKeyAuth(logger *slog.Logger, validKeys map[string]string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				logger.WarnContext(ctx, "missing API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeProblem(w, r, http.StatusUnauthorized, "/errors/unauthorized", "API key required")
				return
			}

			clientName, ok := lookupKey(validKeys, apiKey)
			if !ok {
				logger.WarnContext(ctx, "invalid API key",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeProblem(w, r, http.StatusUnauthorized, "/errors/unauthorized", "Invalid API key")
				return
			}

			ctx = context.WithValue(ctx, apiClientKey, clientName)
			logger.DebugContext(ctx, "API key authentication successful",
				"client", clientName,
				"method", r.Method,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIClient returns the client name stored by APIKeyAuth.
func APIClient(ctx context.Context) string {
	name, _ := ctx.Value(apiClientKey).(string)
	return name
}

// lookupKey compares against every key so timing does not reveal a prefix match.
func lookupKey(keys map[string]string, candidate string) (string, bool) {
	var (
		name  string
		found bool
	)
	for key, client := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			name, found = client, true
		}
	}
	return name, found
}
