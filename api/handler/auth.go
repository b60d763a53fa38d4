package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/websocket"
)

const (
	APIKeyHeader = "x-api-key"
	apiKeyQuery  = "apiKey"
)

// RequireAPIKey rejects requests whose x-api-key header does not match key.
// Websocket upgrades may pass the key as the apiKey query parameter instead,
// since browsers cannot set headers on them.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if provided == "" && websocket.IsWebSocketUpgrade(r) {
				provided = r.URL.Query().Get(apiKeyQuery)
			}
			if key == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
