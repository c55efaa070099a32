// Package auth implements the gateway's external HTTP authentication and
// per-identity rate limiting.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/HyphaGroup/mcphub/internal/logger"
)

// Middleware enforces spec.md §6's auth matrix against a single configured
// API key: Authorization is either "Bearer <key>" or
// "Basic base64(user:key)", compared to apiKey by exact string match.
//
// A zero-value apiKey disables auth entirely — every request passes through.
func Middleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				jsonError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			scheme, credential, ok := strings.Cut(header, " ")
			if !ok {
				jsonError(w, "Malformed Authorization header", http.StatusUnauthorized)
				return
			}

			var presented string
			switch scheme {
			case "Bearer":
				presented = credential
			case "Basic":
				decoded, err := base64.StdEncoding.DecodeString(credential)
				if err != nil {
					jsonError(w, "Malformed Basic credentials", http.StatusUnauthorized)
					return
				}
				_, key, ok := strings.Cut(string(decoded), ":")
				if !ok {
					jsonError(w, "Malformed Basic credentials", http.StatusUnauthorized)
					return
				}
				presented = key
			default:
				jsonError(w, "Unsupported authentication scheme", http.StatusUnauthorized)
				return
			}

			if presented != apiKey {
				logger.InfoContext(r.Context(), "rejected request with wrong API key")
				jsonError(w, "Invalid API key", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    -32001,
			"message": message,
		},
		"id": nil,
	})
}
