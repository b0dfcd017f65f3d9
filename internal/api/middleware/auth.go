package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/edvin/sslshop/internal/api/response"
)

type contextKey string

// APIKeyHashKey holds the digest of the key that authenticated the request.
const APIKeyHashKey contextKey = "api_key_hash"

// APIKey returns a middleware that accepts requests whose X-API-Key hashes
// to one of the configured hex SHA-256 digests.
func APIKey(hashes []string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			accepted = append(accepted, []byte(h))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			sum := sha256.Sum256([]byte(key))
			keyHash := []byte(hex.EncodeToString(sum[:]))

			// Compare against every digest so timing does not reveal which matched.
			matched := 0
			for _, h := range accepted {
				matched |= subtle.ConstantTimeCompare(keyHash, h)
			}
			if matched != 1 {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyHashKey, string(keyHash))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HashKey returns the digest format expected in API_KEY_HASHES.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
