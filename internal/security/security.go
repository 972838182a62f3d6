// internal/security/security.go
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"instockbackend/internal/config"
)

var (
	ErrMissingIdentityToken = errors.New("identity token required")
	ErrInvalidIdentityToken = errors.New("invalid identity token")
)

// HashIdentityToken derives the stored user id from a provider identity
// token: the hex SHA-256 of its subject claim. The subject is stable across
// sign-ins while the token itself is not. Signature checks belong to the
// identity provider; the raw token is never persisted.
func HashIdentityToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingIdentityToken
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentityToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidIdentityToken)
	}

	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:]), nil
}

// AddCORSHeaders adds CORS headers and handles OPTIONS requests globally.
func AddCORSHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", config.AllowedOrigin) // From config
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
