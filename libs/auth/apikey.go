package auth

import (
	"crypto/sha256"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const APIKeyHeader = "X-Api-Key"

// APIKeyGuard protects management endpoints with a single deployment-scoped key.
// Only the bcrypt hash of the key is configured; the key itself never leaves the
// operator's hands.
type APIKeyGuard struct {
	hash []byte
}

// NewAPIKeyGuard builds a guard from a bcrypt hash string. An empty hash yields
// a guard that rejects everything (management surface disabled).
func NewAPIKeyGuard(bcryptHash string) *APIKeyGuard {
	return &APIKeyGuard{hash: []byte(strings.TrimSpace(bcryptHash))}
}

// HashKey produces a bcrypt hash for a raw key. Keys are pre-digested with
// SHA-256 so lengths beyond bcrypt's 72-byte input limit remain valid.
func HashKey(raw string) (string, error) {
	sum := sha256.Sum256([]byte(raw))
	h, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (g *APIKeyGuard) Allow(raw string) bool {
	if len(g.hash) == 0 || raw == "" {
		return false
	}
	sum := sha256.Sum256([]byte(raw))
	return bcrypt.CompareHashAndPassword(g.hash, sum[:]) == nil
}

// Middleware rejects requests without a valid API key.
func (g *APIKeyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(strings.TrimSpace(r.Header.Get(APIKeyHeader))) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
