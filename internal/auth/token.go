package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// SessionTokenPrefix is prepended to browser session tokens.
	SessionTokenPrefix = "wks-"
	// APITokenPrefix is prepended to organization-bound API tokens used by
	// desktop clients.
	APITokenPrefix = "wkt-"
	// tokenRandBytes is the number of random bytes in a token (32 bytes = 64 hex chars).
	tokenRandBytes = 32
)

// GenerateToken creates a new random opaque token with the given prefix.
// Format: prefix + 64 hex chars.
func GenerateToken(prefix string) (string, error) {
	b := make([]byte, tokenRandBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of a token string. Only the hash
// is ever stored; the plaintext token exists client-side only.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
