package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// FileTokenIssuer mints short-lived signed tokens that authorize downloading
// a single file for a single organization. Desktop clients embed these in
// download URLs instead of shipping their long-lived API token in a query
// string.
type FileTokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewFileTokenIssuer creates an issuer signing with HMAC-SHA256.
func NewFileTokenIssuer(key []byte, ttl time.Duration) (*FileTokenIssuer, error) {
	if len(key) == 0 {
		return nil, errors.New("file token key is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FileTokenIssuer{key: key, ttl: ttl}, nil
}

type fileTokenClaims struct {
	OrgID  string `json:"org"`
	FileID string `json:"file"`
	jwt.RegisteredClaims
}

// Issue signs a token granting access to fileID within orgID.
func (i *FileTokenIssuer) Issue(orgID, fileID string) (string, error) {
	now := time.Now()
	claims := fileTokenClaims{
		OrgID:  orgID,
		FileID: fileID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// Validate checks the token signature and expiry and returns the embedded
// organization and file ids.
func (i *FileTokenIssuer) Validate(token string) (orgID, fileID string, err error) {
	var claims fileTokenClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", fmt.Errorf("validate file token: %w", err)
	}
	if claims.OrgID == "" || claims.FileID == "" {
		return "", "", errors.New("file token missing org or file claim")
	}
	return claims.OrgID, claims.FileID, nil
}
