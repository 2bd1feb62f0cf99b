// Package servicetoken signs and verifies the short-lived HS256 token the
// scheduler attaches to every dispatcher RPC, so the dispatcher can reject
// calls that didn't come from a cell holding the shared signing key.
// Repurposed from the teacher's internal/usecase/auth.go end-user token
// signing, which this project has no use for since there's no end-user
// signup flow in scope.
package servicetoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "cronback-scheduler"
	ttl    = 30 * time.Second
)

// Signer mints service tokens using a shared HS256 key.
type Signer struct {
	key []byte
}

// NewSigner builds a Signer over key. key must not be empty.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign mints a token scoped to cellID, valid for a short TTL — just long
// enough to cover one RPC round trip, not a session.
func (s *Signer) Sign(cellID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   cellID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verifier checks tokens minted by a Signer holding the same key.
type Verifier struct {
	key []byte
}

// NewVerifier builds a Verifier over key.
func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key}
}

// Verify parses and validates tokenString, returning the signing cell's ID.
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("servicetoken: unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("servicetoken: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("servicetoken: invalid token")
	}
	return claims.Subject, nil
}
