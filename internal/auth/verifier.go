// Package auth resolves caller credentials to user ids.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned when no provider accepts the credential.
var ErrInvalidToken = errors.New("auth: invalid token")

// APIKeyVerifier maps static API keys to user ids.
// In production this mapping would typically come from a secret manager.
type APIKeyVerifier struct {
	keys map[string]string // apiKey -> userID
}

// NewAPIKeyVerifier returns a verifier over a copy of keys.
func NewAPIKeyVerifier(keys map[string]string) *APIKeyVerifier {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &APIKeyVerifier{keys: cp}
}

// Verify returns the user owning token.
func (v *APIKeyVerifier) Verify(_ context.Context, token string) (string, error) {
	for key, user := range v.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", ErrInvalidToken
}

// JWTVerifier accepts HS256 tokens issued by the identity provider and
// returns their subject claim.
type JWTVerifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewJWTVerifier returns a verifier for tokens signed with secret. When
// issuer is non-empty the iss claim must match it.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify validates token and returns its subject.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Verifier is satisfied by every identity provider in this package.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Chain tries each verifier in order and returns the first match.
type Chain []Verifier

// Verify implements Verifier.
func (c Chain) Verify(ctx context.Context, token string) (string, error) {
	for _, v := range c {
		if user, err := v.Verify(ctx, token); err == nil && user != "" {
			return user, nil
		}
	}
	return "", ErrInvalidToken
}
