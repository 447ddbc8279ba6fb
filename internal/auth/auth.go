// Package auth provides the connect-time token check the connection
// manager calls before creating a session.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when validation is enabled and the
	// client supplied no token.
	ErrMissingToken = errors.New("auth: missing token")

	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Validator checks a connect-time token. A nil error admits the
// connection.
type Validator func(token string) error

// AllowAll admits every connection; used when no secret is configured.
func AllowAll() Validator {
	return func(string) error { return nil }
}

// JWT verifies HS256-signed tokens against the given secret.
func JWT(secret string) Validator {
	key := []byte(secret)
	return func(token string) error {
		if token == "" {
			return ErrMissingToken
		}
		parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return key, nil
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !parsed.Valid {
			return ErrInvalidToken
		}
		return nil
	}
}

// FromConfig picks the validator for the configured secret: JWT when one
// is set, otherwise open access.
func FromConfig(jwtSecret string) Validator {
	if jwtSecret == "" {
		return AllowAll()
	}
	return JWT(jwtSecret)
}
