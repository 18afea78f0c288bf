// Package auth issues and checks the bearer tokens of the project API.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conneroisu/playpen/internal/errors"
)

// MinSecretLen is the shortest accepted HMAC secret.
const MinSecretLen = 32

// Issuer is stamped into every token.
const Issuer = "playpen"

// ValidateSecret rejects secrets too short for HS256.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("auth secret must be at least %d bytes, got %d", MinSecretLen, len(secret)))
	}
	return nil
}

// GenerateToken signs a token for subject valid for expiry.
func GenerateToken(secret []byte, subject, name string, expiry time.Duration) (string, error) {
	if err := ValidateSecret(secret); err != nil {
		return "", err
	}
	if subject == "" {
		return "", errors.NewValidationError(errors.ErrCodeUnauthorized, "token subject is required")
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		Name: name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses tokenStr and returns its claims. Only HS256 is
// accepted.
func ValidateToken(secret []byte, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.ErrUnauthorized("invalid token").WithContext("reason", err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.ErrUnauthorized("invalid token")
	}
	return claims, nil
}
