// Package auth validates the HS256 access tokens issued by the identity
// service. Token issuance lives there; this side only verifies claims before
// a connection may issue match commands.
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/qduel/internal/errors"
)

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Validate parses and verifies an access token, returning its claims.
func Validate(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("unexpected signing method: %v", t.Header["alg"]))
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err))
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token claims"))
	}

	return claims, nil
}
