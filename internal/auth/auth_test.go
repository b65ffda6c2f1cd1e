package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/victornm/qduel/internal/auth"
	"github.com/victornm/qduel/internal/errors"
)

const secret = "test-secret"

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		token   func(t *testing.T) string
		wantErr bool
	}{
		"valid token": {
			token: func(t *testing.T) string {
				return sign(t, auth.Claims{
					UserID:   "u1",
					Username: "alice",
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
					},
				}, secret)
			},
		},

		"expired token": {
			token: func(t *testing.T) string {
				return sign(t, auth.Claims{
					UserID: "u1",
					RegisteredClaims: jwt.RegisteredClaims{
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
					},
				}, secret)
			},
			wantErr: true,
		},

		"token signed with a different secret": {
			token: func(t *testing.T) string {
				return sign(t, auth.Claims{UserID: "u1"}, "other-secret")
			},
			wantErr: true,
		},

		"token without a user id": {
			token: func(t *testing.T) string {
				return sign(t, auth.Claims{Username: "alice"}, secret)
			},
			wantErr: true,
		},

		"unsigned token": {
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{UserID: "u1"})
				s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return s
			},
			wantErr: true,
		},

		"garbage": {
			token: func(t *testing.T) string {
				return "not.a.token"
			},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			claims, err := auth.Validate(tt.token(t), secret)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, errors.CodeUnauthenticated, errors.Convert(err).Code)
				return
			}

			require.NoError(t, err)
			require.Equal(t, "u1", claims.UserID)
			require.Equal(t, "alice", claims.Username)
		})
	}
}

func sign(t *testing.T, claims auth.Claims, secret string) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}
