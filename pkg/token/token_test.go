package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server_side_secret"))
	require.NoError(t, err)
	return s
}

func TestParseSession(t *testing.T) {
	now := time.Date(2025, 1, 23, 12, 0, 0, 0, time.UTC)

	t.Run("valid token", func(t *testing.T) {
		raw := sign(t, Claims{
			MemberID: "user-a",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})
		claims, err := ParseSession("Bearer "+raw, now)
		require.NoError(t, err)
		assert.Equal(t, "user-a", claims.MemberID)
	})

	t.Run("expired token", func(t *testing.T) {
		raw := sign(t, Claims{
			MemberID: "user-a",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			},
		})
		_, err := ParseSession(raw, now)
		assert.True(t, errors.Is(err, jwt.ErrTokenExpired))
	})

	t.Run("missing user", func(t *testing.T) {
		raw := sign(t, Claims{Role: "member"})
		_, err := ParseSession(raw, now)
		assert.ErrorIs(t, err, ErrMissingUser)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseSession("not-a-jwt", now)
		assert.Error(t, err)
		_, err = ParseSession("", now)
		assert.Error(t, err)
	})
}
