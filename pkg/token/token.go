package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingUser token has no user_id claim
var ErrMissingUser = errors.New("token has no user_id")

// Claims structure for the session token issued at login
type Claims struct {
	MemberID string `json:"user_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ParseSession 解析登入後拿到的 session token.
// client 端沒有簽章密鑰, 只讀 claims 並檢查是否過期, 驗簽由 server 負責
func ParseSession(raw string, now time.Time) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, errors.New("invalid or missing token")
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	if claims.MemberID == "" {
		return nil, ErrMissingUser
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return nil, jwt.ErrTokenExpired
	}
	return claims, nil
}
