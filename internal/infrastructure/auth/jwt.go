// Package auth provides admin session tokens and password hashing.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/moguard-inc/moguard/internal/shared/biztime"
)

// Claims carries the admin identity. IssuedAt doubles as the revocation
// anchor: tokens minted before a password reset or TOTP revocation are
// rejected by the auth middleware.
type Claims struct {
	AdminID  uint   `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type JWTService struct {
	secret       []byte
	accessExpHrs int
}

func NewJWTService(secret string, accessExpHours int) *JWTService {
	if accessExpHours <= 0 {
		accessExpHours = 24
	}
	return &JWTService{
		secret:       []byte(secret),
		accessExpHrs: accessExpHours,
	}
}

func (s *JWTService) Generate(adminID uint, username string) (string, int64, error) {
	now := biztime.NowUTC()
	exp := now.Add(time.Duration(s.accessExpHrs) * time.Hour)

	claims := &Claims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, int64(s.accessExpHrs) * 3600, nil
}

func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// IssuedBefore reports whether the token predates the given moment,
// treating a missing issued-at as stale.
func (c *Claims) IssuedBefore(t *time.Time) bool {
	if t == nil {
		return false
	}
	if c.IssuedAt == nil {
		return true
	}
	return c.IssuedAt.Time.Before(*t)
}
