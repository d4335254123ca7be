// Package token issues and verifies the two credential kinds the service is
// built around: stateless signed access tokens and stateful high-entropy
// refresh/reset secrets that are persisted only as hashes.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

type Claims struct {
	UserID uint64   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Secret is a raw opaque credential together with the hash that gets
// persisted in its place.
type Secret struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
}

func NewService(secret string, accessTTL, refreshTTL, resetTTL time.Duration) *Service {
	return &Service{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
	}
}

func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

func (s *Service) IssueAccessToken(userID uint64, email string, roles []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := &Claims{
		UserID: userID,
		Email:  email,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   email,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature and expiry only; it has no side effects
// and never touches the session registry.
func (s *Service) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *Service) IssueRefreshToken() (*Secret, error) {
	return s.issueSecret(s.refreshTTL)
}

func (s *Service) IssueResetToken() (*Secret, error) {
	return s.issueSecret(s.resetTTL)
}

func (s *Service) issueSecret(ttl time.Duration) (*Secret, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}

	raw := hex.EncodeToString(buf)
	return &Secret{
		Raw:       raw,
		Hash:      HashToken(raw),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// HashToken maps a raw refresh or reset token to the value stored in its
// place. Deterministic, so lookups work without ever persisting the raw form.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
