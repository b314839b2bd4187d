// Package security issues and verifies the bearer tokens used by the HTTP API and the push channel.
package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	domainuser "findit/internal/domain/user"
)

var (
	ErrSecretRequired = errors.New("security: signing secret is required")
	ErrInvalidToken   = errors.New("security: invalid token")
)

const issuer = "findit"

// Identity is the caller resolved from a token.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (m *TokenManager) Issue(id Identity) (string, error) {
	now := m.now()
	claims := &Claims{
		ID:    id.UserID,
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// IssueFor mints a token for a stored profile.
func (m *TokenManager) IssueFor(u *domainuser.User) (string, error) {
	if u == nil {
		return "", ErrInvalidToken
	}
	return m.Issue(Identity{UserID: u.ID, Email: u.Email, Name: u.Name})
}

// Verify resolves a raw token to an identity. Any failure wraps ErrInvalidToken.
func (m *TokenManager) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.ID) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.ID, Email: claims.Email, Name: claims.Name}, nil
}
