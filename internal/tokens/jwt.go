// Package tokens issues and validates the HS256 access and refresh tokens
// that carry a caller's identity between the gateway and the authn/authz
// services.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("tokens: invalid or expired token")

type TokenType string

const (
	Access  TokenType = "access"
	Refresh TokenType = "refresh"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the payload embedded in every access and refresh token.
// Scopes carries the caller's roles for the gateway's coarse routing
// decisions; the authoritative permission check still happens in authz.
type Claims struct {
	UserID    string    `json:"sub"`
	Username  string    `json:"username"`
	Scopes    []string  `json:"scopes,omitempty"`
	TokenType TokenType `json:"token_type"`
	SessionID string    `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Manager mints and validates JWTs against a single HMAC signing key. Key
// rotation is prepared for via the "kid" header but not implemented: all
// tokens are currently signed and verified with the same key.
type Manager struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(signingKey string) *Manager {
	return &Manager{
		signingKey: []byte(signingKey),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
}

func (m *Manager) WithTTLs(access, refresh time.Duration) *Manager {
	m.accessTTL = access
	m.refreshTTL = refresh
	return m
}

func (m *Manager) GenerateAccessToken(userID, username, sessionID string, scopes []string) (string, string, error) {
	return m.generateToken(userID, username, scopes, Access, sessionID, m.accessTTL)
}

func (m *Manager) GenerateRefreshToken(userID, username, sessionID string) (string, string, error) {
	return m.generateToken(userID, username, nil, Refresh, sessionID, m.refreshTTL)
}

// generateToken returns the signed token and its jti.
func (m *Manager) generateToken(userID, username string, scopes []string, tokenType TokenType, sessionID string, ttl time.Duration) (string, string, error) {
	now := time.Now().UTC()
	jti := uuid.New().String()
	claims := Claims{
		UserID:    userID,
		Username:  username,
		Scopes:    scopes,
		TokenType: tokenType,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"

	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
