package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nexusiam/controlplane/internal/tokens"
)

// TokenValidator is satisfied by tokens.Manager; kept as a narrow interface
// so tests can substitute a fake without constructing a real signing key.
type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// TokenBlacklist is consulted after signature/expiry checks pass, so a
// validate() racing a logout sees the revocation the instant it commits.
type TokenBlacklist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	blacklist TokenBlacklist
}

func NewJWTAuth(t TokenValidator, b TokenBlacklist) *JWTAuth {
	return &JWTAuth{tokens: t, blacklist: b}
}

// Middleware validates the bearer access token and injects an AuthContext.
// It fails closed: any error in token parsing or blacklist lookup is a 401.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := m.Authenticate(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// OptionalAuth resolves and injects an AuthContext when r carries a valid
// bearer token, but never rejects the request if one is absent or invalid —
// it runs ahead of rate-limit admission so admission can bucket by caller
// identity when one is available, per spec §4.4, without itself acting as
// an authentication gate (that remains the route-aware job of
// Gateway.ServeHTTP / Middleware above).
func (m *JWTAuth) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ac, err := m.Authenticate(r); err == nil {
			r = r.WithContext(WithAuthContext(r.Context(), ac))
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate validates r's bearer token and returns the resulting
// AuthContext without invoking a handler chain, for callers that need the
// result inline rather than via middleware wrapping (Middleware and
// OptionalAuth above are both built on it).
func (m *JWTAuth) Authenticate(r *http.Request) (*AuthContext, error) {
	claims, err := m.authenticate(r)
	if err != nil {
		return nil, err
	}
	return &AuthContext{UserID: claims.UserID, Username: claims.Username, TokenID: claims.ID, SessionID: claims.SessionID, Scopes: claims.Scopes}, nil
}

func (m *JWTAuth) authenticate(r *http.Request) (*tokens.Claims, error) {
	authHeader := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return nil, tokens.ErrInvalidToken
	}

	claims, err := m.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokens.Access {
		return nil, tokens.ErrInvalidToken
	}

	revoked, err := m.blacklist.IsRevoked(r.Context(), claims.ID)
	if err != nil || revoked {
		return nil, tokens.ErrInvalidToken
	}
	return claims, nil
}
