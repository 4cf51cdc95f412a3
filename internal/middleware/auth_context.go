package middleware

import "context"

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext holds the caller identity resolved from a validated access
// token. It carries no tenant concept: the IAM control plane is single
// realm, scoped by role and policy rather than by tenant boundary.
type AuthContext struct {
	UserID    string
	Username  string
	TokenID   string // jti, used for audit correlation and revocation checks
	SessionID string
	Scopes    []string
}

// HasScope reports whether the caller's token carries scope s.
func (a *AuthContext) HasScope(s string) bool {
	for _, sc := range a.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(authContextKey).(*AuthContext)
	return val, ok
}

func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}
