// Package authn implements the authentication core: credential
// verification with constant-time failure behavior, account lockout,
// signed access/refresh token issuance and revocation, and session
// lifecycle management.
package authn

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nexusiam/controlplane/internal/audit"
	"github.com/nexusiam/controlplane/internal/data"
	"github.com/nexusiam/controlplane/internal/metrics"
	"github.com/nexusiam/controlplane/internal/password"
	"github.com/nexusiam/controlplane/internal/tokens"
)

var (
	ErrUserNotFound     = errors.New("authn: user not found")
	ErrAccountInactive  = errors.New("authn: account inactive")
	ErrAccountLocked    = errors.New("authn: account locked")
	ErrInvalidPassword  = errors.New("authn: invalid password")
	ErrInvalidToken     = errors.New("authn: invalid or expired token")
)

// Config tunes the lockout policy and token lifetimes. NewService uses it as
// given: zero fields are not filled in from DefaultConfig.
type Config struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RotateRefresh     bool
}

func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
		AccessTTL:         tokens.DefaultAccessTTL,
		RefreshTTL:        tokens.DefaultRefreshTTL,
		RotateRefresh:     true,
	}
}

// Service wires together the user store, token manager, session registry,
// blacklist, and audit sink into the authentication operations of §4.1.
type Service struct {
	Users    data.UserModel
	Tokens   data.TokenModel
	Manager  *tokens.Manager
	Sessions *SessionStore
	Blacklist *Blacklist
	Audit    *audit.Service
	Metrics  *metrics.Registry
	cfg      Config
	cache    *userCache
}

func NewService(users data.UserModel, toks data.TokenModel, mgr *tokens.Manager, sessions *SessionStore, blacklist *Blacklist, auditSvc *audit.Service, metricsReg *metrics.Registry, cfg Config) *Service {
	return &Service{
		Users: users, Tokens: toks, Manager: mgr, Sessions: sessions,
		Blacklist: blacklist, Audit: auditSvc, Metrics: metricsReg, cfg: cfg, cache: newUserCache(),
	}
}

// getUser resolves a user by username through the read-through cache.
func (s *Service) getUser(ctx context.Context, username string) (*data.User, error) {
	if u, ok := s.cache.getByUsername(username); ok {
		return u, nil
	}
	u, err := s.Users.GetByUsername(ctx, username)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cache.put(u)
	return u, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*data.User, error) {
	if u, ok := s.cache.getByID(id.String()); ok {
		return u, nil
	}
	u, err := s.Users.GetByID(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	s.cache.put(u)
	return u, nil
}

// Authenticate verifies username/password, applying lockout bookkeeping and
// emitting an audit record for every outcome. The user_not_found path burns
// the same CPU time as invalid_password, via password.DummyHash, so the two
// failures aren't distinguishable by timing.
func (s *Service) Authenticate(ctx context.Context, username, plainPassword, clientIP string) (*data.User, error) {
	u, err := s.getUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = password.Verify(plainPassword, password.DummyHash)
			s.audit(ctx, nil, "authn.login", "failure", "user_not_found", clientIP, username)
			s.countLogin("not_found")
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !u.IsActive {
		s.audit(ctx, &u.ID, "authn.login", "failure", "account_inactive", clientIP, username)
		s.countLogin("inactive")
		return nil, ErrAccountInactive
	}

	if u.LockedUntil != nil && u.LockedUntil.After(time.Now()) {
		s.audit(ctx, &u.ID, "authn.login", "failure", "account_locked", clientIP, username)
		s.countLogin("locked")
		return nil, ErrAccountLocked
	}

	ok, err := password.Verify(plainPassword, u.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		attempts, locked, err := s.Users.BumpFailedAttempts(ctx, u.ID, s.cfg.MaxFailedAttempts, time.Now().Add(s.cfg.LockoutDuration))
		if err != nil {
			return nil, err
		}
		u.FailedLoginAttempts = attempts
		s.cache.invalidate(u)
		reason := "invalid_password"
		if locked {
			reason = "account_locked"
		}
		s.audit(ctx, &u.ID, "authn.login", "failure", reason, clientIP, username)
		if locked {
			s.countLogin("locked")
			if s.Metrics != nil {
				s.Metrics.AccountLockouts.Inc()
			}
			return nil, ErrAccountLocked
		}
		s.countLogin("invalid_password")
		return nil, ErrInvalidPassword
	}

	now := time.Now().UTC()
	if err := s.Users.ResetLockout(ctx, u.ID, now); err != nil {
		return nil, err
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &now
	s.cache.invalidate(u)

	s.audit(ctx, &u.ID, "authn.login", "success", "", clientIP, username)
	s.countLogin("success")
	return u, nil
}

func (s *Service) countLogin(result string) {
	if s.Metrics != nil {
		s.Metrics.LoginAttempts.WithLabelValues(result).Inc()
	}
}

func (s *Service) audit(ctx context.Context, actor *uuid.UUID, action, result, reason, clientIP, username string) {
	if s.Audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{"username": username})
	evt := audit.AuditEvent{
		EventID:     uuid.New(),
		ActorUserID: actor,
		Action:      action,
		TargetType:  "user",
		Result:      result,
		ReasonCode:  reason,
		ClientIP:    clientIP,
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}
	if actor != nil {
		evt.TargetID = actor.String()
	}
	if err := s.Audit.WriteEvent(ctx, evt); err != nil {
		log.Printf("authn: audit write failed for %s: %v", action, err)
	}
}

// IssuedTokens is the bundle returned to a caller after a successful login
// or token refresh.
type IssuedTokens struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	ExpiresIn    int64 // seconds
}

// IssueTokens mints an access/refresh pair for u and persists the session
// joining them.
func (s *Service) IssueTokens(ctx context.Context, u *data.User) (*IssuedTokens, error) {
	sessionID := uuid.New().String()

	access, accessJTI, err := s.Manager.GenerateAccessToken(u.ID.String(), u.Username, sessionID, u.Roles)
	if err != nil {
		return nil, err
	}
	refreshPlain, refreshID, err := s.Tokens.New(ctx, u.ID, sessionID, s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	refreshToken, _, err := s.Manager.GenerateRefreshToken(u.ID.String(), u.Username, sessionID)
	if err != nil {
		return nil, err
	}
	_ = refreshPlain // the signed refresh JWT is what's handed to the caller; the
	// opaque plain token backing refreshID is kept only as the revocable DB row

	sess := &Session{
		SessionID:      sessionID,
		UserID:         u.ID.String(),
		AccessTokenID:  accessJTI,
		RefreshTokenID: refreshID.String(),
		CreatedAt:      time.Now().UTC(),
		LastSeen:       time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(s.cfg.RefreshTTL),
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.TokensIssued.WithLabelValues("access").Inc()
		s.Metrics.TokensIssued.WithLabelValues("refresh").Inc()
		s.Metrics.SessionsActive.Inc()
	}

	return &IssuedTokens{
		AccessToken:  access,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, nil
}

// Refresh validates a refresh token and mints a new access token. When
// rotation is enabled the refresh token itself is replaced atomically: the
// old one is revoked (via the DB row it's keyed to) and a new one issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*IssuedTokens, error) {
	claims, err := s.Manager.ValidateToken(refreshToken)
	if err != nil || claims.TokenType != tokens.Refresh {
		return nil, ErrInvalidToken
	}

	revoked, err := s.Blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}

	sess, err := s.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	u, err := s.GetUserByID(ctx, uuid.MustParse(claims.UserID))
	if err != nil {
		return nil, err
	}

	access, accessJTI, err := s.Manager.GenerateAccessToken(u.ID.String(), u.Username, sess.SessionID, u.Roles)
	if err != nil {
		return nil, err
	}
	sess.AccessTokenID = accessJTI

	result := &IssuedTokens{
		AccessToken: access,
		SessionID:   sess.SessionID,
		ExpiresIn:   int64(s.cfg.AccessTTL.Seconds()),
	}

	if s.cfg.RotateRefresh {
		oldTokenID := uuid.MustParse(sess.RefreshTokenID)
		newPlain, newID, err := s.Tokens.New(ctx, u.ID, sess.SessionID, s.cfg.RefreshTTL)
		if err != nil {
			return nil, err
		}
		if err := s.Tokens.Rotate(ctx, oldTokenID, newID); err != nil {
			return nil, err
		}
		newRefreshToken, _, err := s.Manager.GenerateRefreshToken(u.ID.String(), u.Username, sess.SessionID)
		if err != nil {
			return nil, err
		}
		_ = newPlain

		if err := s.Blacklist.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			log.Printf("authn: failed to blacklist rotated refresh jti %s: %v", claims.ID, err)
		}

		sess.RefreshTokenID = newID.String()
		sess.LastSeen = time.Now().UTC()
		if err := s.Sessions.Create(ctx, sess); err != nil {
			return nil, err
		}
		result.RefreshToken = newRefreshToken
	} else {
		result.RefreshToken = refreshToken
		_ = s.Sessions.Touch(ctx, sess.SessionID)
	}

	s.audit(ctx, &u.ID, "authn.refresh", "success", "", "", u.Username)
	return result, nil
}

// ValidationResult is the outcome of validate(access_token) in §4.1.
type ValidationResult struct {
	Valid    bool
	Subject  string
	Username string
	Scopes   []string
	ExpiresAt time.Time
}

func (s *Service) Validate(ctx context.Context, accessToken string) (*ValidationResult, error) {
	claims, err := s.Manager.ValidateToken(accessToken)
	if err != nil {
		return &ValidationResult{Valid: false}, nil
	}
	if claims.TokenType != tokens.Access {
		return &ValidationResult{Valid: false}, nil
	}
	revoked, err := s.Blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return &ValidationResult{Valid: false}, nil
	}
	return &ValidationResult{
		Valid: true, Subject: claims.UserID, Username: claims.Username,
		Scopes: claims.Scopes, ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke marks one token_id revoked, durable via the blacklist.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := s.Blacklist.Revoke(ctx, jti, time.Until(expiresAt)); err != nil {
		return err
	}
	if s.Metrics != nil {
		s.Metrics.TokensRevoked.Inc()
	}
	return nil
}

// ChangePassword rehashes with a fresh salt then ends every session of the
// user, forcing re-login on other devices.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) error {
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.Users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	u, err := s.Users.GetByID(ctx, userID)
	if err == nil {
		s.cache.invalidate(u)
	}
	if err := s.Tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	if err := s.EndAllUserSessions(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, &userID, "authn.change_password", "success", "", "", "")
	return nil
}

// EndSession ends one session owning sessionID, revoking its token pair
// before deleting the session row so a racing validate() sees the
// revocation rather than a stale session.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.Blacklist.Revoke(ctx, sess.AccessTokenID, 24*time.Hour); err != nil {
		return err
	}
	if err := s.Tokens.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.Sessions.Delete(ctx, sess); err != nil {
		return err
	}
	if s.Metrics != nil {
		s.Metrics.SessionsActive.Dec()
	}
	return nil
}

func (s *Service) EndAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	sessions, err := s.Sessions.ListForUser(ctx, userID.String())
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := s.Blacklist.Revoke(ctx, sess.AccessTokenID, 24*time.Hour); err != nil {
			return err
		}
	}
	if err := s.Tokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	return s.Sessions.DeleteAllForUser(ctx, userID.String())
}
