package authn_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nexusiam/controlplane/internal/authn"
	"github.com/nexusiam/controlplane/internal/data"
	"github.com/nexusiam/controlplane/internal/password"
	"github.com/nexusiam/controlplane/internal/tokens"
)

func newTestService(t *testing.T) (*authn.Service, sqlmock.Sqlmock, *redis.Client) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	svc := authn.NewService(
		data.UserModel{DB: db},
		data.TokenModel{DB: db},
		tokens.NewManager("test-signing-key"),
		authn.NewSessionStore(rdb),
		authn.NewBlacklist(rdb),
		nil,
		nil,
		authn.DefaultConfig(),
	)
	return svc, mock, rdb
}

func userRows(id uuid.UUID, hash string, failedAttempts int, lockedUntil any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "roles", "primary_role", "is_active",
		"email_verified", "mfa_enabled", "failed_login_attempts", "locked_until", "last_login",
		"created_at", "updated_at", "metadata",
	}).AddRow(
		id, "alice", "alice@example.com", hash, "{admin,user}", "admin", true,
		true, false, failedAttempts, lockedUntil, nil,
		time.Now(), time.Now(), []byte(`{}`),
	)
}

func TestAuthenticate_Success(t *testing.T) {
	svc, mock, _ := newTestService(t)
	id := uuid.New()
	hash, _ := password.Hash("correct-password")

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").
		WithArgs("alice").
		WillReturnRows(userRows(id, hash, 0, nil))
	mock.ExpectExec("UPDATE users SET failed_login_attempts = 0").
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := svc.Authenticate(context.Background(), "alice", "correct-password", "127.0.0.1")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if u.ID != id {
		t.Errorf("expected user %s, got %s", id, u.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	svc, mock, _ := newTestService(t)
	id := uuid.New()
	hash, _ := password.Hash("correct-password")

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").
		WithArgs("alice").
		WillReturnRows(userRows(id, hash, 0, nil))
	mock.ExpectQuery("UPDATE users SET").
		WithArgs(id, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(1, nil))

	_, err := svc.Authenticate(context.Background(), "alice", "wrong-password", "127.0.0.1")
	if err != authn.ErrInvalidPassword {
		t.Errorf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestAuthenticate_LocksAfterMaxFailedAttempts(t *testing.T) {
	svc, mock, _ := newTestService(t)
	id := uuid.New()
	hash, _ := password.Hash("correct-password")
	lockedUntil := time.Now().Add(15 * time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").
		WithArgs("alice").
		WillReturnRows(userRows(id, hash, 4, nil))
	mock.ExpectQuery("UPDATE users SET").
		WithArgs(id, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(5, lockedUntil))

	_, err := svc.Authenticate(context.Background(), "alice", "wrong-password", "127.0.0.1")
	if err != authn.ErrAccountLocked {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}
}

func TestAuthenticate_UnknownUserBurnsTimingButReportsNotFound(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Authenticate(context.Background(), "ghost", "whatever", "127.0.0.1")
	if err != authn.ErrUserNotFound {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestAuthenticate_InactiveAccount(t *testing.T) {
	svc, mock, _ := newTestService(t)
	id := uuid.New()
	hash, _ := password.Hash("correct-password")

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "email", "password_hash", "roles", "primary_role", "is_active",
			"email_verified", "mfa_enabled", "failed_login_attempts", "locked_until", "last_login",
			"created_at", "updated_at", "metadata",
		}).AddRow(id, "bob", "bob@example.com", hash, "{user}", "user", false, true, false, 0, nil, nil, time.Now(), time.Now(), []byte(`{}`)))

	_, err := svc.Authenticate(context.Background(), "bob", "correct-password", "127.0.0.1")
	if err != authn.ErrAccountInactive {
		t.Errorf("expected ErrAccountInactive, got %v", err)
	}
}

func TestAuthenticate_AlreadyLockedAccount(t *testing.T) {
	svc, mock, _ := newTestService(t)
	id := uuid.New()
	hash, _ := password.Hash("correct-password")
	lockedUntil := time.Now().Add(10 * time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").
		WithArgs("alice").
		WillReturnRows(userRows(id, hash, 5, lockedUntil))

	_, err := svc.Authenticate(context.Background(), "alice", "correct-password", "127.0.0.1")
	if err != authn.ErrAccountLocked {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}
}

func TestValidate_RejectsUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	result, err := svc.Validate(context.Background(), "not-a-real-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Error("expected an unparseable token to be invalid")
	}
}

func TestValidate_RejectsRefreshTokenAsAccess(t *testing.T) {
	svc, _, _ := newTestService(t)
	mgr := tokens.NewManager("test-signing-key")
	refresh, _, err := mgr.GenerateRefreshToken("u1", "alice", "sess1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}

	result, err := svc.Validate(context.Background(), refresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid {
		t.Error("expected a refresh token to be rejected by access-token validation")
	}
}

func TestRevoke_MarksTokenBlacklisted(t *testing.T) {
	svc, _, rdb := newTestService(t)
	jti := uuid.New().String()

	if err := svc.Revoke(context.Background(), jti, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	bl := authn.NewBlacklist(rdb)
	revoked, err := bl.IsRevoked(context.Background(), jti)
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("expected jti to be blacklisted after Revoke")
	}
}

func TestEndSession_NoSessionIsNotAnError(t *testing.T) {
	svc, _, _ := newTestService(t)
	if err := svc.EndSession(context.Background(), "nonexistent-session"); err != nil {
		t.Errorf("expected ending a missing session to be a no-op, got %v", err)
	}
}
