package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/nexusiam/controlplane/internal/data"
)

func TestTokenModel_New_ReturnsPlaintextOnceAndPersistsOnlyHash(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	id := uuid.New()
	userID := uuid.New()
	mock.ExpectQuery("INSERT INTO refresh_tokens").
		WithArgs(userID, sqlmock.AnyArg(), "sess-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))

	plain, gotID, err := m.New(context.Background(), userID, "sess-1", time.Hour)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if plain == "" {
		t.Error("expected a non-empty plaintext token")
	}
	if gotID != id {
		t.Errorf("expected id %s, got %s", id, gotID)
	}
}

func TestTokenModel_GetByPlain_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM refresh_tokens WHERE token_hash = \\$1").WillReturnError(sql.ErrNoRows)

	_, err := m.GetByPlain(context.Background(), "some-plaintext-token")
	if err != data.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenModel_GetByPlain_Found(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	id := uuid.New()
	userID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token_hash", "session_id", "expires_at", "revoked_at", "replaced_by_token_id", "created_at"}).
		AddRow(id, userID, "somehash", "sess-1", now.Add(time.Hour), nil, nil, now)
	mock.ExpectQuery("SELECT (.+) FROM refresh_tokens WHERE token_hash = \\$1").WillReturnRows(rows)

	rt, err := m.GetByPlain(context.Background(), "plain")
	if err != nil {
		t.Fatalf("GetByPlain failed: %v", err)
	}
	if rt.ID != id || rt.UserID != userID {
		t.Errorf("unexpected token: %+v", rt)
	}
}

func TestTokenModel_Rotate_OptimisticLockOnAlreadyRevoked(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	oldID, newID := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs(newID, oldID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.Rotate(context.Background(), oldID, newID)
	if err != data.ErrOptimisticLock {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestTokenModel_Rotate_Success(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	oldID, newID := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs(newID, oldID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Rotate(context.Background(), oldID, newID); err != nil {
		t.Errorf("expected successful rotate, got %v", err)
	}
}

func TestTokenModel_RevokeAllForUser(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	userID := uuid.New()
	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := m.RevokeAllForUser(context.Background(), userID); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestTokenModel_RevokeSession(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.TokenModel{DB: db}

	mock.ExpectExec("UPDATE refresh_tokens").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.RevokeSession(context.Background(), "sess-1"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
