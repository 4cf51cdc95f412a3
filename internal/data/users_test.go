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

func testUserRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "roles", "primary_role", "is_active",
		"email_verified", "mfa_enabled", "failed_login_attempts", "locked_until", "last_login",
		"created_at", "updated_at", "metadata",
	})
}

func TestUserModel_GetByUsername_Found(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	id := uuid.New()
	now := time.Now()
	rows := testUserRows().AddRow(id, "alice", "alice@example.com", "hash", "{admin}", "admin", true, true, false, 0, nil, nil, now, now, []byte(`{}`))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").WithArgs("alice").WillReturnRows(rows)

	u, err := m.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername failed: %v", err)
	}
	if u.ID != id || u.Username != "alice" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestUserModel_GetByUsername_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username = \\$1").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := m.GetByUsername(context.Background(), "ghost")
	if err != data.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUserModel_Create_PopulatesIDAndTimestamps(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("INSERT INTO users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id, now, now))

	u := &data.User{Username: "carol", Email: "carol@example.com", PasswordHash: "hash", Roles: []string{"user"}, PrimaryRole: "user", IsActive: true}
	if err := m.Create(context.Background(), u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.ID != id {
		t.Errorf("expected id to be populated from RETURNING, got %v", u.ID)
	}
}

func TestUserModel_Update_NotFoundOnNoRows(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	mock.ExpectQuery("UPDATE users SET").WillReturnError(sql.ErrNoRows)

	u := &data.User{ID: uuid.New(), Email: "x@example.com", Roles: []string{"user"}, PrimaryRole: "user"}
	if err := m.Update(context.Background(), u); err != data.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUserModel_BumpFailedAttempts_LocksAtThreshold(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	id := uuid.New()
	lockedUntil := time.Now().Add(15 * time.Minute)
	mock.ExpectQuery("UPDATE users SET").
		WithArgs(id, 5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "locked_until"}).AddRow(5, lockedUntil))

	attempts, locked, err := m.BumpFailedAttempts(context.Background(), id, 5, lockedUntil)
	if err != nil {
		t.Fatalf("BumpFailedAttempts failed: %v", err)
	}
	if attempts != 5 || !locked {
		t.Errorf("expected attempts=5 locked=true, got attempts=%d locked=%v", attempts, locked)
	}
}

func TestUserModel_ResetLockout_NotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	id := uuid.New()
	mock.ExpectExec("UPDATE users SET failed_login_attempts = 0").
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := m.ResetLockout(context.Background(), id, time.Now()); err != data.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUserModel_Delete_Success(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	id := uuid.New()
	mock.ExpectExec("DELETE FROM users WHERE id = \\$1").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Delete(context.Background(), id); err != nil {
		t.Errorf("expected successful delete, got %v", err)
	}
}

func TestUserModel_List_ReturnsRowsInQueryOrder(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	now := time.Now()
	rows := testUserRows().
		AddRow(uuid.New(), "newest", "n@example.com", "hash", "{user}", "user", true, true, false, 0, nil, nil, now, now, []byte(`{}`)).
		AddRow(uuid.New(), "oldest", "o@example.com", "hash", "{user}", "user", true, true, false, 0, nil, nil, now.Add(-time.Hour), now.Add(-time.Hour), []byte(`{}`))
	mock.ExpectQuery("SELECT (.+) FROM users ORDER BY created_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(10, 0).
		WillReturnRows(rows)

	got, err := m.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].Username != "newest" {
		t.Errorf("unexpected list result: %+v", got)
	}
}

func TestUserModel_Count(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.UserModel{DB: db}

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM users").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := m.Count(context.Background())
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42, got %d", n)
	}
}
