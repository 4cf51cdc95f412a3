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

func policyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "version", "effect", "priority", "target", "condition", "obligations",
		"advice", "is_active", "created_at", "updated_at",
	})
}

func TestPolicyModel_GetByID_Found(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	id := uuid.New()
	now := time.Now()
	rows := policyRows().AddRow(id, 1, "permit", 10, []byte(`{}`), nil, nil, nil, true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM policies WHERE id = \\$1").WithArgs(id).WillReturnRows(rows)

	p, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if p.ID != id || p.Effect != "permit" {
		t.Errorf("unexpected policy: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPolicyModel_GetByID_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM policies WHERE id = \\$1").WithArgs(id).WillReturnError(sql.ErrNoRows)

	_, err := m.GetByID(context.Background(), id)
	if err != data.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPolicyModel_ListActive_OrdersByPriorityThenCreatedAt(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	now := time.Now()
	rows := policyRows().
		AddRow(uuid.New(), 1, "deny", 20, []byte(`{}`), nil, nil, nil, true, now, now).
		AddRow(uuid.New(), 1, "permit", 10, []byte(`{}`), nil, nil, nil, true, now, now)
	mock.ExpectQuery("SELECT (.+) FROM policies WHERE is_active = true ORDER BY priority DESC, created_at ASC").
		WillReturnRows(rows)

	got, err := m.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(got))
	}
	if got[0].Priority != 20 || got[1].Priority != 10 {
		t.Errorf("expected query-ordered results preserved, got priorities %d, %d", got[0].Priority, got[1].Priority)
	}
}

func TestPolicyModel_Create_AssignsIDAndVersion(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("INSERT INTO policies").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(id, 1, now, now))

	p := &data.Policy{Effect: "permit", Priority: 5, IsActive: true}
	if err := m.Create(context.Background(), p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if p.ID != id || p.Version != 1 {
		t.Errorf("expected id/version to be populated from RETURNING, got %+v", p)
	}
}

func TestPolicyModel_Update_OptimisticLockFailureOnVersionMismatch(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	p := &data.Policy{ID: uuid.New(), Version: 2, Effect: "deny", Priority: 1}
	mock.ExpectQuery("UPDATE policies SET").WillReturnError(sql.ErrNoRows)

	err := m.Update(context.Background(), p)
	if err != data.ErrOptimisticLock {
		t.Errorf("expected ErrOptimisticLock, got %v", err)
	}
}

func TestPolicyModel_Disable_NotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	id := uuid.New()
	mock.ExpectExec("UPDATE policies SET is_active = false").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.Disable(context.Background(), id)
	if err != data.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPolicyModel_Delete_Success(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.PolicyModel{DB: db}

	id := uuid.New()
	mock.ExpectExec("DELETE FROM policies WHERE id = \\$1").WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Delete(context.Background(), id); err != nil {
		t.Errorf("expected successful delete, got %v", err)
	}
}
