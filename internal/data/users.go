package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// User is the persisted identity record described in the data model.
type User struct {
	ID                  uuid.UUID
	Username            string
	Email               string
	PasswordHash        string
	Roles               []string
	PrimaryRole         string
	IsActive            bool
	EmailVerified       bool
	MFAEnabled          bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Metadata            map[string]any
}

type UserModel struct {
	DB DBTX
}

const userColumns = `id, username, email, password_hash, roles, primary_role, is_active,
	email_verified, mfa_enabled, failed_login_attempts, locked_until, last_login,
	created_at, updated_at, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var meta []byte
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, pq.Array(&u.Roles), &u.PrimaryRole,
		&u.IsActive, &u.EmailVerified, &u.MFAEnabled, &u.FailedLoginAttempts,
		&u.LockedUntil, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt, &meta,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &u.Metadata); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

func (m UserModel) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(m.DB.QueryRowContext(ctx, query, id))
}

func (m UserModel) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(m.DB.QueryRowContext(ctx, query, username))
}

func (m UserModel) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(m.DB.QueryRowContext(ctx, query, email))
}

func (m UserModel) Create(ctx context.Context, u *User) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO users (username, email, password_hash, roles, primary_role, is_active,
			email_verified, mfa_enabled, failed_login_attempts, locked_until, last_login, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	err = m.DB.QueryRowContext(ctx, query,
		u.Username, u.Email, u.PasswordHash, pq.Array(u.Roles), u.PrimaryRole, u.IsActive,
		u.EmailVerified, u.MFAEnabled, u.FailedLoginAttempts, u.LockedUntil, u.LastLogin, meta,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return err
}

// Update persists the mutable profile fields. Callers that only touch
// lockout bookkeeping should use BumpFailedAttempts/ResetLockout instead,
// which avoid clobbering concurrent profile edits with a stale read.
func (m UserModel) Update(ctx context.Context, u *User) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE users SET email = $1, roles = $2, primary_role = $3, is_active = $4,
			email_verified = $5, mfa_enabled = $6, metadata = $7, updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at`
	err = m.DB.QueryRowContext(ctx, query,
		u.Email, pq.Array(u.Roles), u.PrimaryRole, u.IsActive, u.EmailVerified, u.MFAEnabled,
		meta, u.ID,
	).Scan(&u.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (m UserModel) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpFailedAttempts increments the counter and, once it reaches max, sets
// locked_until. Returns the resulting attempt count and whether the account
// is now locked.
func (m UserModel) BumpFailedAttempts(ctx context.Context, id uuid.UUID, max int, lockoutUntil time.Time) (int, bool, error) {
	query := `
		UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until`
	var attempts int
	var locked *time.Time
	err := m.DB.QueryRowContext(ctx, query, id, max, lockoutUntil).Scan(&attempts, &locked)
	if err == sql.ErrNoRows {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, locked != nil, nil
}

func (m UserModel) ResetLockout(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = NOW()
		WHERE id = $1`, id, lastLogin)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (m UserModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (m UserModel) List(ctx context.Context, limit, offset int) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := m.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (m UserModel) Count(ctx context.Context) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
