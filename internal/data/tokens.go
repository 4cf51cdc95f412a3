package data

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// RefreshToken is a hashed, rotation-tracked refresh token record. The
// plaintext token is never stored; only its sha256 hash is persisted so a
// leaked database does not leak usable tokens.
type RefreshToken struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TokenHash         string
	SessionID         string
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	ReplacedByTokenID *uuid.UUID
	CreatedAt         time.Time
}

type TokenModel struct {
	DB DBTX
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// New mints a refresh token, persists its hash, and returns the plaintext
// to hand to the caller (once — it is never retrievable again).
func (m TokenModel) New(ctx context.Context, userID uuid.UUID, sessionID string, ttl time.Duration) (plain string, id uuid.UUID, err error) {
	plain = uuid.New().String()
	hash := hashToken(plain)
	expiresAt := time.Now().UTC().Add(ttl)

	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, session_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err = m.DB.QueryRowContext(ctx, query, userID, hash, sessionID, expiresAt).Scan(&id)
	if err != nil {
		return "", uuid.Nil, err
	}
	return plain, id, nil
}

func (m TokenModel) GetByPlain(ctx context.Context, plain string) (*RefreshToken, error) {
	hash := hashToken(plain)
	query := `
		SELECT id, user_id, token_hash, session_id, expires_at, revoked_at, replaced_by_token_id, created_at
		FROM refresh_tokens
		WHERE token_hash = $1`

	var t RefreshToken
	err := m.DB.QueryRowContext(ctx, query, hash).Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.SessionID, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedByTokenID, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Rotate revokes oldTokenID in favor of newTokenID, linking the chain so a
// reuse of a revoked token can be traced back to the session it belonged to.
func (m TokenModel) Rotate(ctx context.Context, oldTokenID, newTokenID uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW(), replaced_by_token_id = $1
		WHERE id = $2 AND revoked_at IS NULL`
	res, err := m.DB.ExecContext(ctx, query, newTokenID, oldTokenID)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (m TokenModel) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, userID)
	return err
}

func (m TokenModel) RevokeSession(ctx context.Context, sessionID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = NOW()
		WHERE session_id = $1 AND revoked_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, sessionID)
	return err
}
