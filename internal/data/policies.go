package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Policy is the persisted XACML-flavored access rule described in the
// authorization engine's data model: a target that selects which requests
// it applies to, an optional condition refining that selection further, and
// an effect to apply when both match.
type Policy struct {
	ID         uuid.UUID
	Version    int
	Effect     string // "permit" or "deny"
	Priority   int
	Target     json.RawMessage
	Condition  json.RawMessage
	Obligations json.RawMessage
	Advice     json.RawMessage
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PolicyModel struct {
	DB DBTX
}

const policyColumns = `id, version, effect, priority, target, condition, obligations, advice,
	is_active, created_at, updated_at`

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	err := row.Scan(
		&p.ID, &p.Version, &p.Effect, &p.Priority, &p.Target, &p.Condition, &p.Obligations,
		&p.Advice, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (m PolicyModel) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`
	return scanPolicy(m.DB.QueryRowContext(ctx, query, id))
}

// ListActive returns every enabled policy, ordered by priority descending so
// callers can short-circuit deny-overrides evaluation on the first deny.
func (m PolicyModel) ListActive(ctx context.Context) ([]*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE is_active = true ORDER BY priority DESC, created_at ASC`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (m PolicyModel) List(ctx context.Context, limit, offset int) ([]*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := m.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (m PolicyModel) Create(ctx context.Context, p *Policy) error {
	query := `
		INSERT INTO policies (version, effect, priority, target, condition, obligations, advice, is_active)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, version, created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query,
		p.Effect, p.Priority, p.Target, p.Condition, p.Obligations, p.Advice, p.IsActive,
	).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
}

// Update bumps the version, guarded by an optimistic check on p.Version.
// Decision fingerprints do not include the version; the authorization
// engine's cache is cleared by its PolicyService after each mutation.
func (m PolicyModel) Update(ctx context.Context, p *Policy) error {
	query := `
		UPDATE policies SET
			version = version + 1, effect = $1, priority = $2, target = $3, condition = $4,
			obligations = $5, advice = $6, is_active = $7, updated_at = NOW()
		WHERE id = $8 AND version = $9
		RETURNING version, updated_at`
	err := m.DB.QueryRowContext(ctx, query,
		p.Effect, p.Priority, p.Target, p.Condition, p.Obligations, p.Advice, p.IsActive,
		p.ID, p.Version,
	).Scan(&p.Version, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrOptimisticLock
	}
	return err
}

func (m PolicyModel) Disable(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx,
		`UPDATE policies SET is_active = false, version = version + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (m PolicyModel) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
