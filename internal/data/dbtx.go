// Package data implements the Postgres-backed persistence layer shared by
// the authn and authz services: users, refresh tokens, and policies.
package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
	ErrOptimisticLock = errors.New("optimistic lock failure")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, letting repositories run
// either standalone or inside a caller-managed transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
