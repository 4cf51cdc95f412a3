// Package audit implements the append-only audit sink written by authn on
// every login/logout/password event and by authz on every decision, plus
// the security-alert detector that watches the event stream for abuse
// patterns.
package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is the persisted audit record described in the data model.
// Once written it is never mutated: no Update or Delete method is exposed
// on Service.
type AuditEvent struct {
	ID          uuid.UUID       `json:"id"`
	EventID     uuid.UUID       `json:"event_id"` // idempotency key for retried writes
	ActorUserID *uuid.UUID      `json:"actor_user_id,omitempty"`
	Action      string          `json:"action"`
	TargetType  string          `json:"target_type,omitempty"`
	TargetID    string          `json:"target_id,omitempty"`
	Result      string          `json:"result"` // success/failure
	ReasonCode  string          `json:"reason_code,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	ClientIP    string          `json:"client_ip,omitempty"`
	UserAgent   string          `json:"user_agent,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FailoverEvent wraps an AuditEvent for JSONL spooling.
type FailoverEvent struct {
	EventID   string     `json:"event_id"`
	Payload   AuditEvent `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// AuditFilter narrows QueryEvents: time range, actor, resource, action and
// result, with limit/offset paging, as required of the audit sink.
type AuditFilter struct {
	ActorUserID *uuid.UUID
	TargetID    string
	Action      string
	Result      string
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
	Offset      int
}

// Bus is satisfied by the NATS-backed publisher; a nil Bus silently
// disables fan-out and WriteEvent proceeds as Postgres-only.
type Bus interface {
	PublishEvent(evt AuditEvent)
	PublishAlert(alert SecurityAlert)
}

// Service is the audit sink: Postgres-backed, with an optional Bus for
// best-effort external fan-out and an optional Detector for security alert
// pattern matching. Neither is on the critical path of WriteEvent.
type Service struct {
	DB       *sql.DB
	Bus      Bus
	Detector *Detector
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}
