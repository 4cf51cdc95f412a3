package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"
)

// WriteEvent persists evt, falling back to the disk spool when the
// database is unreachable. The write is idempotent on EventID: a retried
// write with the same EventID is silently absorbed by ON CONFLICT.
func (s *Service) WriteEvent(ctx context.Context, evt AuditEvent) error {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	query := `
		INSERT INTO audit_logs (
			event_id, actor_user_id, action, target_type, target_id,
			result, reason_code, request_id, client_ip, user_agent, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.DB.ExecContext(ctx, query,
		evt.EventID, evt.ActorUserID, evt.Action, evt.TargetType, evt.TargetID,
		evt.Result, evt.ReasonCode, evt.RequestID, evt.ClientIP, evt.UserAgent, evt.Metadata, evt.CreatedAt,
	)

	if err != nil {
		log.Printf("audit: db write failed: %v. spooling event %s", err, evt.EventID)
		if spoolErr := SpoolEvent(evt); spoolErr != nil {
			log.Printf("audit: CRITICAL spool failure for event %s: %v", evt.EventID, spoolErr)
			return fmt.Errorf("audit critical failure: %v", spoolErr)
		}
		return nil
	}

	if s.Bus != nil {
		s.Bus.PublishEvent(evt)
	}
	if s.Detector != nil {
		if alert, ok := s.Detector.Observe(evt); ok {
			s.raiseAlert(ctx, alert)
		}
	}

	return nil
}

func (s *Service) raiseAlert(ctx context.Context, alert SecurityAlert) {
	if err := s.WriteAlert(ctx, alert); err != nil {
		log.Printf("audit: failed to persist security alert %s: %v", alert.Kind, err)
	}
	if s.Bus != nil {
		s.Bus.PublishAlert(alert)
	}
}

// Append-only enforcement: no Update or Delete methods are exposed.

// QueryEvents implements the audit sink's filters with limit/offset paging.
func (s *Service) QueryEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error) {
	q := `SELECT id, event_id, actor_user_id, action, target_id, result, created_at, metadata FROM audit_logs WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ActorUserID != nil {
		q += fmt.Sprintf(" AND actor_user_id = $%d", idx)
		args = append(args, *f.ActorUserID)
		idx++
	}
	if f.TargetID != "" {
		q += fmt.Sprintf(" AND target_id = $%d", idx)
		args = append(args, f.TargetID)
		idx++
	}
	if f.Action != "" {
		q += fmt.Sprintf(" AND action = $%d", idx)
		args = append(args, f.Action)
		idx++
	}
	if f.Result != "" {
		q += fmt.Sprintf(" AND result = $%d", idx)
		args = append(args, f.Result)
		idx++
	}
	if f.DateFrom != nil {
		q += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, *f.DateFrom)
		idx++
	}
	if f.DateTo != nil {
		q += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, *f.DateTo)
		idx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var evt AuditEvent
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.ActorUserID, &evt.Action, &evt.TargetID, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &evt.Metadata)
		}
		events = append(events, evt)
	}

	return events, rows.Err()
}

// MaxExportRecords bounds a single ExportEvents call so an unbounded query
// can't hold the connection (and the response writer) open indefinitely.
const MaxExportRecords = 10000

// ExportEvents streams up to MaxExportRecords events, newest first, as JSON
// Lines. The filter f is not applied: every event is a candidate.
func (s *Service) ExportEvents(ctx context.Context, f AuditFilter, w io.Writer) error {
	q := `SELECT id, event_id, actor_user_id, action, result, created_at, metadata FROM audit_logs WHERE 1=1 ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0

	for rows.Next() {
		if count >= MaxExportRecords {
			break
		}
		var evt AuditEvent
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.ActorUserID, &evt.Action, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &evt.Metadata)
		}
		if err := enc.Encode(evt); err != nil {
			return err
		}
		count++
	}
	return rows.Err()
}
