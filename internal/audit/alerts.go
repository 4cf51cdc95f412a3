package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrAlertNotFound = errors.New("audit: security alert not found")

// ThreatLevel is the severity the detector assigns a SecurityAlert.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "med"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// SecurityAlert is raised when the Detector recognizes a suspicious
// pattern in the audit stream, e.g. repeated failed logins for one actor.
type SecurityAlert struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	ThreatLevel    ThreatLevel     `json:"threat_level"`
	Subject        string          `json:"subject"` // actor/user id or client IP the pattern keys on
	Count          int             `json:"count"`
	Window         time.Duration   `json:"window"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Acknowledged   bool            `json:"acknowledged"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

const (
	AlertKindFailedLoginBurst = "failed_login_burst"
)

// DetectorConfig controls the failed-login-burst pattern.
type DetectorConfig struct {
	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		FailedLoginThreshold: 5,
		FailedLoginWindow:    5 * time.Minute,
	}
}

// Detector watches the stream of audit events for the configured
// patterns. It holds per-subject sliding windows in memory: state is
// intentionally not persisted, since a missed alert on process restart is
// an acceptable loss for an additive, best-effort signal.
type Detector struct {
	cfg DetectorConfig
	mu  sync.Mutex
	// window maps subject -> timestamps of recent failed-login events
	window map[string][]time.Time
}

func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg, window: make(map[string][]time.Time)}
}

// Observe records evt and returns a SecurityAlert if it just crossed a
// detection threshold. Only "authn.login" failures are considered.
func (d *Detector) Observe(evt AuditEvent) (SecurityAlert, bool) {
	if evt.Action != "authn.login" || evt.Result != "failure" {
		return SecurityAlert{}, false
	}

	subject := evt.TargetID
	if subject == "" {
		subject = evt.ClientIP
	}
	if subject == "" {
		return SecurityAlert{}, false
	}

	now := evt.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.cfg.FailedLoginWindow)
	hits := d.window[subject]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	d.window[subject] = kept

	if len(kept) < d.cfg.FailedLoginThreshold {
		return SecurityAlert{}, false
	}

	// Reset so the next burst re-triggers instead of alerting on every
	// subsequent failure once the threshold is crossed.
	delete(d.window, subject)

	return SecurityAlert{
		ID:          uuid.New(),
		Kind:        AlertKindFailedLoginBurst,
		ThreatLevel: ThreatHigh,
		Subject:     subject,
		Count:       len(kept),
		Window:      d.cfg.FailedLoginWindow,
		CreatedAt:   now,
	}, true
}

// WriteAlert persists a SecurityAlert. Best-effort: callers (WriteEvent's
// internal raiseAlert) log failures instead of propagating them, since a
// lost alert record must never block the underlying audit write.
func (s *Service) WriteAlert(ctx context.Context, alert SecurityAlert) error {
	query := `
		INSERT INTO security_alerts (id, kind, threat_level, subject, count, window_seconds, metadata, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.DB.ExecContext(ctx, query,
		alert.ID, alert.Kind, alert.ThreatLevel, alert.Subject, alert.Count,
		int(alert.Window.Seconds()), alert.Metadata, alert.Acknowledged, alert.CreatedAt,
	)
	return err
}

// ListAlertsSince returns alerts created at or after since, oldest first,
// for the admin alert stream's poll-and-catch-up loop.
func (s *Service) ListAlertsSince(ctx context.Context, since time.Time) ([]SecurityAlert, error) {
	query := `
		SELECT id, kind, threat_level, subject, count, window_seconds, metadata, acknowledged, acknowledged_at, created_at
		FROM security_alerts WHERE created_at >= $1 ORDER BY created_at ASC`
	rows, err := s.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []SecurityAlert
	for rows.Next() {
		var a SecurityAlert
		var windowSeconds int
		if err := rows.Scan(&a.ID, &a.Kind, &a.ThreatLevel, &a.Subject, &a.Count, &windowSeconds,
			&a.Metadata, &a.Acknowledged, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Window = time.Duration(windowSeconds) * time.Second
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListAlerts returns the most recent security alerts, newest first.
func (s *Service) ListAlerts(ctx context.Context, limit, offset int) ([]SecurityAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, threat_level, subject, count, window_seconds, metadata, acknowledged, acknowledged_at, created_at
		FROM security_alerts ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []SecurityAlert
	for rows.Next() {
		var a SecurityAlert
		var windowSeconds int
		if err := rows.Scan(&a.ID, &a.Kind, &a.ThreatLevel, &a.Subject, &a.Count, &windowSeconds,
			&a.Metadata, &a.Acknowledged, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Window = time.Duration(windowSeconds) * time.Second
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks alert id as acknowledged by an admin.
func (s *Service) AcknowledgeAlert(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE security_alerts SET acknowledged = true, acknowledged_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrAlertNotFound
	}
	return nil
}
