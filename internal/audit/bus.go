package audit

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"
)

const (
	SubjectAuditEvents   = "iam.audit.events"
	SubjectSecurityAlert = "iam.security.alerts"
)

// NatsBus fans out committed audit events and security alerts to NATS for
// external SIEM/monitoring subscribers. Publishing is best-effort: it never
// sits on the critical path of WriteEvent, and publish failures are only
// logged, never returned to the caller.
type NatsBus struct {
	conn *nats.Conn
}

func NewNatsBus(conn *nats.Conn) *NatsBus {
	return &NatsBus{conn: conn}
}

func (b *NatsBus) PublishEvent(evt AuditEvent) {
	if b == nil || b.conn == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("audit: bus marshal event failed: %v", err)
		return
	}
	if err := b.conn.Publish(SubjectAuditEvents, payload); err != nil {
		log.Printf("audit: bus publish event failed: %v", err)
	}
}

func (b *NatsBus) PublishAlert(alert SecurityAlert) {
	if b == nil || b.conn == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		log.Printf("audit: bus marshal alert failed: %v", err)
		return
	}
	if err := b.conn.Publish(SubjectSecurityAlert, payload); err != nil {
		log.Printf("audit: bus publish alert failed: %v", err)
	}
}
