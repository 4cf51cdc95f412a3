package authz

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexusiam/controlplane/internal/audit"
	"github.com/nexusiam/controlplane/internal/tokens"
)

var alertUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // admin console origin is enforced at the gateway
	},
}

// AlertHub fans newly written security alerts out to connected admin
// consoles over a websocket, polling the audit store since Bus delivery is
// best-effort and consoles need a durable catch-up path on reconnect.
type AlertHub struct {
	audit *audit.Service
	tok   *tokens.Manager

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewAlertHub(auditSvc *audit.Service, tok *tokens.Manager) *AlertHub {
	return &AlertHub{audit: auditSvc, tok: tok, clients: make(map[*websocket.Conn]struct{})}
}

// Run polls for alerts (acknowledged or not) created since the last poll
// that returned any, and broadcasts them; it blocks until ctx is cancelled.
func (h *AlertHub) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	since := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts, err := h.audit.ListAlertsSince(ctx, since)
			if err != nil {
				log.Printf("authz: alert poll failed: %v", err)
				continue
			}
			if len(alerts) == 0 {
				continue
			}
			since = time.Now().UTC()
			for _, a := range alerts {
				h.broadcast(a)
			}
		}
	}
}

func (h *AlertHub) broadcast(a audit.SecurityAlert) {
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.Close()
			delete(h.clients, c)
		}
	}
}

// ServeWS authenticates the caller via an access token query param (the
// standard pattern for browser-native websocket clients, which can't set
// an Authorization header) and registers the connection for alert pushes.
func (h *AlertHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.tok.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !hasAdminScope(claims.Scopes) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := alertUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("authz: alert stream upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	log.Printf("authz: alert stream connected user=%s", claims.UserID)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func hasAdminScope(scopes []string) bool {
	for _, s := range scopes {
		if s == "admin" {
			return true
		}
	}
	return false
}
