package gateway

import (
	"net/http"

	"github.com/nexusiam/controlplane/internal/httpx"
)

// AdminHandlers serves the gateway's own operational endpoints, separate
// from Gateway's proxied-traffic ServeHTTP.
type AdminHandlers struct {
	cfgStore *ConfigStore
	health   *HealthTracker
}

func NewAdminHandlers(cfgStore *ConfigStore, health *HealthTracker) *AdminHandlers {
	return &AdminHandlers{cfgStore: cfgStore, health: health}
}

// Health aggregates upstream status for /gateway/health. The gateway
// itself reports healthy whenever it can serve the request at all; per
// §4.3 an unhealthy upstream still receives traffic, so this endpoint is
// informational, not a circuit breaker.
func (h *AdminHandlers) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := h.health.Snapshot()
	allHealthy := true
	for _, s := range snapshot {
		if !s.Healthy {
			allHealthy = false
			break
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"upstreams": snapshot,
		"all_healthy": allHealthy,
	})
}

// Metrics is a lightweight operational summary distinct from the
// Prometheus /metrics exposition (mounted separately in cmd/gateway);
// this one is the human/debug view spec §6 names explicitly.
func (h *AdminHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgStore.Get()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"rate_limit_per_minute": cfg.RateLimitPerMinute,
		"upstreams":             h.health.Snapshot(),
	})
}

// Config exposes the live (possibly hot-reloaded) gateway configuration,
// for operator visibility into route table and fail-open state.
func (h *AdminHandlers) Config(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.cfgStore.Get())
}
