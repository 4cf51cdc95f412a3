package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nexusiam/controlplane/internal/httpx"
	"github.com/nexusiam/controlplane/internal/middleware"
)

// Gateway is the front door: authentication gating, admin authorization
// gating, then authenticated reverse-proxy dispatch, per spec §4.3's
// per-request pipeline. Rate-limit admission (pipeline step 1) runs as a
// chi middleware ahead of Gateway (see cmd/gateway), since it needs no
// route-table knowledge and composes cleanly as a standalone layer.
type Gateway struct {
	cfgStore *ConfigStore
	authz    *AuthzClient
	dispatch *Dispatcher
	health   *HealthTracker
}

// New constructs the gateway. Authentication itself happens ahead of the
// Gateway in the middleware chain (middleware.JWTAuth.OptionalAuth, see
// cmd/gateway) so rate-limit admission can bucket by caller identity;
// Gateway.ServeHTTP only reads the AuthContext it already finds in the
// request context.
func New(cfgStore *ConfigStore, authz *AuthzClient, health *HealthTracker) *Gateway {
	cfg := cfgStore.Get()
	return &Gateway{
		cfgStore: cfgStore,
		authz:    authz,
		dispatch: NewDispatcher(cfg.UpstreamTimeout),
		health:   health,
	}
}

// ServeHTTP implements steps 2-4 of the §4.3 pipeline directly (rather
// than as a chi middleware chain) because the admin gate needs the
// route's RequiresAdmin flag, which only route resolution knows —
// threading that through generic middleware would need a second context
// key for what is, in the end, a single linear decision sequence.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := g.cfgStore.Get()

	route, ok := resolveRoute(cfg.Routes, r.URL.Path)
	if !ok {
		httpx.WriteError(w, r, http.StatusNotFound, "no route for path")
		return
	}

	// OptionalAuth (run ahead of rate-limit admission, see cmd/gateway) has
	// already resolved an AuthContext into the request context when the
	// bearer token is present and valid; reuse it instead of re-parsing.
	ac, _ := middleware.GetAuthContext(r.Context())
	if route.RequiresAuth && ac == nil {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	if route.RequiresAdmin {
		if ac == nil {
			httpx.WriteError(w, r, http.StatusUnauthorized, "invalid or missing credentials")
			return
		}
		permitted, err := g.checkAdmin(r.Context(), ac, route, r)
		if err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "authorization service unavailable")
			return
		}
		if !permitted {
			httpx.WriteError(w, r, http.StatusForbidden, "insufficient permission")
			return
		}
	}

	g.dispatchRoute(w, r, cfg, route)
}

func (g *Gateway) checkAdmin(ctx context.Context, ac *middleware.AuthContext, route resolvedRoute, r *http.Request) (bool, error) {
	resource := "policies"
	if len(r.URL.Path) >= 10 && containsAuditSegment(r.URL.Path) {
		resource = "audit"
	}
	effect, _, err := g.authz.Authorize(ctx, ac.UserID, ac.Scopes, resource, r.Method, map[string]any{"path": r.URL.Path})
	if err != nil {
		return false, err
	}
	return effect == "permit", nil
}

func containsAuditSegment(path string) bool {
	for i := 0; i+6 <= len(path); i++ {
		if path[i:i+6] == "/audit" {
			return true
		}
	}
	return false
}

func (g *Gateway) dispatchRoute(w http.ResponseWriter, r *http.Request, cfg Config, route resolvedRoute) {
	upstreamBase := cfg.AuthnUpstream
	if route.Upstream == "authz" {
		upstreamBase = cfg.AuthzUpstream
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.UpstreamTimeout)
	defer cancel()

	resp, err := g.dispatch.ForwardWithRetry(ctx, upstreamBase, r.Method, route.ForwardPath, r.Header, r.URL.RawQuery, body)
	if err != nil {
		if g.shouldFailOpen(cfg, r.URL.Path) {
			writeFailOpenDecision(w, r)
			return
		}
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "upstream unavailable")
		return
	}

	for k, vv := range resp.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// shouldFailOpen implements §4.3's narrow fallback: only the data-plane
// authorize endpoint, and only when explicitly configured.
func (g *Gateway) shouldFailOpen(cfg Config, path string) bool {
	return cfg.AuthorizeFailOpen && path == "/api/v1/authz/authorize"
}

func writeFailOpenDecision(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"decision": map[string]any{
			"effect":    "permit",
			"reason":    "development fallback: authz upstream unreachable",
			"cache_hit": false,
			"timestamp": time.Now().UTC(),
		},
	})
}
