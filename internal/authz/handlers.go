package authz

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nexusiam/controlplane/internal/audit"
	"github.com/nexusiam/controlplane/internal/httpx"
)

// Handlers adapts Engine/PolicyService/audit.Service to the HTTP surface
// described in spec §6.
type Handlers struct {
	engine  *Engine
	policies *PolicyService
	audit   *audit.Service
}

func NewHandlers(engine *Engine, policies *PolicyService, auditSvc *audit.Service) *Handlers {
	return &Handlers{engine: engine, policies: policies, audit: auditSvc}
}

type authorizeRequest struct {
	Subject  Subject        `json:"subject"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
}

func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	d, err := h.engine.Authorize(r.Context(), Request{
		Subject: req.Subject, Resource: req.Resource, Action: req.Action, Context: req.Context,
	}, r.Header.Get("X-Request-ID"))
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"decision": d})
}

type bulkRequest struct {
	Subject Subject    `json:"subject"`
	Items   []BulkItem `json:"items"`
}

func (h *Handlers) AuthorizeBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.engine.Bulk(r.Context(), req.Subject, req.Items, r.Header.Get("X-Request-ID"))
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) AuthorizeBatchOptimized(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	result, err := h.engine.BatchOptimized(r.Context(), req.Subject, req.Items, r.Header.Get("X-Request-ID"))
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagingParams(r)
	policies, err := h.policies.List(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var in PolicyInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	p, err := h.policies.Create(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid policy id")
		return
	}
	p, err := h.policies.Get(r.Context(), id)
	if err == ErrPolicyNotFound {
		httpx.WriteError(w, r, http.StatusNotFound, "policy not found")
		return
	}
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid policy id")
		return
	}
	var in PolicyInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	p, err := h.policies.Update(r.Context(), id, in)
	if err == ErrPolicyNotFound {
		httpx.WriteError(w, r, http.StatusNotFound, "policy not found")
		return
	}
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid policy id")
		return
	}
	if err := h.policies.Delete(r.Context(), id); err == ErrPolicyNotFound {
		httpx.WriteError(w, r, http.StatusNotFound, "policy not found")
		return
	} else if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) QueryAuditDecisions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagingParams(r)
	f := audit.AuditFilter{Action: "authz.decision", Limit: limit, Offset: offset}
	if actor := r.URL.Query().Get("subject_id"); actor != "" {
		if id, err := uuid.Parse(actor); err == nil {
			f.ActorUserID = &id
		}
	}
	if result := r.URL.Query().Get("decision"); result != "" {
		f.Result = result
	}
	events, err := h.audit.QueryEvents(r.Context(), f)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"decisions": events})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC()})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handlers) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.engine.InvalidateCache()
	w.WriteHeader(http.StatusNoContent)
}

type warmCacheRequest struct {
	Requests []authorizeRequest `json:"requests"`
}

func (h *Handlers) WarmCache(w http.ResponseWriter, r *http.Request) {
	var in warmCacheRequest
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	reqs := make([]Request, len(in.Requests))
	for i, ar := range in.Requests {
		reqs[i] = Request{Subject: ar.Subject, Resource: ar.Resource, Action: ar.Action, Context: ar.Context}
	}
	h.engine.WarmCache(r.Context(), reqs)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListSecurityAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagingParams(r)
	alerts, err := h.audit.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (h *Handlers) AcknowledgeSecurityAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := h.audit.AcknowledgeAlert(r.Context(), id); err == audit.ErrAlertNotFound {
		httpx.WriteError(w, r, http.StatusNotFound, "alert not found")
		return
	} else if err != nil {
		httpx.WriteInternalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pagingParams(r *http.Request) (limit, offset int) {
	limit = 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
