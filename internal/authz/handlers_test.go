package authz_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nexusiam/controlplane/internal/authz"
	"github.com/nexusiam/controlplane/internal/data"
)

func withChiContext(r *http.Request, rc *chi.Context) context.Context {
	return context.WithValue(r.Context(), chi.RouteCtxKey, rc)
}

func newTestHandlers(t *testing.T) (*authz.Handlers, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	policyModel := data.PolicyModel{DB: db}
	engine := authz.NewEngine(policyModel, nil, authz.DefaultConfig())
	policies := authz.NewPolicyService(policyModel, engine)
	return authz.NewHandlers(engine, policies, nil), mock
}

func TestHandlers_Authorize_NoPoliciesDeniesByDefault(t *testing.T) {
	h, mock := newTestHandlers(t)

	mock.ExpectQuery("SELECT (.+) FROM policies WHERE is_active = true").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "version", "effect", "priority", "target", "condition", "obligations",
			"advice", "is_active", "created_at", "updated_at",
		}))

	body := `{"subject":{"id":"u1","roles":["user"]},"resource":"doc:1","action":"read"}`
	req := httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.Authorize(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	decision, ok := out["decision"].(map[string]any)
	if !ok {
		t.Fatalf("expected a decision object, got %v", out)
	}
	if decision["effect"] != string(authz.Deny) {
		t.Errorf("expected default deny, got %v", decision["effect"])
	}
}

func TestHandlers_Authorize_RejectsMalformedBody(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewBufferString(`{"subject":`))
	w := httptest.NewRecorder()

	h.Authorize(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", w.Code)
	}
}

func TestHandlers_GetPolicy_NotFound(t *testing.T) {
	h, mock := newTestHandlers(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM policies WHERE id = \\$1").WithArgs(id).WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/policies/"+id.String(), nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("id", id.String())
	req = req.WithContext(withChiContext(req, rc))
	w := httptest.NewRecorder()

	h.GetPolicy(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlers_GetPolicy_InvalidID(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/policies/not-a-uuid", nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("id", "not-a-uuid")
	req = req.WithContext(withChiContext(req, rc))
	w := httptest.NewRecorder()

	h.GetPolicy(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid uuid, got %d", w.Code)
	}
}

func TestHandlers_CreatePolicy_Success(t *testing.T) {
	h, mock := newTestHandlers(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO policies").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(id, 1, now, now))

	body := `{"effect":"permit","priority":10,"target":{"resources":["*"],"actions":["read"]}}`
	req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreatePolicy(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandlers_ClearCache_Returns204(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	w := httptest.NewRecorder()

	h.ClearCache(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestHandlers_Health_ReturnsOK(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
