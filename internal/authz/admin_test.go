package authz_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexusiam/controlplane/internal/authz"
	"github.com/nexusiam/controlplane/internal/tokens"
)

func TestAlertHub_ServeWS_RejectsMissingToken(t *testing.T) {
	hub := authz.NewAlertHub(nil, tokens.NewManager("test-signing-key"))

	req := httptest.NewRequest(http.MethodGet, "/alerts/stream", nil)
	w := httptest.NewRecorder()

	hub.ServeWS(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for missing token, got %d", w.Code)
	}
}

func TestAlertHub_ServeWS_RejectsInvalidToken(t *testing.T) {
	hub := authz.NewAlertHub(nil, tokens.NewManager("test-signing-key"))

	req := httptest.NewRequest(http.MethodGet, "/alerts/stream?token=garbage", nil)
	w := httptest.NewRecorder()

	hub.ServeWS(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", w.Code)
	}
}

func TestAlertHub_ServeWS_RejectsNonAdminScope(t *testing.T) {
	mgr := tokens.NewManager("test-signing-key")
	hub := authz.NewAlertHub(nil, mgr)

	access, _, err := mgr.GenerateAccessToken("u1", "alice", "sess1", []string{"user"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/alerts/stream?token="+access, nil)
	w := httptest.NewRecorder()

	hub.ServeWS(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-admin scope, got %d", w.Code)
	}
}
