package httpx_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nexusiam/controlplane/internal/httpx"
)

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": "abc"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("expected id abc, got %v", body)
	}
}

func TestWriteError_ProducesStandardEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)

	httpx.WriteError(w, req, http.StatusForbidden, "insufficient permission")

	var body httpx.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.Code != http.StatusForbidden {
		t.Errorf("expected code 403, got %d", body.Error.Code)
	}
	if body.Error.Message != "insufficient permission" {
		t.Errorf("unexpected message: %q", body.Error.Message)
	}
	if body.Error.Path != "/api/v1/policies" {
		t.Errorf("expected path to be populated from the request, got %q", body.Error.Path)
	}
}

func TestWriteInternalError_HidesRawErrorText(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)

	httpx.WriteInternalError(w, req, errors.New(`column "secret_internal_column" does not exist`))

	var body httpx.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", body.Error.Code)
	}
	if strings.Contains(body.Error.Message, "secret_internal_column") {
		t.Error("expected the raw error text to be hidden from the response")
	}
	if !strings.Contains(body.Error.Message, "correlation_id=") {
		t.Error("expected a correlation id in place of the raw error")
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", io.NopCloser(strings.NewReader(`{"known":"value","unknown":"oops"}`)))

	var target struct {
		Known string `json:"known"`
	}
	if err := httpx.DecodeJSON(req, &target); err == nil {
		t.Error("expected an error for an unrecognized field")
	}
}

func TestDecodeJSON_AcceptsKnownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", io.NopCloser(strings.NewReader(`{"known":"value"}`)))

	var target struct {
		Known string `json:"known"`
	}
	if err := httpx.DecodeJSON(req, &target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target.Known != "value" {
		t.Errorf("expected known=value, got %q", target.Known)
	}
}
