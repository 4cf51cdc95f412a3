// Package httpx holds the shared HTTP error envelope and JSON helpers used
// by all three services, replacing the hand-rolled http.Error calls spread
// through the teacher's internal/api/*_handlers.go with a single encoder.
package httpx

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrorBody is the wire shape of the error envelope required by the
// external interface contract: {"error": {"code","message","path","timestamp"}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpx: encode response failed: %v", err)
	}
}

// WriteError writes the standard error envelope. message is what the
// caller sees; in production mode callers should pass a correlation id
// instead of the raw internal error text (see WriteInternalError).
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: ErrorDetail{
		Code:      status,
		Message:   message,
		Path:      r.URL.Path,
		Timestamp: time.Now().Unix(),
	}})
}

// WriteInternalError logs the real error under a correlation id and
// returns only that id to the caller, so internal error text never
// leaks in a production response.
func WriteInternalError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := uuid.New().String()
	log.Printf("internal error [%s] %s %s: %v", correlationID, r.Method, r.URL.Path, err)
	WriteError(w, r, http.StatusInternalServerError, "internal error, correlation_id="+correlationID)
}

// DecodeJSON decodes the request body into v, returning a 400-appropriate
// error the caller can pass straight to WriteError.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
