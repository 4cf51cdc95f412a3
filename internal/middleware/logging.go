package middleware

import (
	"log"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs method/path/status/duration for every request, tagged
// with the request id chimiddleware.RequestID already placed in the
// context (mounted ahead of this one, see cmd/*/main.go) rather than
// minting its own. Supplements chi/middleware's own Logger with the
// request/response shape the audit and proxy-latency paths care about.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := chimiddleware.GetReqID(r.Context())
		start := time.Now()

		log.Printf("[REQ:%s] %s %s from %s", reqID, r.Method, r.URL.Path, r.RemoteAddr)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		// Also log auth failures if status is 401/403
		log.Printf("[REQ:%s] Completed %d in %v", reqID, rw.status, duration)
	})
}
