package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nexusiam/controlplane/internal/ratelimit"
)

// RateLimitMiddleware admits requests by (caller identity if authenticated,
// else source address) + route bucket, per spec §4.4.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
}

func NewRateLimitMiddleware(l *ratelimit.Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l}
}

func callerKey(r *http.Request) string {
	if ac, ok := GetAuthContext(r.Context()); ok {
		return "user:" + ac.UserID
	}
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	} else {
		ip = strings.Split(ip, ",")[0]
	}
	return "ip:" + ip
}

// Admit is the gateway's rate-limit admission middleware: on denial it
// writes 429 with a Retry-After hint and stops the chain.
func (m *RateLimitMiddleware) Admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerKey(r) + ":" + routeBucket(r.URL.Path)
		decision := m.limiter.Allow(key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeBucket groups a path into a coarse bucket of its first four segments
// so e.g. /api/v1/auth/login and /api/v1/auth/refresh don't share one
// counter, while deeper paths under one of them do.
func routeBucket(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 5)
	if len(parts) > 4 {
		parts = parts[:4]
	}
	return strings.Join(parts, "/")
}
