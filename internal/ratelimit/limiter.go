// Package ratelimit implements the gateway's per-caller sliding-window
// admission control. It is deliberately in-memory and per-instance: the
// gateway needs no cross-instance coordination (sticky routing or
// over-provisioning the limit covers replicas), unlike the teacher's
// Redis-Lua limiter this package replaces.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// window holds the timestamps of recent hits for one key, trimmed lazily
// on each check. The same trim-on-read shape as the audit package's
// failed-login Detector.
type window struct {
	hits []time.Time
}

// Limiter is a sliding-window counter keyed by caller identity (or source
// address, for unauthenticated callers) plus a route bucket.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	rate    int
	period  time.Duration
}

// NewLimiter builds a limiter allowing up to rate requests per period for
// any single key.
func NewLimiter(rate int, period time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		rate:    rate,
		period:  period,
	}
}

// Allow admits or denies one request for key, recording the hit if allowed.
func (l *Limiter) Allow(key string) Decision {
	return l.AllowN(key, l.rate, l.period)
}

// AllowN admits or denies one request for key against the given rate/period
// in place of the limiter's default; Allow calls it with the defaults.
func (l *Limiter) AllowN(key string, rate int, period time.Duration) Decision {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}

	cutoff := now.Add(-period)
	kept := w.hits[:0]
	for _, t := range w.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.hits = kept

	if len(w.hits) >= rate {
		retryAfter := period - now.Sub(w.hits[0])
		return Decision{Allowed: false, Limit: rate, Remaining: 0, RetryAfter: retryAfter}
	}

	w.hits = append(w.hits, now)
	return Decision{Allowed: true, Limit: rate, Remaining: rate - len(w.hits)}
}

// Sweep discards windows that have had no activity for longer than idleFor,
// bounding memory for a gateway that has seen many distinct callers. It is
// meant to be called periodically by a background ticker, not per-request.
func (l *Limiter) Sweep(idleFor time.Duration) {
	cutoff := time.Now().Add(-idleFor)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if len(w.hits) == 0 || w.hits[len(w.hits)-1].Before(cutoff) {
			delete(l.windows, key)
		}
	}
}
