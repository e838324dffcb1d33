// Package ratelimit provides the per-client fixed-window limiter used by the
// HTTP endpoints.
package ratelimit

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// UnknownClient is the key used when a request carries no forwarding header.
const UnknownClient = "unknown"

type window struct {
	count int
	reset time.Time
}

// Limiter allows at most Limit requests per key in each fixed window. The
// window for a key opens with its first request. Safe for concurrent use.
type Limiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// New returns a Limiter allowing limit requests per period.
func New(limit int, period time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// SetLimit replaces the budget. Windows already open keep their reset time
// and are checked against the new limit.
func (l *Limiter) SetLimit(limit int, period time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.period = period
}

// Allow records a request for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return false
	}

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		l.windows[key] = &window{count: 1, reset: now.Add(l.period)}
		l.sweep(now)
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops expired windows once the map grows. Must be called with mu held.
func (l *Limiter) sweep(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for k, w := range l.windows {
		if now.After(w.reset) {
			delete(l.windows, k)
		}
	}
}

// ClientIP returns the first X-Forwarded-For entry, or [UnknownClient].
func ClientIP(r *http.Request) string {
	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return UnknownClient
	}
	first, _, _ := strings.Cut(fwd, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return UnknownClient
	}
	return first
}
