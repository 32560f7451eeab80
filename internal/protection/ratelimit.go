// Package protection implements Session Protection (§4.5): input
// validation and sanitization, per-(session,agent) sliding-window rate
// limiting, and the advisory write-lock boundary every mutating Chat
// Engine and Roundtable operation passes through.
package protection

import (
	"sync"
	"time"

	"github.com/conclave-run/conclave/internal/domain"
)

// DefaultWindow and DefaultLimit are the sliding-window rate limit
// defaults named in SPEC_FULL.md's supplemented Session Protection
// section: 20 messages per 60 seconds per (session, agent) pair.
const (
	DefaultLimit  = 20
	DefaultWindow = 60 * time.Second
)

// slidingWindow tracks timestamps of accepted events within the last
// window, trimming expired entries lazily on each check. Grounded on
// nexus's token-bucket Bucket (internal/ratelimit), adapted from a
// continuous-refill bucket to an exact sliding window since the spec
// calls for "sliding windows" rather than bucket refill semantics.
type slidingWindow struct {
	mu        sync.Mutex
	events    []time.Time
	limit     int
	window    time.Duration
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window}
}

// allow reports whether an event at now is permitted, and if not, how long
// the caller must wait before the oldest in-window event expires.
func (w *slidingWindow) allow(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && w.events[i].Before(cutoff) {
		i++
	}
	w.events = w.events[i:]

	if len(w.events) >= w.limit {
		retryAfter := w.events[0].Add(w.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	w.events = append(w.events, now)
	return true, 0
}

// RateLimiter enforces a sliding-window limit per (session_id, agent_id)
// pair, the key shape SPEC_FULL.md's supplement names.
type RateLimiter struct {
	mu      sync.RWMutex
	windows map[string]*slidingWindow
	limit   int
	window  time.Duration
	maxKeys int
}

// NewRateLimiter builds a limiter with the given per-key limit and window.
// A non-positive limit or window falls back to DefaultLimit/DefaultWindow.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RateLimiter{
		windows: make(map[string]*slidingWindow),
		limit:   limit,
		window:  window,
		maxKeys: 50000,
	}
}

func key(sessionID, agentID string) string { return sessionID + ":" + agentID }

func (r *RateLimiter) windowFor(sessionID, agentID string) *slidingWindow {
	k := key(sessionID, agentID)

	r.mu.RLock()
	w, ok := r.windows[k]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok = r.windows[k]; ok {
		return w
	}
	if len(r.windows) >= r.maxKeys {
		r.pruneLocked()
	}
	w = newSlidingWindow(r.limit, r.window)
	r.windows[k] = w
	return w
}

// pruneLocked drops windows with no events, reclaiming memory from
// sessions that have gone idle. Caller must hold r.mu.
func (r *RateLimiter) pruneLocked() {
	for k, w := range r.windows {
		w.mu.Lock()
		empty := len(w.events) == 0
		w.mu.Unlock()
		if empty {
			delete(r.windows, k)
		}
	}
}

// Allow checks and, if permitted, records a message from sessionID/agentID
// at the current time. On rejection it returns a domain.RateLimitError
// naming how long the caller should wait.
func (r *RateLimiter) Allow(sessionID, agentID string) error {
	w := r.windowFor(sessionID, agentID)
	ok, retryAfter := w.allow(time.Now())
	if !ok {
		return domain.NewRateLimitError(retryAfter.Seconds())
	}
	return nil
}
