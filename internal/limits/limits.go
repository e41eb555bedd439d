// Package limits implements per-caller request rate limiting.
package limits

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the window that produced this decision ends.
	Reset time.Time
	// RetryAfter is only set when the request was refused.
	RetryAfter time.Duration
}

// SetHeaders writes the X-RateLimit-* headers, plus Retry-After on refusal.
func (d Decision) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		secs := int64(d.RetryAfter / time.Second)
		if d.RetryAfter%time.Second != 0 {
			secs++
		}
		h.Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(key string, now time.Time) Decision
}

// SlidingWindow admits at most limit requests per key within any window of
// the configured length. It keeps one timestamp per admitted request.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

// NewSlidingWindow returns a limiter admitting limit requests per window.
// A non-positive limit admits everything.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Hour
	}
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
	}
}

// Allow records the request when it is admitted.
func (s *SlidingWindow) Allow(key string, now time.Time) Decision {
	if s.limit <= 0 {
		return Decision{Allowed: true, Limit: s.limit, Reset: now.Add(s.window)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	log := prune(s.requests[key], now.Add(-s.window))
	if len(log) >= s.limit {
		s.requests[key] = log
		reset := log[0].Add(s.window)
		return Decision{
			Allowed:    false,
			Limit:      s.limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset.Sub(now),
		}
	}

	log = append(log, now)
	s.requests[key] = log
	return Decision{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - len(log),
		Reset:     log[0].Add(s.window),
	}
}

// Len returns the number of tracked keys.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// sweepLocked drops keys with no request inside the window. It runs at most
// once per window so Allow stays cheap with many idle callers.
func (s *SlidingWindow) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.window {
		return
	}
	s.lastSweep = now
	cutoff := now.Add(-s.window)
	for key, log := range s.requests {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(s.requests, key)
		}
	}
}

// prune drops timestamps at or before cutoff. log is in ascending order.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0:0], log[i:]...)
}
