package web

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client id.
type RateLimiter struct {
	maxRequests int
	window      time.Duration

	mu       sync.Mutex
	requests map[string][]time.Time
	now      func() time.Time
}

// NewRateLimiter allows maxRequests per window per client.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    map[string][]time.Time{},
		now:         time.Now,
	}
}

func (r *RateLimiter) recentLocked(clientID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	kept := r.requests[clientID][:0]
	for _, t := range r.requests[clientID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests[clientID] = kept
	return kept
}

// Allow records a request and reports whether it fits the window.
func (r *RateLimiter) Allow(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	recent := r.recentLocked(clientID, now)
	if len(recent) >= r.maxRequests {
		return false
	}
	r.requests[clientID] = append(recent, now)
	return true
}

// Remaining reports how many requests the client has left in the window.
func (r *RateLimiter) Remaining(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(0, r.maxRequests-len(r.recentLocked(clientID, r.now())))
}

// Reset clears the window for one client.
func (r *RateLimiter) Reset(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, clientID)
}
