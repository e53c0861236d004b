package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrResponseLimited marks a response refused by the per-conversation cap.
var ErrResponseLimited = errors.New("conversation response limit reached")

// maxTrackedConversations caps the number of tracked conversations to
// prevent memory exhaustion from rotating chat ids.
const maxTrackedConversations = 4096

type responseEntry struct {
	windowStart time.Time
	count       int
}

// ResponseLimiter caps how many outbound responses one conversation may
// produce per fixed window. It is a circuit breaker against runaway
// response loops, not a shaping mechanism: the first response in a window
// starts the window, responses past the cap are refused until it rolls
// over. Safe for concurrent use.
type ResponseLimiter struct {
	mu      sync.Mutex
	entries map[string]*responseEntry
	window  time.Duration
	max     int
}

// NewResponseLimiter creates a limiter allowing max responses per window
// per conversation.
func NewResponseLimiter(window time.Duration, max int) *ResponseLimiter {
	return &ResponseLimiter{
		entries: make(map[string]*responseEntry),
		window:  window,
		max:     max,
	}
}

// SetLimits replaces the window length and cap. Existing windows keep their
// start instant; the new values apply on the next Allow.
func (r *ResponseLimiter) SetLimits(window time.Duration, max int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = window
	r.max = max
}

// Allow reports whether the conversation may produce another response now.
// A false return means the caller must suppress the response; the counter
// is still advanced so a hot loop stays blocked until the window rolls over.
func (r *ResponseLimiter) Allow(conversationKey string) bool {
	return r.AllowAt(conversationKey, time.Now())
}

// AllowAt is Allow with an explicit clock, for tests.
func (r *ResponseLimiter) AllowAt(conversationKey string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max <= 0 {
		return true
	}

	// Prune stale conversations when approaching the cap.
	if len(r.entries) >= maxTrackedConversations {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedConversations {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[conversationKey]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[conversationKey] = &responseEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.max
}
