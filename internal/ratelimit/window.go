// Package ratelimit bounds calls to the upstream model provider and caps
// per-conversation response rates.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// windowLength is the trailing interval over which per-minute caps apply.
const windowLength = 60 * time.Second

// minWait floors computed sleeps; timer granularity below this just burns CPU.
const minWait = 10 * time.Millisecond

// Limits are the per-minute caps. A zero cap disables that dimension.
type Limits struct {
	RequestsPerMinute     int
	InputTokensPerMinute  int
	OutputTokensPerMinute int
}

type windowEntry struct {
	at           time.Time
	inputTokens  int
	outputTokens int
}

// Window is a sliding-window rate limiter tracking three independent
// dimensions (request count, input tokens, output tokens) over a trailing
// 60 seconds. Reserve blocks until a reservation of the requested size fits
// in all three. Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	limits  Limits
	entries []*windowEntry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindow creates a rate window with the given caps.
func NewWindow(limits Limits) *Window {
	return &Window{
		limits: limits,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetLimits replaces the caps. Takes effect on the next reservation check;
// waiting reservations pick it up on their next retry.
func (w *Window) SetLimits(limits Limits) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.limits = limits
}

// Limits returns the current caps.
func (w *Window) Limits() Limits {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limits
}

// Permit is a recorded capacity reservation. Complete corrects the recorded
// estimate to actual usage once the call finishes.
type Permit struct {
	window    *Window
	entry     *windowEntry
	completed bool
}

// Complete rewrites the reservation with actual token usage. Negative values
// keep the estimate for that dimension. Safe to call once; repeats no-op.
func (p *Permit) Complete(actualInput, actualOutput int) {
	if p == nil || p.window == nil {
		return
	}
	p.window.mu.Lock()
	defer p.window.mu.Unlock()
	if p.completed {
		return
	}
	p.completed = true
	if actualInput >= 0 {
		p.entry.inputTokens = actualInput
	}
	if actualOutput >= 0 {
		p.entry.outputTokens = actualOutput
	}
}

// Reserve blocks until a reservation for one request of the estimated size
// fits in all three dimensions, then records it and returns the permit.
// Reservations use estimates so waiting callers are not under-throttled;
// correct them with Permit.Complete once actual usage is known.
//
// A reservation larger than a cap is admitted once the window is empty
// rather than blocking forever.
func (w *Window) Reserve(ctx context.Context, estInput, estOutput int) (*Permit, error) {
	for {
		permit, wait := w.tryReserve(estInput, estOutput)
		if permit != nil {
			return permit, nil
		}

		if wait < minWait {
			wait = minWait
		}
		slog.Debug("ratelimit: window full, waiting",
			"wait", wait, "est_input", estInput, "est_output", estOutput)
		if err := w.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// tryReserve admits immediately or returns how long until the oldest entries
// age out enough to make room. Each dimension computes its own wait; the
// caller sleeps the maximum so no dimension is starved by another.
func (w *Window) tryReserve(estInput, estOutput int) (*Permit, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.trim(now)

	if len(w.entries) == 0 {
		return w.admit(now, estInput, estOutput), 0
	}

	var wait time.Duration
	if d := w.waitForCount(now); d > wait {
		wait = d
	}
	if d := w.waitForTokens(now, estInput, func(e *windowEntry) int { return e.inputTokens }, w.limits.InputTokensPerMinute); d > wait {
		wait = d
	}
	if d := w.waitForTokens(now, estOutput, func(e *windowEntry) int { return e.outputTokens }, w.limits.OutputTokensPerMinute); d > wait {
		wait = d
	}

	if wait <= 0 {
		return w.admit(now, estInput, estOutput), 0
	}
	return nil, wait
}

func (w *Window) admit(now time.Time, estInput, estOutput int) *Permit {
	entry := &windowEntry{at: now, inputTokens: estInput, outputTokens: estOutput}
	w.entries = append(w.entries, entry)
	return &Permit{window: w, entry: entry}
}

// trim drops entries older than the trailing window. Entries are appended in
// time order, so the kept suffix stays ordered.
func (w *Window) trim(now time.Time) {
	cutoff := now.Add(-windowLength)
	i := 0
	for i < len(w.entries) && !w.entries[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = append([]*windowEntry(nil), w.entries[i:]...)
	}
}

// waitForCount returns how long until the request-count dimension fits one
// more reservation.
func (w *Window) waitForCount(now time.Time) time.Duration {
	cap := w.limits.RequestsPerMinute
	if cap <= 0 || len(w.entries) < cap {
		return 0
	}
	// The oldest (len+1-cap) entries must age out.
	idx := len(w.entries) - cap
	return w.entries[idx].at.Add(windowLength).Sub(now)
}

// waitForTokens returns how long until enough of the oldest entries age out
// that sum+est fits under cap for the given token dimension.
func (w *Window) waitForTokens(now time.Time, est int, tokens func(*windowEntry) int, cap int) time.Duration {
	if cap <= 0 {
		return 0
	}
	sum := 0
	for _, e := range w.entries {
		sum += tokens(e)
	}
	if sum+est <= cap {
		return 0
	}
	// Walk oldest-first, releasing each entry's tokens, until the
	// reservation fits; wait until that entry leaves the window.
	for _, e := range w.entries {
		sum -= tokens(e)
		if sum+est <= cap {
			return e.at.Add(windowLength).Sub(now)
		}
	}
	// Even an empty window cannot fit the estimate; wait for full drain.
	return w.entries[len(w.entries)-1].at.Add(windowLength).Sub(now)
}

// Usage returns the current in-window totals, for diagnostics.
func (w *Window) Usage() (requests, inputTokens, outputTokens int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(w.now())
	for _, e := range w.entries {
		inputTokens += e.inputTokens
		outputTokens += e.outputTokens
	}
	return len(w.entries), inputTokens, outputTokens
}
