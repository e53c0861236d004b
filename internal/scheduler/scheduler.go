// Package scheduler admits provider calls under concurrency and rate caps.
//
// Submitted tasks wait in a priority queue; a fixed pool of worker slots
// pulls the highest-priority ready item, reserves rate-window capacity,
// executes, and corrects the reservation with actual token usage. Transient
// provider failures are re-enqueued with backoff up to a retry cap.
//
// There is no cancellation of in-flight calls: once a task starts it runs
// to completion and the caller discards an unwanted result. Cancelling the
// submission context only abandons items still queued or still waiting for
// rate capacity.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inletworks/inlet/internal/providers"
	"github.com/inletworks/inlet/internal/ratelimit"
	"github.com/inletworks/inlet/internal/typing"
)

// Priorities. Lower runs first.
const (
	PriorityInteractive = 1 // direct user messages
	PriorityBackground  = 5 // announcements, housekeeping
)

// ErrRetriesExhausted wraps the last transient failure after the retry cap.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("scheduler closed")

// Task is one zero-argument provider call. A nil result with a nil error is
// treated as success with zero usage.
type Task func(ctx context.Context) (*Result, error)

// Result is a completed provider call with its reported usage.
type Result struct {
	Content string
	Usage   providers.Usage
}

// Outcome is delivered exactly once per submission.
type Outcome struct {
	Result *Result
	Err    error
}

// Request describes a submission.
type Request struct {
	ConversationKey string
	Priority        int // 0 → PriorityBackground
	EstInputTokens  int
	EstOutputTokens int
	Task            Task
}

// Options configures a Scheduler.
type Options struct {
	MaxConcurrent int                       // worker slots (default 2)
	MaxRetries    int                       // transient-failure retries per item (default 3)
	BaseBackoff   time.Duration             // first retry delay, doubles per attempt (default 2s)
	Window        *ratelimit.Window         // required
	Signaler      typing.Signaler           // optional activity signal
	RetryHint     func(error) time.Duration // optional provider hint adapter (default providers.RetryHint)
}

// Scheduler is the outbound request scheduler. Safe for concurrent use.
type Scheduler struct {
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	queue   itemHeap
	seq     uint64
	closed  bool
	pending sync.WaitGroup // in-flight items, including backoff waits

	workers sync.WaitGroup
}

// New creates a scheduler and starts its worker slots.
func New(opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 2 * time.Second
	}
	if opts.RetryHint == nil {
		opts.RetryHint = providers.RetryHint
	}

	s := &Scheduler{opts: opts}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < opts.MaxConcurrent; i++ {
		s.workers.Add(1)
		go s.worker()
	}
	return s
}

// Submit enqueues a provider call. The returned channel delivers exactly one
// Outcome. Cancelling ctx abandons the item while it waits in the queue or
// for rate capacity; it does not interrupt a started task.
func (s *Scheduler) Submit(ctx context.Context, req Request) <-chan Outcome {
	out := make(chan Outcome, 1)

	priority := req.Priority
	if priority == 0 {
		priority = PriorityBackground
	}

	it := &item{
		ctx:             ctx,
		task:            req.Task,
		conversationKey: req.ConversationKey,
		priority:        priority,
		enqueuedAt:      time.Now(),
		estInput:        req.EstInputTokens,
		estOutput:       req.EstOutputTokens,
		out:             out,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		out <- Outcome{Err: ErrClosed}
		return out
	}
	s.pending.Add(1)
	s.push(it)
	s.mu.Unlock()

	slog.Debug("scheduler: submitted",
		"conversation", req.ConversationKey, "priority", priority,
		"est_input", req.EstInputTokens, "est_output", req.EstOutputTokens)
	return out
}

// push appends under s.mu and wakes one worker.
func (s *Scheduler) push(it *item) {
	it.seq = s.seq
	s.seq++
	heap.Push(&s.queue, it)
	s.cond.Signal()
}

// requeue re-enqueues a retried item after its backoff.
func (s *Scheduler) requeue(it *item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.finish(it, Outcome{Err: ErrClosed})
		return
	}
	heap.Push(&s.queue, it)
	s.cond.Signal()
}

// Close stops accepting work, fails queued items, and waits for in-flight
// executions to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, it := range s.queue {
		s.finish(it, Outcome{Err: ErrClosed})
	}
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.workers.Wait()
}

// Wait blocks until every submitted item has a delivered outcome.
func (s *Scheduler) Wait() {
	s.pending.Wait()
}

func (s *Scheduler) worker() {
	defer s.workers.Done()
	for {
		it, ok := s.next()
		if !ok {
			return
		}
		s.execute(it)
	}
}

// next blocks until an item is ready or the scheduler is closed.
func (s *Scheduler) next() (*item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, false
	}
	return heap.Pop(&s.queue).(*item), true
}

// finish delivers the outcome and emits the activity stop if one is owed.
// Callers on the retry path bypass this so the indicator stays on.
func (s *Scheduler) finish(it *item, outcome Outcome) {
	if it.signaled && s.opts.Signaler != nil {
		s.opts.Signaler.Stopped(it.conversationKey)
	}
	it.out <- outcome
	s.pending.Done()
}

func (s *Scheduler) execute(it *item) {
	// Abandon items whose submitter gave up while queued.
	if err := it.ctx.Err(); err != nil {
		s.finish(it, Outcome{Err: err})
		return
	}

	permit, err := s.opts.Window.Reserve(it.ctx, it.estInput, it.estOutput)
	if err != nil {
		s.finish(it, Outcome{Err: err})
		return
	}

	if !it.signaled && s.opts.Signaler != nil {
		s.opts.Signaler.Started(it.conversationKey)
		it.signaled = true
	}

	// In-flight calls are never cancelled; detach the submission context.
	result, err := it.task(context.WithoutCancel(it.ctx))
	if err == nil {
		if result == nil {
			result = &Result{}
		}
		permit.Complete(result.Usage.PromptTokens, result.Usage.CompletionTokens)
		s.finish(it, Outcome{Result: result})
		return
	}

	// The failed request still spent a request slot; keep the estimate.
	if !providers.IsRetryable(err) {
		slog.Warn("scheduler: terminal provider failure",
			"conversation", it.conversationKey, "error", err)
		s.finish(it, Outcome{Err: err})
		return
	}

	if it.retryCount >= s.opts.MaxRetries {
		slog.Error("scheduler: retries exhausted — operator attention needed",
			"conversation", it.conversationKey, "retries", it.retryCount, "error", err)
		s.finish(it, Outcome{Err: fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, it.retryCount+1, err)})
		return
	}

	delay := s.backoff(it.retryCount, err)
	it.retryCount++
	slog.Info("scheduler: transient failure, retrying",
		"conversation", it.conversationKey, "retry", it.retryCount,
		"max", s.opts.MaxRetries, "delay", delay, "error", err)

	// The activity stop is deliberately not emitted here: the indicator
	// stays on across the backoff instead of flickering between attempts.
	time.AfterFunc(delay, func() { s.requeue(it) })
}

// backoff returns the delay before the next attempt: the provider hint when
// present, else exponential from the base.
func (s *Scheduler) backoff(retryCount int, err error) time.Duration {
	if hint := s.opts.RetryHint(err); hint > 0 {
		return hint
	}
	d := s.opts.BaseBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
	}
	return d
}
