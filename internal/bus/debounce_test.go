package bus

import (
	"sync"
	"testing"
	"time"
)

// collector gathers flushed messages for assertions.
type collector struct {
	mu   sync.Mutex
	msgs []InboundMessage
}

func (c *collector) flush(msg InboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) snapshot() []InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]InboundMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func waitForFlushes(t *testing.T, c *collector, want int) []InboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushes, got %d", want, len(c.snapshot()))
	return nil
}

func TestDebouncerMergesBurst(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(30*time.Millisecond, c.flush)
	defer d.Stop()

	d.Submit("chat:a", InboundMessage{ID: "1", Content: "first"})
	d.Submit("chat:a", InboundMessage{ID: "2", Content: "second"})
	d.Submit("chat:a", InboundMessage{ID: "3", Content: "third", Metadata: map[string]string{"message_id": "3"}})

	got := waitForFlushes(t, &c, 1)
	if len(got) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(got))
	}
	if got[0].Content != "first\nsecond\nthird" {
		t.Errorf("merged content = %q, want texts newline-joined in arrival order", got[0].Content)
	}
	// Merged unit carries the last arrival's identity and metadata.
	if got[0].ID != "3" || got[0].Metadata["message_id"] != "3" {
		t.Errorf("merged message should carry last arrival's metadata, got id=%q", got[0].ID)
	}
}

func TestDebouncerQuietGapSplitsUnits(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(20*time.Millisecond, c.flush)
	defer d.Stop()

	d.Submit("chat:a", InboundMessage{Content: "one"})
	waitForFlushes(t, &c, 1)
	d.Submit("chat:a", InboundMessage{Content: "two"})

	got := waitForFlushes(t, &c, 2)
	if len(got) != 2 {
		t.Fatalf("expected two flushes, got %d", len(got))
	}
	if got[0].Content != "one" || got[1].Content != "two" {
		t.Errorf("got %q, %q; want separate units", got[0].Content, got[1].Content)
	}
}

func TestDebouncerConversationsIndependent(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(25*time.Millisecond, c.flush)
	defer d.Stop()

	d.Submit("chat:a", InboundMessage{ChatID: "a", Content: "for a"})
	d.Submit("chat:b", InboundMessage{ChatID: "b", Content: "for b"})

	got := waitForFlushes(t, &c, 2)
	seen := map[string]bool{}
	for _, m := range got {
		seen[m.ChatID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected one flush per conversation, got %+v", got)
	}
}

func TestDebouncerSubmitAfterFlushStartsFreshBuffer(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(15*time.Millisecond, c.flush)
	defer d.Stop()

	d.Submit("chat:a", InboundMessage{Content: "one"})
	waitForFlushes(t, &c, 1)

	// A message arriving after the buffer was detached must not be lost.
	d.Submit("chat:a", InboundMessage{Content: "two"})
	got := waitForFlushes(t, &c, 2)
	if got[1].Content != "two" {
		t.Errorf("post-flush submission lost: got %q", got[1].Content)
	}
}

func TestDebouncerZeroIntervalPassthrough(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(0, c.flush)

	d.Submit("chat:a", InboundMessage{Content: "direct"})
	if got := c.snapshot(); len(got) != 1 || got[0].Content != "direct" {
		t.Fatalf("zero interval should flush synchronously, got %+v", got)
	}
}

func TestDebouncerStopDiscardsPending(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(50*time.Millisecond, c.flush)

	d.Submit("chat:a", InboundMessage{Content: "pending"})
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("expected no flushes after Stop, got %d", len(got))
	}
}

func TestDebouncerFlushAll(t *testing.T) {
	var c collector
	d := NewInboundDebouncer(time.Hour, c.flush)
	defer d.Stop()

	d.Submit("chat:a", InboundMessage{Content: "a1"})
	d.Submit("chat:b", InboundMessage{Content: "b1"})
	d.FlushAll()

	if got := c.snapshot(); len(got) != 2 {
		t.Errorf("FlushAll should flush all pending conversations, got %d", len(got))
	}
}
