package bus

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives the single merged message produced by a debounce flush.
type FlushFunc func(msg InboundMessage)

type pendingBuffer struct {
	messages []InboundMessage
	timer    *time.Timer
}

// InboundDebouncer merges rapid-fire inbound messages from the same
// conversation into one unit before processing. Each arrival restarts the
// conversation's quiet timer; when the timer fires, the buffered texts are
// joined with newlines in arrival order and handed to the flush callback as
// a single message carrying the last arrival's metadata.
//
// A flush detaches the buffer under the lock, so a submission racing with
// the flush starts a fresh buffer instead of being lost. Safe for
// concurrent use; flushes for different conversations are independent.
type InboundDebouncer struct {
	mu       sync.Mutex
	pending  map[string]*pendingBuffer // conversation key → buffer
	interval time.Duration
	onFlush  FlushFunc
	stopped  bool
}

// NewInboundDebouncer creates a debouncer with the given quiet interval.
func NewInboundDebouncer(interval time.Duration, onFlush FlushFunc) *InboundDebouncer {
	return &InboundDebouncer{
		pending:  make(map[string]*pendingBuffer),
		interval: interval,
		onFlush:  onFlush,
	}
}

// Submit buffers a message under key and restarts the quiet timer for that
// conversation. With a non-positive interval the message passes through
// immediately.
func (d *InboundDebouncer) Submit(key string, msg InboundMessage) {
	if d.interval <= 0 {
		d.onFlush(msg)
		return
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	buf, ok := d.pending[key]
	if !ok {
		buf = &pendingBuffer{}
		d.pending[key] = buf
	}
	buf.messages = append(buf.messages, msg)

	// One active timer per conversation: each arrival restarts it.
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(d.interval, func() {
		d.flush(key)
	})
	count := len(buf.messages)
	d.mu.Unlock()

	if count > 1 {
		slog.Debug("debounce: buffered message", "key", key, "pending", count)
	}
}

// flush detaches the buffer for key and delivers the merged message.
func (d *InboundDebouncer) flush(key string) {
	d.mu.Lock()
	buf, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if !ok || len(buf.messages) == 0 {
		return
	}

	merged := mergeMessages(buf.messages)
	if len(buf.messages) > 1 {
		slog.Debug("debounce: merged burst", "key", key, "count", len(buf.messages))
	}
	d.onFlush(merged)
}

// FlushAll immediately flushes every pending conversation (shutdown path).
func (d *InboundDebouncer) FlushAll() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for k, buf := range d.pending {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		keys = append(keys, k)
	}
	d.mu.Unlock()

	for _, k := range keys {
		d.flush(k)
	}
}

// Stop cancels all pending timers and discards buffered messages.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, buf := range d.pending {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		delete(d.pending, k)
	}
}

// mergeMessages joins the buffered texts newline-separated in arrival order.
// Identity and metadata come from the last arrival, which reflects the most
// recent delivery state.
func mergeMessages(msgs []InboundMessage) InboundMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}

	merged := msgs[len(msgs)-1]
	merged.Content = strings.Join(parts, "\n")
	return merged
}
