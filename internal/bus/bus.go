package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 256

// MessageBus routes inbound and outbound messages between channel transports
// and the admission/scheduling core, and fans out gateway events to
// subscribers. Safe for concurrent use.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a MessageBus with default buffer sizes.
func New() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, defaultBufferSize),
		outbound:    make(chan OutboundMessage, defaultBufferSize),
		subscribers: make(map[string]EventHandler),
		done:        make(chan struct{}),
	}
}

// PublishInbound delivers a message from a channel transport to the core.
// Blocks if the buffer is full; returns once the bus is closed.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	case <-b.done:
	}
}

// ConsumeInbound blocks until an inbound message is available.
// Returns false when the context is cancelled or the bus is closed.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-b.done:
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound delivers a response message toward a channel transport.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	case <-b.done:
	}
}

// SubscribeOutbound blocks until an outbound message is available.
// Returns false when the context is cancelled or the bus is closed.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-b.done:
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// Subscribe registers an event handler under the given id, replacing any
// previous handler with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to all subscribers synchronously.
// Handlers must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Close shuts the bus down. Idempotent; pending publishers unblock.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

var (
	_ MessageRouter  = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)
