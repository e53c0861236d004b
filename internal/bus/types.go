package bus

import (
	"context"
	"time"
)

// InboundMessage represents one delivery from a channel transport
// (Telegram, Discord, webhook bridge, etc.).
type InboundMessage struct {
	ID              string            `json:"id"`                         // delivery-unique; may repeat across transport paths
	Channel         string            `json:"channel"`
	SenderID        string            `json:"sender_id"`
	ChatID          string            `json:"chat_id"`
	Content         string            `json:"content"`
	SelfOriginated  bool              `json:"self_originated,omitempty"`  // sent from our own account
	ReceivedAt      time.Time         `json:"received_at"`                // wall clock at the transport boundary
	OriginTimestamp time.Time         `json:"origin_timestamp,omitempty"` // timestamp claimed by the source system
	PeerKind        string            `json:"peer_kind,omitempty"`        // "direct" or "group"
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event represents a gateway-side event broadcast to subscribers
// (activity indicators, run lifecycle).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event names.
const (
	EventActivityStarted = "activity.started"
	EventActivityStopped = "activity.stopped"
)

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound/outbound message routing between channel
// transports and the admission/scheduling core.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
