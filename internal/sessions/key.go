// Package sessions builds and parses conversation keys.
//
// Conversation keys identify one logical chat across the admission pipeline,
// the response limiter, and activity signaling:
//
//	DM:    chat:{channel}:direct:{peerId}
//	Group: chat:{channel}:group:{groupId}
//
// Examples:
//
//	chat:telegram:direct:386246614
//	chat:discord:group:99887766
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildConversationKey builds the canonical key for a channel conversation.
func BuildConversationKey(channel string, kind PeerKind, chatID string) string {
	if kind == "" {
		kind = PeerDirect
	}
	return fmt.Sprintf("chat:%s:%s:%s", channel, kind, chatID)
}

// ParseConversationKey extracts channel, kind and chat id from a canonical
// key. Returns ok=false if the key is not in the expected format.
func ParseConversationKey(key string) (channel string, kind PeerKind, chatID string, ok bool) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != "chat" {
		return "", "", "", false
	}
	k := PeerKind(parts[2])
	if k != PeerDirect && k != PeerGroup {
		return "", "", "", false
	}
	return parts[1], k, parts[3], true
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
