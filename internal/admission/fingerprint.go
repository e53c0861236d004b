package admission

import (
	"strings"
	"sync"
	"time"
)

// normalizeText collapses whitespace and case-folds, so trivially reformatted
// redeliveries and echoes compare equal.
func normalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

type fingerprint struct {
	text       string
	recordedAt time.Time
	consumed   bool
}

// fingerprintStore holds the normalized text of recently sent messages,
// indexed both globally and per conversation. One outbound message is one
// entry, shared by both indexes: the first inbound hit through either index
// marks it consumed, so one outbound message cannot suppress two future
// inbound echoes regardless of which pass matches first. Consumed and stale
// entries are evicted lazily on access.
type fingerprintStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	global  []*fingerprint
	perConv map[string][]*fingerprint
}

func newFingerprintStore(ttl time.Duration) *fingerprintStore {
	return &fingerprintStore{
		ttl:     ttl,
		perConv: make(map[string][]*fingerprint),
	}
}

func (f *fingerprintStore) record(conversationKey, norm string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry := &fingerprint{text: norm, recordedAt: now}
	f.global = append(trimFingerprints(f.global, now, f.ttl), entry)
	if conversationKey != "" {
		f.perConv[conversationKey] = append(trimFingerprints(f.perConv[conversationKey], now, f.ttl), entry)
	}
}

// consumeGlobal reports whether norm matches any live global fingerprint,
// retiring the matched entry from both indexes.
func (f *fingerprintStore) consumeGlobal(norm string, now time.Time) bool {
	if norm == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.global = trimFingerprints(f.global, now, f.ttl)
	for i, fp := range f.global {
		if fp.text == norm {
			fp.consumed = true
			f.global = append(f.global[:i], f.global[i+1:]...)
			return true
		}
	}
	return false
}

// consumeConversation is consumeGlobal scoped to one conversation.
func (f *fingerprintStore) consumeConversation(conversationKey, norm string, now time.Time) bool {
	if norm == "" || conversationKey == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries := trimFingerprints(f.perConv[conversationKey], now, f.ttl)
	for i, fp := range entries {
		if fp.text == norm {
			fp.consumed = true
			entries = append(entries[:i], entries[i+1:]...)
			f.storeConv(conversationKey, entries)
			return true
		}
	}
	f.storeConv(conversationKey, entries)
	return false
}

func (f *fingerprintStore) storeConv(key string, entries []*fingerprint) {
	if len(entries) == 0 {
		delete(f.perConv, key)
		return
	}
	f.perConv[key] = entries
}

func trimFingerprints(entries []*fingerprint, now time.Time, ttl time.Duration) []*fingerprint {
	if len(entries) == 0 {
		return entries
	}
	kept := entries[:0]
	for _, fp := range entries {
		if !fp.consumed && now.Sub(fp.recordedAt) < ttl {
			kept = append(kept, fp)
		}
	}
	return kept
}
