// Package admission decides whether an inbound message becomes work.
//
// Every message passes an ordered chain of checks before any business logic
// runs: startup grace, origin staleness, identifier dedupe, normalized
// content dedupe, and self-echo fingerprint matching. The first rejecting
// check wins. Classification never fails: bad input resolves to a drop
// verdict, logged at debug level.
package admission

import (
	"log/slog"
	"time"

	"github.com/inletworks/inlet/internal/bus"
)

// Verdict classifies one inbound message.
type Verdict string

const (
	VerdictAdmit             Verdict = "admit"
	VerdictDuplicateDelivery Verdict = "duplicate_delivery" // same delivery id seen recently
	VerdictDuplicateContent  Verdict = "duplicate_content"  // same normalized text in the conversation
	VerdictSelfEcho          Verdict = "self_echo"          // copy of our own outbound message
	VerdictStaleBacklog      Verdict = "stale_backlog"      // origin timestamp older than the ceiling
	VerdictStartupGrace      Verdict = "startup_grace"      // process just started, replay protection
)

// Rejected reports whether the verdict drops the message.
func (v Verdict) Rejected() bool { return v != VerdictAdmit }

// Options configures the suppressor. Zero values pick the defaults.
type Options struct {
	IDTTL              time.Duration // identifier dedupe window (default 45s)
	ContentTTL         time.Duration // per-conversation content dedupe window (default 20s)
	OutboundTTL        time.Duration // echo fingerprint lifetime (default 5m)
	StaleBeforeResolve time.Duration // origin-age ceiling before conversation resolution (default 2m)
	StaleAfterResolve  time.Duration // origin-age ceiling after resolution (default 10m)
	StartupGrace       time.Duration // reject-all window after process start (default 5s)
	MaxEntries         int           // cap per dedupe cache (default 5000)
}

func (o Options) withDefaults() Options {
	if o.IDTTL <= 0 {
		o.IDTTL = 45 * time.Second
	}
	if o.ContentTTL <= 0 {
		o.ContentTTL = 20 * time.Second
	}
	if o.OutboundTTL <= 0 {
		o.OutboundTTL = 5 * time.Minute
	}
	if o.StaleBeforeResolve <= 0 {
		o.StaleBeforeResolve = 2 * time.Minute
	}
	if o.StaleAfterResolve <= 0 {
		o.StaleAfterResolve = 10 * time.Minute
	}
	if o.StartupGrace < 0 {
		o.StartupGrace = 0
	} else if o.StartupGrace == 0 {
		o.StartupGrace = 5 * time.Second
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 5000
	}
	return o
}

// Suppressor is the multi-layer duplicate and echo filter.
// Safe for concurrent use.
type Suppressor struct {
	opts      Options
	startedAt time.Time

	idCache      *bus.DedupeCache // delivery id → seen
	contentCache *bus.DedupeCache // conversation|normalized text → seen
	outbound     *fingerprintStore
}

// NewSuppressor creates a suppressor; the startup grace window begins now.
func NewSuppressor(opts Options) *Suppressor {
	return NewSuppressorAt(opts, time.Now())
}

// NewSuppressorAt is NewSuppressor with an explicit start instant, for tests.
func NewSuppressorAt(opts Options, startedAt time.Time) *Suppressor {
	opts = opts.withDefaults()
	return &Suppressor{
		opts:         opts,
		startedAt:    startedAt,
		idCache:      bus.NewDedupeCache(opts.IDTTL, opts.MaxEntries),
		contentCache: bus.NewDedupeCache(opts.ContentTTL, opts.MaxEntries),
		outbound:     newFingerprintStore(opts.OutboundTTL),
	}
}

// Classify runs the pre-resolution checks: startup grace, the short
// staleness ceiling, identifier dedupe, and the global outbound fingerprint
// match. The conversation is not yet known at this point.
func (s *Suppressor) Classify(msg bus.InboundMessage) Verdict {
	return s.ClassifyAt(msg, time.Now())
}

// ClassifyAt is Classify with an explicit clock, for tests.
func (s *Suppressor) ClassifyAt(msg bus.InboundMessage, now time.Time) Verdict {
	if now.Sub(s.startedAt) < s.opts.StartupGrace {
		slog.Debug("admission: startup grace, dropping", "id", msg.ID, "channel", msg.Channel)
		return VerdictStartupGrace
	}

	if v := s.checkStale(msg, now, s.opts.StaleBeforeResolve); v.Rejected() {
		return v
	}

	if msg.ID != "" {
		key := msg.Channel + "|" + msg.SenderID + "|" + msg.ChatID + "|" + msg.ID
		if s.idCache.IsDuplicateAt(key, now) {
			slog.Debug("admission: duplicate delivery", "id", msg.ID, "channel", msg.Channel)
			return VerdictDuplicateDelivery
		}
	}

	// Origin not resolved yet: a fingerprint match in any conversation is an
	// echo of our own output.
	if s.outbound.consumeGlobal(normalizeText(msg.Content), now) {
		slog.Debug("admission: self echo (global fingerprint)",
			"id", msg.ID, "channel", msg.Channel, "self_originated", msg.SelfOriginated)
		return VerdictSelfEcho
	}

	return VerdictAdmit
}

// ClassifyResolved runs the post-resolution checks once the conversation key
// is known: the longer staleness ceiling, per-conversation content dedupe,
// and the conversation-scoped outbound fingerprint match (second pass for
// normalization edge cases the global check missed).
func (s *Suppressor) ClassifyResolved(msg bus.InboundMessage, conversationKey string) Verdict {
	return s.ClassifyResolvedAt(msg, conversationKey, time.Now())
}

// ClassifyResolvedAt is ClassifyResolved with an explicit clock, for tests.
func (s *Suppressor) ClassifyResolvedAt(msg bus.InboundMessage, conversationKey string, now time.Time) Verdict {
	if v := s.checkStale(msg, now, s.opts.StaleAfterResolve); v.Rejected() {
		return v
	}

	norm := normalizeText(msg.Content)
	if norm != "" {
		if s.contentCache.IsDuplicateAt(conversationKey+"|"+norm, now) {
			slog.Debug("admission: duplicate content", "conversation", conversationKey, "id", msg.ID)
			return VerdictDuplicateContent
		}
	}

	if s.outbound.consumeConversation(conversationKey, norm, now) {
		slog.Debug("admission: self echo (conversation fingerprint)",
			"conversation", conversationKey, "id", msg.ID)
		return VerdictSelfEcho
	}

	return VerdictAdmit
}

// RecordOutbound fingerprints a message the system is about to send, so the
// transport echoing it back is recognized. Call on every outbound delivery.
func (s *Suppressor) RecordOutbound(conversationKey, text string) {
	s.RecordOutboundAt(conversationKey, text, time.Now())
}

// RecordOutboundAt is RecordOutbound with an explicit clock, for tests.
func (s *Suppressor) RecordOutboundAt(conversationKey, text string, now time.Time) {
	norm := normalizeText(text)
	if norm == "" {
		return
	}
	s.outbound.record(conversationKey, norm, now)
}

func (s *Suppressor) checkStale(msg bus.InboundMessage, now time.Time, ceiling time.Duration) Verdict {
	if msg.OriginTimestamp.IsZero() {
		return VerdictAdmit
	}
	if age := now.Sub(msg.OriginTimestamp); age > ceiling {
		slog.Debug("admission: stale backlog, dropping",
			"id", msg.ID, "channel", msg.Channel, "age", age, "ceiling", ceiling)
		return VerdictStaleBacklog
	}
	return VerdictAdmit
}
