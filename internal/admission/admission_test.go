package admission

import (
	"testing"
	"time"

	"github.com/inletworks/inlet/internal/bus"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newSuppressor returns a suppressor whose grace window is already past at
// baseTime.
func newSuppressor(opts Options) *Suppressor {
	return NewSuppressorAt(opts, baseTime.Add(-time.Minute))
}

func inbound(id, content string) bus.InboundMessage {
	return bus.InboundMessage{
		ID:              id,
		Channel:         "telegram",
		SenderID:        "42",
		ChatID:          "100",
		Content:         content,
		ReceivedAt:      baseTime,
		OriginTimestamp: baseTime,
	}
}

func TestStartupGraceRejectsEverything(t *testing.T) {
	s := NewSuppressorAt(Options{StartupGrace: 5 * time.Second}, baseTime)

	if v := s.ClassifyAt(inbound("m1", "hello"), baseTime.Add(2*time.Second)); v != VerdictStartupGrace {
		t.Errorf("within grace: got %q", v)
	}
	if v := s.ClassifyAt(inbound("m1", "hello"), baseTime.Add(6*time.Second)); v != VerdictAdmit {
		t.Errorf("after grace: got %q", v)
	}
}

func TestDuplicateDelivery(t *testing.T) {
	s := newSuppressor(Options{IDTTL: 45 * time.Second})

	if v := s.ClassifyAt(inbound("m1", "hello"), baseTime); v != VerdictAdmit {
		t.Fatalf("first delivery: got %q", v)
	}
	// Same id via a second transport path within the TTL.
	if v := s.ClassifyAt(inbound("m1", "hello"), baseTime.Add(10*time.Second)); v != VerdictDuplicateDelivery {
		t.Errorf("second delivery: got %q", v)
	}
	// Different id passes the identifier check.
	if v := s.ClassifyAt(inbound("m2", "other"), baseTime.Add(11*time.Second)); v != VerdictAdmit {
		t.Errorf("fresh id: got %q", v)
	}
}

func TestDuplicateContentSurvivesIDChange(t *testing.T) {
	s := newSuppressor(Options{ContentTTL: 20 * time.Second})
	const conv = "chat:telegram:direct:42"

	if v := s.ClassifyResolvedAt(inbound("m1", "Hello   World"), conv, baseTime); v != VerdictAdmit {
		t.Fatalf("first content: got %q", v)
	}
	// Redelivery with a new id but equivalent text (case, whitespace).
	if v := s.ClassifyResolvedAt(inbound("m2", "hello world"), conv, baseTime.Add(5*time.Second)); v != VerdictDuplicateContent {
		t.Errorf("same normalized content: got %q", v)
	}
	// Other conversations are unaffected.
	if v := s.ClassifyResolvedAt(inbound("m3", "hello world"), "chat:telegram:direct:99", baseTime.Add(6*time.Second)); v != VerdictAdmit {
		t.Errorf("other conversation: got %q", v)
	}
}

func TestSelfEchoGlobalConsumeOnce(t *testing.T) {
	s := newSuppressor(Options{})
	const conv = "chat:telegram:direct:42"

	s.RecordOutboundAt(conv, "Sure, done!", baseTime)

	if v := s.ClassifyAt(inbound("e1", "sure,  done!"), baseTime.Add(time.Second)); v != VerdictSelfEcho {
		t.Fatalf("echo: got %q", v)
	}
	// The entry was consumed: an identical later inbound is not an echo
	// unless a new outbound was recorded.
	if v := s.ClassifyAt(inbound("e2", "sure, done!"), baseTime.Add(2*time.Second)); v != VerdictAdmit {
		t.Errorf("after consume: got %q", v)
	}

	s.RecordOutboundAt(conv, "sure, done!", baseTime.Add(3*time.Second))
	if v := s.ClassifyAt(inbound("e3", "sure, done!"), baseTime.Add(4*time.Second)); v != VerdictSelfEcho {
		t.Errorf("re-recorded: got %q", v)
	}
}

func TestSelfEchoSharedEntryAcrossPasses(t *testing.T) {
	s := newSuppressor(Options{})
	const conv = "chat:telegram:direct:42"

	s.RecordOutboundAt(conv, "reply text", baseTime)

	// The conversation-scoped pass can consume the entry directly.
	if v := s.ClassifyResolvedAt(inbound("e1", "reply  TEXT"), conv, baseTime.Add(time.Second)); v != VerdictSelfEcho {
		t.Fatalf("conversation pass: got %q", v)
	}
	// Both indexes point at the same entry, so the global side is gone too.
	if s.outbound.consumeGlobal("reply text", baseTime.Add(2*time.Second)) {
		t.Error("global entry should have been retired with the conversation entry")
	}
}

func TestSelfEchoConsumedAcrossPipeline(t *testing.T) {
	s := newSuppressor(Options{})
	const conv = "chat:telegram:direct:42"

	s.RecordOutboundAt(conv, "sure, done!", baseTime)

	// First echo is caught by the pre-resolution global pass.
	if v := s.ClassifyAt(inbound("e1", "Sure,  done!"), baseTime.Add(time.Second)); v != VerdictSelfEcho {
		t.Fatalf("first inbound: got %q", v)
	}

	// A second identical inbound runs both passes like the consumer loop
	// does. The single outbound entry was already consumed, so it admits.
	second := inbound("e2", "sure, done!")
	if v := s.ClassifyAt(second, baseTime.Add(2*time.Second)); v != VerdictAdmit {
		t.Fatalf("second inbound pre-resolution: got %q", v)
	}
	if v := s.ClassifyResolvedAt(second, conv, baseTime.Add(2*time.Second)); v != VerdictAdmit {
		t.Errorf("second inbound post-resolution: got %q", v)
	}
}

func TestSelfEchoExpires(t *testing.T) {
	s := newSuppressor(Options{OutboundTTL: time.Minute})
	const conv = "chat:telegram:direct:42"

	s.RecordOutboundAt(conv, "old reply", baseTime)
	if v := s.ClassifyAt(inbound("e1", "old reply"), baseTime.Add(2*time.Minute)); v != VerdictAdmit {
		t.Errorf("expired fingerprint should not match: got %q", v)
	}
}

func TestStaleBacklogTiers(t *testing.T) {
	s := newSuppressor(Options{
		StaleBeforeResolve: time.Minute,
		StaleAfterResolve:  10 * time.Minute,
	})

	old := inbound("m1", "backlog")
	old.OriginTimestamp = baseTime.Add(-5 * time.Minute)

	// 5 minutes old: over the pre-resolution ceiling, under the post one.
	if v := s.ClassifyAt(old, baseTime); v != VerdictStaleBacklog {
		t.Errorf("pre-resolution: got %q", v)
	}
	if v := s.ClassifyResolvedAt(old, "chat:telegram:direct:42", baseTime); v != VerdictAdmit {
		t.Errorf("post-resolution under ceiling: got %q", v)
	}

	ancient := inbound("m2", "backlog")
	ancient.OriginTimestamp = baseTime.Add(-time.Hour)
	if v := s.ClassifyResolvedAt(ancient, "chat:telegram:direct:42", baseTime); v != VerdictStaleBacklog {
		t.Errorf("post-resolution over ceiling: got %q", v)
	}

	// No origin timestamp: staleness cannot apply.
	noOrigin := inbound("m3", "live")
	noOrigin.OriginTimestamp = time.Time{}
	if v := s.ClassifyAt(noOrigin, baseTime); v != VerdictAdmit {
		t.Errorf("zero origin: got %q", v)
	}
}

func TestClassifierOrder(t *testing.T) {
	// A message that is simultaneously stale and a duplicate must be reported
	// as stale: the staleness check runs before the caches and nothing is
	// recorded for dropped messages.
	s := newSuppressor(Options{StaleBeforeResolve: time.Minute})

	msg := inbound("m1", "text")
	msg.OriginTimestamp = baseTime.Add(-2 * time.Minute)

	if v := s.ClassifyAt(msg, baseTime); v != VerdictStaleBacklog {
		t.Fatalf("got %q", v)
	}
	// The id was never recorded, so a fresh (non-stale) retry admits.
	fresh := inbound("m1", "text")
	if v := s.ClassifyAt(fresh, baseTime); v != VerdictAdmit {
		t.Errorf("retry after stale drop: got %q", v)
	}
}

func TestEmptyContentNeverEchoes(t *testing.T) {
	s := newSuppressor(Options{})
	s.RecordOutboundAt("chat:telegram:direct:42", "   ", baseTime)

	msg := inbound("m1", "")
	if v := s.ClassifyAt(msg, baseTime); v != VerdictAdmit {
		t.Errorf("empty content: got %q", v)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello world"},
		{"  Hello\n\tWorld  ", "hello world"},
		{"UPPER", "upper"},
		{"", ""},
		{" \n ", ""},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
