package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/inletworks/inlet/internal/admission"
	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/config"
	"github.com/inletworks/inlet/internal/providers"
	"github.com/inletworks/inlet/internal/ratelimit"
	"github.com/inletworks/inlet/internal/scheduler"
	"github.com/inletworks/inlet/internal/sessions"
	"github.com/inletworks/inlet/internal/tracing"
)

// estOutputTokens is the reservation placeholder for a response; the permit
// is corrected to actual usage on completion.
const estOutputTokens = 1024

type consumerDeps struct {
	Bus        *bus.MessageBus
	Suppressor *admission.Suppressor
	Scheduler  *scheduler.Scheduler
	Responses  *ratelimit.ResponseLimiter
	Client     *providers.ChatClient
	Cfg        *config.Config
}

// consumeInboundMessages reads inbound messages from channel transports,
// runs them through the admission pipeline (dedupe, echo suppression,
// staleness, debounce), schedules provider calls, and publishes admitted
// responses back to the bus.
func consumeInboundMessages(ctx context.Context, deps consumerDeps) {
	slog.Info("inbound message consumer started")

	// processMessage handles one (possibly merged) inbound message. Called
	// by the debouncer's flush callback once a burst goes quiet.
	processMessage := func(msg bus.InboundMessage) {
		peerKind := sessions.PeerKind(msg.PeerKind)
		if peerKind == "" {
			peerKind = sessions.PeerDirect
		}
		conversationKey := sessions.BuildConversationKey(msg.Channel, peerKind, msg.ChatID)

		priority := scheduler.PriorityInteractive
		if peerKind == sessions.PeerGroup {
			priority = scheduler.PriorityBackground
		}

		runID := fmt.Sprintf("inbound-%s-%s-%s", msg.Channel, msg.ChatID, uuid.NewString()[:8])

		slog.Info("inbound: scheduling message",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"peer_kind", peerKind,
			"conversation", conversationKey,
			"run_id", runID,
		)

		client := deps.Client
		content := msg.Content
		outCh := deps.Scheduler.Submit(ctx, scheduler.Request{
			ConversationKey: conversationKey,
			Priority:        priority,
			EstInputTokens:  estimateTokens(content),
			EstOutputTokens: estOutputTokens,
			Task: func(taskCtx context.Context) (*scheduler.Result, error) {
				taskCtx, span := tracing.Tracer().Start(taskCtx, "provider.chat")
				span.SetAttributes(
					attribute.String("conversation.key", conversationKey),
					attribute.String("provider.model", client.Model()),
				)
				defer span.End()

				resp, err := client.Chat(taskCtx, []providers.ChatMessage{
					{Role: "user", Content: content},
				})
				if err != nil {
					span.SetStatus(codes.Error, err.Error())
					return nil, err
				}
				span.SetAttributes(
					attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
					attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
				)
				return &scheduler.Result{Content: resp.Content, Usage: resp.Usage}, nil
			},
		})

		// Handle the outcome asynchronously to not block the flush callback.
		go func(channel, chatID, convKey, rID string) {
			outcome := <-outCh

			if outcome.Err != nil {
				if errors.Is(outcome.Err, context.Canceled) || errors.Is(outcome.Err, scheduler.ErrClosed) {
					slog.Info("inbound: run abandoned", "conversation", convKey, "run_id", rID)
					return
				}
				slog.Error("inbound: provider call failed",
					"error", outcome.Err, "conversation", convKey, "run_id", rID)
				deps.Bus.PublishOutbound(bus.OutboundMessage{
					Channel: channel,
					ChatID:  chatID,
					Content: "The request could not be completed. Please try again later.",
				})
				return
			}

			if outcome.Result.Content == "" {
				slog.Info("inbound: suppressed empty reply", "conversation", convKey, "run_id", rID)
				return
			}

			// Per-conversation response cap: a refusal here means the
			// conversation is looping or being flooded, drop the response.
			if !deps.Responses.Allow(convKey) {
				slog.Warn("inbound: response suppressed",
					"error", ratelimit.ErrResponseLimited, "conversation", convKey, "run_id", rID)
				return
			}

			// Record the fingerprint before publishing so the transport echo
			// cannot race ahead of it.
			deps.Suppressor.RecordOutbound(convKey, outcome.Result.Content)
			deps.Bus.PublishOutbound(bus.OutboundMessage{
				Channel: channel,
				ChatID:  chatID,
				Content: outcome.Result.Content,
			})
		}(msg.Channel, msg.ChatID, conversationKey, runID)
	}

	// Inbound debounce: merge rapid messages from the same conversation into
	// one provider call.
	debounceMs := deps.Cfg.Gateway.InboundDebounceMs
	if debounceMs == 0 {
		debounceMs = 1000
	}
	debouncer := bus.NewInboundDebouncer(
		time.Duration(debounceMs)*time.Millisecond,
		processMessage,
	)
	defer debouncer.Stop()

	slog.Info("inbound debounce configured", "debounce_ms", debounceMs)

	maxChars := deps.Cfg.Gateway.MaxMessageChars
	for {
		msg, ok := deps.Bus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		if maxChars > 0 && len(msg.Content) > maxChars {
			msg.Content = truncateUTF8(msg.Content, maxChars)
		}

		// Pre-resolution admission: delivery dedupe, self-echo, staleness,
		// startup grace. Verdict logging happens inside the suppressor.
		if deps.Suppressor.Classify(msg).Rejected() {
			continue
		}

		peerKind := sessions.PeerKind(msg.PeerKind)
		if peerKind == "" {
			peerKind = sessions.PeerDirect
		}
		conversationKey := sessions.BuildConversationKey(msg.Channel, peerKind, msg.ChatID)

		// Post-resolution admission: per-conversation content dedupe, the
		// conversation-scoped echo pass, and the longer staleness ceiling.
		if deps.Suppressor.ClassifyResolved(msg, conversationKey).Rejected() {
			continue
		}

		debouncer.Submit(conversationKey, msg)
	}
}

// estimateTokens approximates prompt size for rate window reservation.
// Roughly 4 chars per token for English text, plus fixed prompt overhead.
func estimateTokens(content string) int {
	return len(content)/4 + 64
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
