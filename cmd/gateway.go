package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inletworks/inlet/internal/admission"
	"github.com/inletworks/inlet/internal/bus"
	"github.com/inletworks/inlet/internal/config"
	"github.com/inletworks/inlet/internal/providers"
	"github.com/inletworks/inlet/internal/ratelimit"
	"github.com/inletworks/inlet/internal/scheduler"
	"github.com/inletworks/inlet/internal/tracing"
	"github.com/inletworks/inlet/internal/typing"
)

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Provider.APIKey == "" {
		fmt.Println("No provider API key found. Set it and restart:")
		fmt.Println()
		fmt.Println("  export INLET_PROVIDER_API_KEY=sk-... && ./inlet")
		fmt.Println()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Core components
	msgBus := bus.New()
	defer msgBus.Close()

	window := ratelimit.NewWindow(ratelimit.Limits{
		RequestsPerMinute:     cfg.Limits.RequestsPerMinute,
		InputTokensPerMinute:  cfg.Limits.InputTokensPerMinute,
		OutputTokensPerMinute: cfg.Limits.OutputTokensPerMinute,
	})
	responses := ratelimit.NewResponseLimiter(cfg.Limits.ResponseWindowDuration(), cfg.Limits.ResponsesPerWindow)

	// Activity transitions become bus events so channel transports can drive
	// platform typing indicators.
	notifier := typing.NewNotifier()
	notifier.Subscribe(func(conversationKey string, active bool) {
		name := bus.EventActivityStopped
		if active {
			name = bus.EventActivityStarted
		}
		msgBus.Broadcast(bus.Event{Name: name, Payload: conversationKey})
	})

	sched := scheduler.New(scheduler.Options{
		MaxConcurrent: cfg.Limits.MaxConcurrent,
		MaxRetries:    cfg.Limits.MaxRetries,
		BaseBackoff:   cfg.Limits.RetryBaseDelayDuration(),
		Window:        window,
		Signaler:      notifier,
	})
	defer sched.Close()

	suppressor := admission.NewSuppressor(admission.Options{
		IDTTL:              config.Duration(cfg.Dedupe.IDTTL, 45*time.Second),
		ContentTTL:         config.Duration(cfg.Dedupe.ContentTTL, 20*time.Second),
		OutboundTTL:        config.Duration(cfg.Dedupe.OutboundTTL, 5*time.Minute),
		StaleBeforeResolve: config.Duration(cfg.Dedupe.StaleBeforeResolve, 2*time.Minute),
		StaleAfterResolve:  config.Duration(cfg.Dedupe.StaleAfterResolve, 10*time.Minute),
		StartupGrace:       time.Duration(cfg.Gateway.StartupGraceMs) * time.Millisecond,
		MaxEntries:         cfg.Dedupe.MaxEntries,
	})

	client := providers.NewChatClient("provider", cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)

	slog.Info("inlet gateway starting",
		"version", Version,
		"model", client.Model(),
		"max_concurrent", cfg.Limits.MaxConcurrent,
		"requests_per_minute", cfg.Limits.RequestsPerMinute,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		consumeInboundMessages(gctx, consumerDeps{
			Bus:        msgBus,
			Suppressor: suppressor,
			Scheduler:  sched,
			Responses:  responses,
			Client:     client,
			Cfg:        cfg,
		})
		return nil
	})

	// Live limiter reload: only rate/response limits are re-applied; queue
	// topology (worker count) needs a restart.
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(next *config.Config) {
			window.SetLimits(ratelimit.Limits{
				RequestsPerMinute:     next.Limits.RequestsPerMinute,
				InputTokensPerMinute:  next.Limits.InputTokensPerMinute,
				OutputTokensPerMinute: next.Limits.OutputTokensPerMinute,
			})
			responses.SetLimits(next.Limits.ResponseWindowDuration(), next.Limits.ResponsesPerWindow)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}

	slog.Info("graceful shutdown complete")
}
