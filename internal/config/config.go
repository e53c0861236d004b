package config

import (
	"log/slog"
	"time"
)

// Config is the root configuration for the Inlet gateway core.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Limits    LimitsConfig    `json:"limits"`
	Dedupe    DedupeConfig    `json:"dedupe"`
	Provider  ProviderConfig  `json:"provider,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the inbound admission pipeline.
type GatewayConfig struct {
	InboundDebounceMs int `json:"inbound_debounce_ms,omitempty"` // quiet period before a burst flushes (default 1000)
	StartupGraceMs    int `json:"startup_grace_ms,omitempty"`    // reject-all window after start (default 5000)
	MaxMessageChars   int `json:"max_message_chars,omitempty"`   // inbound text truncation (default 32000)
}

// LimitsConfig configures the outbound scheduler and rate window.
type LimitsConfig struct {
	RequestsPerMinute     int    `json:"requests_per_minute,omitempty"`
	InputTokensPerMinute  int    `json:"input_tokens_per_minute,omitempty"`
	OutputTokensPerMinute int    `json:"output_tokens_per_minute,omitempty"`
	MaxConcurrent         int    `json:"max_concurrent,omitempty"`
	MaxRetries            int    `json:"max_retries,omitempty"`
	RetryBaseDelay        string `json:"retry_base_delay,omitempty"` // Go duration (default "2s")
	ResponsesPerWindow    int    `json:"responses_per_window,omitempty"`
	ResponseWindow        string `json:"response_window,omitempty"` // Go duration (default "30s")
}

// DedupeConfig configures the duplicate/echo caches and staleness ceilings.
// Durations are Go duration strings.
type DedupeConfig struct {
	IDTTL              string `json:"id_ttl,omitempty"`               // default "45s"
	ContentTTL         string `json:"content_ttl,omitempty"`          // default "20s"
	OutboundTTL        string `json:"outbound_ttl,omitempty"`         // default "5m"
	StaleBeforeResolve string `json:"stale_before_resolve,omitempty"` // default "2m"
	StaleAfterResolve  string `json:"stale_after_resolve,omitempty"`  // default "10m"
	MaxEntries         int    `json:"max_entries,omitempty"`          // default 5000
}

// ProviderConfig configures the upstream model provider. The API key is
// never stored in the config file; it comes from INLET_PROVIDER_API_KEY.
type ProviderConfig struct {
	APIBase string `json:"api_base,omitempty"` // OpenAI-compatible base URL
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"-"`
}

// TelemetryConfig configures OpenTelemetry export for traces.
// When enabled, spans are exported to an OTLP-compatible backend
// (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS (local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "inlet-gateway")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (auth tokens)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			InboundDebounceMs: 1000,
			StartupGraceMs:    5000,
			MaxMessageChars:   32000,
		},
		Limits: LimitsConfig{
			RequestsPerMinute:     20,
			InputTokensPerMinute:  200000,
			OutputTokensPerMinute: 80000,
			MaxConcurrent:         2,
			MaxRetries:            3,
			RetryBaseDelay:        "2s",
			ResponsesPerWindow:    5,
			ResponseWindow:        "30s",
		},
		Provider: ProviderConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Dedupe: DedupeConfig{
			IDTTL:              "45s",
			ContentTTL:         "20s",
			OutboundTTL:        "5m",
			StaleBeforeResolve: "2m",
			StaleAfterResolve:  "10m",
			MaxEntries:         5000,
		},
	}
}

// Duration parses s, falling back to def on empty or invalid input.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("config: invalid duration, using default", "value", s, "default", def)
		return def
	}
	return d
}

// RetryBaseDelayDuration returns the parsed retry base delay.
func (l LimitsConfig) RetryBaseDelayDuration() time.Duration {
	return Duration(l.RetryBaseDelay, 2*time.Second)
}

// ResponseWindowDuration returns the parsed response limiter window.
func (l LimitsConfig) ResponseWindowDuration() time.Duration {
	return Duration(l.ResponseWindow, 30*time.Second)
}
