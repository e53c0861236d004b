package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	envInt("INLET_REQUESTS_PER_MINUTE", &c.Limits.RequestsPerMinute)
	envInt("INLET_INPUT_TOKENS_PER_MINUTE", &c.Limits.InputTokensPerMinute)
	envInt("INLET_OUTPUT_TOKENS_PER_MINUTE", &c.Limits.OutputTokensPerMinute)
	envInt("INLET_MAX_CONCURRENT", &c.Limits.MaxConcurrent)
	envInt("INLET_MAX_RETRIES", &c.Limits.MaxRetries)
	envStr("INLET_RETRY_BASE_DELAY", &c.Limits.RetryBaseDelay)
	envInt("INLET_INBOUND_DEBOUNCE_MS", &c.Gateway.InboundDebounceMs)
	envInt("INLET_STARTUP_GRACE_MS", &c.Gateway.StartupGraceMs)
	envStr("INLET_PROVIDER_API_BASE", &c.Provider.APIBase)
	envStr("INLET_PROVIDER_MODEL", &c.Provider.Model)
	envStr("INLET_PROVIDER_API_KEY", &c.Provider.APIKey)
	envBool("INLET_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("INLET_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
}
