package cmd

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/inletworks/inlet/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and environment health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("inlet doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Provider:")
	fmt.Printf("    %-22s %s\n", "API base:", cfg.Provider.APIBase)
	fmt.Printf("    %-22s %s\n", "Model:", cfg.Provider.Model)
	if cfg.Provider.APIKey == "" {
		fmt.Printf("    %-22s MISSING (set INLET_PROVIDER_API_KEY)\n", "API key:")
	} else {
		fmt.Printf("    %-22s set\n", "API key:")
	}

	fmt.Println()
	fmt.Println("  Admission:")
	fmt.Printf("    %-22s %dms\n", "Inbound debounce:", cfg.Gateway.InboundDebounceMs)
	fmt.Printf("    %-22s %dms\n", "Startup grace:", cfg.Gateway.StartupGraceMs)
	fmt.Printf("    %-22s %d\n", "Max message chars:", cfg.Gateway.MaxMessageChars)
	fmt.Printf("    %-22s %s\n", "ID dedupe TTL:", config.Duration(cfg.Dedupe.IDTTL, 45*time.Second))
	fmt.Printf("    %-22s %s\n", "Content dedupe TTL:", config.Duration(cfg.Dedupe.ContentTTL, 20*time.Second))
	fmt.Printf("    %-22s %s\n", "Echo fingerprint TTL:", config.Duration(cfg.Dedupe.OutboundTTL, 5*time.Minute))

	fmt.Println()
	fmt.Println("  Limits:")
	fmt.Printf("    %-22s %d\n", "Requests/min:", cfg.Limits.RequestsPerMinute)
	fmt.Printf("    %-22s %d\n", "Input tokens/min:", cfg.Limits.InputTokensPerMinute)
	fmt.Printf("    %-22s %d\n", "Output tokens/min:", cfg.Limits.OutputTokensPerMinute)
	fmt.Printf("    %-22s %d\n", "Concurrent calls:", cfg.Limits.MaxConcurrent)
	fmt.Printf("    %-22s %d (base delay %s)\n", "Retries:", cfg.Limits.MaxRetries, cfg.Limits.RetryBaseDelayDuration())
	fmt.Printf("    %-22s %d per %s per conversation\n", "Responses:", cfg.Limits.ResponsesPerWindow, cfg.Limits.ResponseWindowDuration())

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-22s %s (%s)\n", "OTLP endpoint:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-22s disabled\n", "OTLP export:")
	}
}
