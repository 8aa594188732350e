package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leolilley/ryeos/internal/config"
	"github.com/leolilley/ryeos/internal/observability"
	"github.com/leolilley/ryeos/internal/space"
)

// userSpace resolves {USER_SPACE} per spec.md §6's environment variable
// table: USER_SPACE overrides the default $HOME base.
func userSpace() (string, error) {
	if v := os.Getenv("USER_SPACE"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("rye: resolve user space: %w", err)
	}
	return home, nil
}

// newLogger builds the component logger used by every subcommand,
// verbose when RYE_DEBUG=1 per spec.md §6.
func newLogger(component string) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("RYE_DEBUG") == "1" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("component", component)
}

// tiersFor builds the standard project -> user -> system tier list for
// itemType from the command's persistent flags and environment.
func tiersFor(cmd *cobra.Command, itemType string) ([]space.Tier, error) {
	projectPath, err := cmd.Flags().GetString("project-path")
	if err != nil {
		return nil, err
	}
	bundles, err := cmd.Flags().GetStringSlice("system-bundle")
	if err != nil {
		return nil, err
	}
	us, err := userSpace()
	if err != nil {
		return nil, err
	}
	return space.DefaultTiers(itemType, projectPath, us, bundles), nil
}

// loadConfig reads the --config flag (a YAML or JSON5 settings document,
// empty path falls back to built-in defaults) into a config.Config,
// applying RYE_* environment overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

// initObservability builds the metrics/tracer pair used by one-shot CLI
// dispatches, active only when RYE_DEBUG=1 or cfg.OTLPEndpoint is set;
// otherwise both returns are nil, which every caller treats as
// "observability off". The returned shutdown func must always be called
// before the command returns, even when observability is off.
func initObservability(cfg config.Config) (*observability.Metrics, *observability.Tracer, func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	if os.Getenv("RYE_DEBUG") != "1" && cfg.OTLPEndpoint == "" {
		return nil, nil, noop
	}
	metrics := observability.NewMetrics()
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName: "rye",
		Endpoint:    cfg.OTLPEndpoint,
	})
	return metrics, tracer, shutdown
}

// emitResult writes v as indented JSON to stdout, per spec.md §6's
// "structured JSON to stdout" contract.
func emitResult(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emitError writes a structured JSON error envelope to stdout and
// returns a non-nil error so main() exits non-zero, satisfying both
// halves of spec.md §6's "structured JSON to stdout ... non-zero on
// any failure" contract even on failure paths.
func emitError(err error) error {
	_ = emitResult(map[string]any{"success": false, "error": err.Error()})
	return err
}
