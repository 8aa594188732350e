// Package config loads the runtime's operator-facing configuration: helper
// binary paths, spend rate tables, and retry policy defaults. Logging,
// budget, and capability decisions all stay driven by their own packages;
// this is the one layered settings document an operator edits by hand.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the runtime's top-level settings document, loaded from YAML (or
// permissive JSON5) on disk and overridable per-field by environment
// variables at Load time.
type Config struct {
	// HelperBinaryPath is the path to the rye-proc subprocess helper; empty
	// falls back to a PATH lookup.
	HelperBinaryPath string `yaml:"helper_binary_path"`

	// SpendRates maps a unit name (e.g. "tokens", "api_calls") to its cost
	// per unit, used by the thread runner's cost accounting.
	SpendRates map[string]float64 `yaml:"spend_rates"`

	Retry RetryConfig `yaml:"retry"`

	// OTLPEndpoint configures optional trace export; empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// RetryConfig holds the default backoff policy for provider calls and
// primitive dispatch, overridable per-tool by a tool's own metadata.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns the runtime's built-in defaults, used when no
// config file is present.
func DefaultConfig() Config {
	return Config{
		SpendRates: map[string]float64{},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
		},
	}
}

// Load reads path (resolving $include directives and env var expansion via
// LoadRaw) and decodes it over DefaultConfig, then applies environment
// variable overrides. An empty path returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return Config{}, err
		}
		decoded, err := decodeRawConfig(raw)
		if err != nil {
			return Config{}, err
		}
		cfg = mergeDefaults(*decoded)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// mergeDefaults fills zero-valued fields of decoded with DefaultConfig's
// values, since yaml.Decode leaves unset fields at their Go zero value.
func mergeDefaults(decoded Config) Config {
	cfg := DefaultConfig()
	if decoded.HelperBinaryPath != "" {
		cfg.HelperBinaryPath = decoded.HelperBinaryPath
	}
	if len(decoded.SpendRates) > 0 {
		cfg.SpendRates = decoded.SpendRates
	}
	if decoded.Retry.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = decoded.Retry.MaxAttempts
	}
	if decoded.Retry.BaseDelay > 0 {
		cfg.Retry.BaseDelay = decoded.Retry.BaseDelay
	}
	if decoded.Retry.MaxDelay > 0 {
		cfg.Retry.MaxDelay = decoded.Retry.MaxDelay
	}
	if decoded.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = decoded.OTLPEndpoint
	}
	return cfg
}

// applyEnvOverrides lets RYE_HELPER_PATH, RYE_RETRY_MAX_ATTEMPTS, and
// OTEL_EXPORTER_OTLP_ENDPOINT take precedence over file-based config,
// matching the env-override-then-file precedence of the ambient stack.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RYE_HELPER_PATH"); v != "" {
		cfg.HelperBinaryPath = v
	}
	if v := os.Getenv("RYE_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
}
