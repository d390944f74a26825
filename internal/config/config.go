// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"conductor/internal/graph"
)

// Config is the conductor configuration.
type Config struct {
	Routing   graph.RoutingConfig `toml:"routing"`   // Engine selection
	Budgets   BudgetsConfig       `toml:"budgets"`   // Session budget defaults
	Protocol  ProtocolConfig      `toml:"protocol"`  // Gated capability set
	Executor  ExecutorConfig      `toml:"executor"`  // Tool executor settings
	Storage   StorageConfig       `toml:"storage"`   // Transcript/event paths
	Events    EventsConfig        `toml:"events"`    // Event stream mirrors
	Telemetry TelemetryConfig     `toml:"telemetry"` // OTLP export
	LLM       LLMConfig           `toml:"llm"`       // Reasoning provider
}

// BudgetsConfig holds session budget defaults, overridable per request.
type BudgetsConfig struct {
	MaxSteps   int     `toml:"max_steps"`
	MaxSeconds float64 `toml:"max_seconds"`
	MaxCostUSD float64 `toml:"max_cost_usd"`
}

// ProtocolConfig holds protocol-level policy.
type ProtocolConfig struct {
	// GatedCapabilities lists consent-gated capabilities. Entries ending
	// in "." match as prefixes. Empty means the built-in default set.
	GatedCapabilities []string `toml:"gated_capabilities"`
}

// ExecutorConfig holds tool executor settings.
type ExecutorConfig struct {
	TestMode         bool   `toml:"test_mode"`         // Force all handlers offline/deterministic
	AllowPlaceholder bool   `toml:"allow_placeholder"` // Enable the no-op fallback handler
	ArtifactRoot     string `toml:"artifact_root"`
	CacheRoot        string `toml:"cache_root"`
	CacheLRUSize     int    `toml:"cache_lru_size"`
}

// StorageConfig holds persistent storage paths.
type StorageConfig struct {
	AgentsRoot string `toml:"agents_root"` // Transcript/result/escalation tree
	EventsPath string `toml:"events_path"` // Shared events.jsonl
}

// EventsConfig configures optional event stream mirrors.
type EventsConfig struct {
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// LLMConfig contains reasoning provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
}

// New creates a config with defaults.
func New() *Config {
	return &Config{
		Routing: graph.RoutingConfig{Mode: graph.ModeHybrid},
		Budgets: BudgetsConfig{
			MaxSteps:   3,
			MaxSeconds: 120,
			MaxCostUSD: 5,
		},
		Executor: ExecutorConfig{
			TestMode:     true,
			ArtifactRoot: "artifacts",
			CacheRoot:    ".cache/tools",
			CacheLRUSize: 256,
		},
		Storage: StorageConfig{
			AgentsRoot: "agents",
			EventsPath: "events.jsonl",
		},
		Events: EventsConfig{
			NATSSubject: "conductor.events",
		},
		Telemetry: TelemetryConfig{Protocol: "grpc"},
		LLM:       LLMConfig{MaxTokens: 4096},
	}
}

// LoadFile loads configuration from a TOML file and applies environment
// overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadDefault loads conductor.toml from the current directory if it
// exists; otherwise returns defaults. Environment overrides apply
// either way.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "conductor.toml")
	if _, err := os.Stat(path); err != nil {
		cfg := New()
		cfg.applyEnv()
		return cfg, nil
	}
	return LoadFile(path)
}

// applyEnv overlays CONDUCTOR_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONDUCTOR_TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Executor.TestMode = b
		}
	}
	if v := os.Getenv("CONDUCTOR_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Budgets.MaxSteps = n
		}
	}
	if v := os.Getenv("CONDUCTOR_MAX_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Budgets.MaxSeconds = f
		}
	}
	if v := os.Getenv("CONDUCTOR_MAX_COST_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Budgets.MaxCostUSD = f
		}
	}
	if v := os.Getenv("CONDUCTOR_AGENTS_ROOT"); v != "" {
		c.Storage.AgentsRoot = v
	}
	if v := os.Getenv("CONDUCTOR_EVENTS_PATH"); v != "" {
		c.Storage.EventsPath = v
	}
}

// GetAPIKey returns the reasoning provider key from the configured
// environment variable.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a
// provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}
