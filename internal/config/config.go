// Package config loads and validates the orchestrator's YAML configuration:
// server/database wiring, the LLM provider chain, the registry/contract/
// guide file locations, pending-action TTLs, per-feature rollout settings,
// and the risk policy, using an env-expanding, defaults-then-validate
// loader.
package config

import (
	"fmt"
	"time"
)

// Config is the orchestrator's top-level configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	LLM            LLMConfig            `yaml:"llm"`
	Registry       RegistryConfig       `yaml:"registry"`
	PendingActions PendingActionsConfig `yaml:"pending_actions"`
	Rollout        map[string]RolloutFeatureConfig `yaml:"rollout"`
	RiskPolicy     RiskPolicyConfig     `yaml:"risk_policy"`
	Logging        LoggingConfig        `yaml:"logging"`
	ServiceAuth    map[string]ServiceAuthConfig `yaml:"service_auth"`
}

// ServiceAuthConfig carries one connected service's client credentials for
// proactive OAuth2 token refresh, decoded directly into
// internal/resolver.ServiceAuthConfig shape, keyed by service name (e.g.
// "notion", "linear").
type ServiceAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	SigningKey   string `yaml:"signing_key"`
	Issuer       string `yaml:"issuer"`
}

// ServerConfig configures the orchestrator's listening surface.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the Postgres-backed StoreSet. An empty URL
// selects the in-memory StoreSet instead.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RegistryConfig locates the on-disk tool/skill/guide definitions.
type RegistryConfig struct {
	ToolSpecsDir string `yaml:"tool_specs_dir"`
	ContractsDir string `yaml:"contracts_dir"`
	GuidesDir    string `yaml:"guides_dir"`
	// Watch enables fsnotify hot-reload of tool_specs_dir/contracts_dir so
	// edited specs take effect without a process restart.
	Watch bool `yaml:"watch"`
}

// PendingActionsConfig configures the slot-filling pending-action TTL.
type PendingActionsConfig struct {
	Backend       string `yaml:"backend"` // memory | postgres | auto
	DefaultTTLSec int    `yaml:"default_ttl_sec"`
}

// RolloutFeatureConfig is one named feature's rollout settings, decoded
// directly into internal/rollout.Settings shape.
type RolloutFeatureConfig struct {
	Enabled               bool     `yaml:"enabled"`
	ShadowMode            bool     `yaml:"shadow_mode"`
	Allowlist             []string `yaml:"allowlist"`
	TrafficPercent        int      `yaml:"traffic_percent"`
	LegacyFallbackEnabled bool     `yaml:"legacy_fallback_enabled"`
}

// RiskPolicyConfig gates high-risk tool invocation per tenant tier.
type RiskPolicyConfig struct {
	AllowHighRisk bool `yaml:"allow_high_risk"`
}

// Load reads path (resolving $include directives and expanding ${ENV}
// references via LoadRaw), applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Registry.ToolSpecsDir == "" {
		cfg.Registry.ToolSpecsDir = "configs/tools"
	}
	if cfg.Registry.ContractsDir == "" {
		cfg.Registry.ContractsDir = "configs/skills"
	}
	if cfg.Registry.GuidesDir == "" {
		cfg.Registry.GuidesDir = "configs/guides"
	}
	if cfg.PendingActions.Backend == "" {
		cfg.PendingActions.Backend = "memory"
	}
	if cfg.PendingActions.DefaultTTLSec == 0 {
		cfg.PendingActions.DefaultTTLSec = 900
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	applyLLMDefaults(&cfg.LLM)
}

func validateConfig(cfg *Config) error {
	switch cfg.PendingActions.Backend {
	case "memory", "postgres", "auto":
	default:
		return fmt.Errorf("pending_actions.backend must be memory, postgres, or auto, got %q", cfg.PendingActions.Backend)
	}
	if (cfg.PendingActions.Backend == "postgres" || cfg.PendingActions.Backend == "auto") && cfg.Database.URL == "" {
		return fmt.Errorf("pending_actions.backend=%s requires database.url", cfg.PendingActions.Backend)
	}
	for name, feature := range cfg.Rollout {
		if feature.TrafficPercent < 0 || feature.TrafficPercent > 100 {
			return fmt.Errorf("rollout.%s.traffic_percent must be in [0,100], got %d", name, feature.TrafficPercent)
		}
	}
	return validateLLMConfig(&cfg.LLM)
}
