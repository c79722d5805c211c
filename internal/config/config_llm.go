package config

import "fmt"

// LLMConfig configures the primary/fallback provider chain consulted by
// the LLM planner and the classical executor's summarisation capability,
// plus the alternate provider the stepwise planner dispatches to.
type LLMConfig struct {
	Primary LLMProviderConfig `yaml:"primary"`
	Fallback LLMProviderConfig `yaml:"fallback"`
	Alternate LLMProviderConfig `yaml:"alternate"` // used by the stepwise planner
}

// LLMProviderConfig is one provider's credentials and model selection.
// Kind selects the concrete implementation: anthropic | bedrock | openai.
type LLMProviderConfig struct {
	Kind string `yaml:"kind"`
	APIKey string `yaml:"api_key"`
	Model string `yaml:"model"`
	Region string `yaml:"region"` // bedrock only
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Primary.Kind == "" {
		cfg.Primary.Kind = "anthropic"
	}
	if cfg.Primary.Model == "" {
		cfg.Primary.Model = "claude-sonnet-4-5"
	}
	if cfg.Fallback.Kind == "" {
		cfg.Fallback.Kind = "bedrock"
	}
	if cfg.Fallback.Region == "" {
		cfg.Fallback.Region = "us-east-1"
	}
	if cfg.Alternate.Kind == "" {
		cfg.Alternate.Kind = "openai"
	}
	if cfg.Alternate.Model == "" {
		cfg.Alternate.Model = "gpt-4o-mini"
	}
}

func validateLLMConfig(cfg *LLMConfig) error {
	providers := map[string]LLMProviderConfig{"primary": cfg.Primary, "fallback": cfg.Fallback, "alternate": cfg.Alternate}
	for name, p := range providers {
		switch p.Kind {
		case "anthropic", "bedrock", "openai":
		default:
			return fmt.Errorf("llm.%s.kind must be anthropic, bedrock, or openai, got %q", name, p.Kind)
		}
	}
	return nil
}
