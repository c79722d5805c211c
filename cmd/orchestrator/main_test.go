package main

import (
	"context"
	"testing"

	orchconfig "github.com/relaycore/orchestrator/internal/config"
)

func TestNewLogger_SelectsHandlerByFormat(t *testing.T) {
	cases := []struct {
		format string
	}{{"json"}, {"text"}, {""}}
	for _, tc := range cases {
		logger := newLogger(orchconfig.LoggingConfig{Level: "info", Format: tc.format})
		if logger == nil {
			t.Fatalf("format %q: expected a non-nil logger", tc.format)
		}
	}
}

func TestBuildProvider_UnknownKindErrors(t *testing.T) {
	if _, err := buildProvider(context.Background(), orchconfig.LLMProviderConfig{Kind: "cohere"}); err == nil {
		t.Fatal("expected an error for an unsupported llm provider kind")
	}
}

func TestBuildProvider_AnthropicAndOpenAIConstructWithoutNetworkAccess(t *testing.T) {
	if p, err := buildProvider(context.Background(), orchconfig.LLMProviderConfig{Kind: "anthropic", APIKey: "k", Model: "claude-sonnet-4-5"}); err != nil || p == nil {
		t.Fatalf("anthropic: got provider=%v err=%v", p, err)
	}
	if p, err := buildProvider(context.Background(), orchconfig.LLMProviderConfig{Kind: "openai", APIKey: "k", Model: "gpt-4o-mini"}); err != nil || p == nil {
		t.Fatalf("openai: got provider=%v err=%v", p, err)
	}
}

func TestBuildStores_UnknownBackendErrors(t *testing.T) {
	cfg := &orchconfig.Config{PendingActions: orchconfig.PendingActionsConfig{Backend: "redis"}}
	if _, err := buildStores(cfg, nil); err == nil {
		t.Fatal("expected an error for an unknown pending_actions.backend")
	}
}

func TestBuildServiceAuthConfigs_AdaptsEachService(t *testing.T) {
	raw := map[string]orchconfig.ServiceAuthConfig{
		"notion": {ClientID: "id", ClientSecret: "secret", TokenURL: "https://api.notion.com/oauth/token"},
		"linear": {TokenURL: "https://auth.example.com/token", SigningKey: "key-bytes", Issuer: "orchestrator"},
	}

	out := buildServiceAuthConfigs(raw)

	if len(out) != 2 {
		t.Fatalf("expected 2 adapted configs, got %d", len(out))
	}
	if out["notion"].ClientID != "id" || out["notion"].TokenURL != "https://api.notion.com/oauth/token" {
		t.Errorf("notion config not adapted correctly: %+v", out["notion"])
	}
	if string(out["linear"].SigningKey) != "key-bytes" || out["linear"].Issuer != "orchestrator" {
		t.Errorf("linear config not adapted correctly: %+v", out["linear"])
	}
}

func TestBuildServiceAuthConfigs_EmptyInputYieldsEmptyOutput(t *testing.T) {
	if out := buildServiceAuthConfigs(nil); len(out) != 0 {
		t.Errorf("expected no adapted configs for nil input, got %v", out)
	}
}

func TestBuildStores_MemoryBackend(t *testing.T) {
	cfg := &orchconfig.Config{PendingActions: orchconfig.PendingActionsConfig{Backend: "memory"}}
	stores, err := buildStores(cfg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stores.Close()
	if stores.PendingActions == nil {
		t.Fatal("expected a memory-backed PendingActions store")
	}
}
