// Command orchestrator runs the SaaS orchestration engine's CLI entrypoint:
// plan a user request, optionally execute it autonomously, and print the
// resulting AgentRunResult as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/spf13/cobra"

	orchconfig "github.com/relaycore/orchestrator/internal/config"
	"github.com/relaycore/orchestrator/internal/catalog"
	"github.com/relaycore/orchestrator/internal/contracts"
	"github.com/relaycore/orchestrator/internal/executor"
	"github.com/relaycore/orchestrator/internal/llmprovider"
	"github.com/relaycore/orchestrator/internal/loop"
	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/pending"
	"github.com/relaycore/orchestrator/internal/pipelinelinks"
	"github.com/relaycore/orchestrator/internal/planner"
	"github.com/relaycore/orchestrator/internal/registry"
	"github.com/relaycore/orchestrator/internal/resolver"
	"github.com/relaycore/orchestrator/internal/rollout"
	"github.com/relaycore/orchestrator/internal/slots"
	"github.com/relaycore/orchestrator/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Natural-language SaaS orchestration engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/orchestrator.yaml", "path to the orchestrator config file")

	root.AddCommand(newRunCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var userID, userText string
	var connected []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Plan (and, per rollout, execute) one user request",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := orchconfig.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			app, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer app.stores.Close()
			defer app.sweeper.Stop()
			defer app.registry.Close()
			defer app.contracts.Close()

			result := app.orchestrator.Run(cmd.Context(), userID, userText, connected, nil)
			return printResult(result)
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "local-user", "acting user id")
	cmd.Flags().StringVar(&userText, "text", "", "the user's natural-language request")
	cmd.Flags().StringSliceVar(&connected, "connected", nil, "connected service ids, comma separated")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func printResult(result loop.AgentRunResult) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// app bundles the orchestrator's wired dependency graph.
type app struct {
	stores       storage.StoreSet
	orchestrator *loop.Orchestrator
	sweeper      *pending.Sweeper
	registry     *registry.Registry
	contracts    *contracts.Store
}

func buildApp(ctx context.Context, cfg *orchconfig.Config) (*app, error) {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()

	stores, err := buildStores(cfg, metrics)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Registry.ToolSpecsDir)
	contractStore := contracts.New(cfg.Registry.ContractsDir)
	guides := planner.NewGuideLoader(cfg.Registry.GuidesDir)
	res := resolver.New(reg)

	if cfg.Registry.Watch {
		if err := reg.StartWatching(ctx, 0); err != nil {
			return nil, fmt.Errorf("watch tool specs: %w", err)
		}
		if err := contractStore.StartWatching(ctx, 0); err != nil {
			return nil, fmt.Errorf("watch skill contracts: %w", err)
		}
	}

	primary, err := buildProvider(ctx, cfg.LLM.Primary)
	if err != nil {
		return nil, fmt.Errorf("build primary llm provider: %w", err)
	}
	fallback, err := buildProvider(ctx, cfg.LLM.Fallback)
	if err != nil {
		return nil, fmt.Errorf("build fallback llm provider: %w", err)
	}
	instrumentedPrimary := llmprovider.Instrument(primary, metrics, cfg.LLM.Primary.Model)
	instrumentedFallback := llmprovider.Instrument(fallback, metrics, cfg.LLM.Fallback.Model)

	rulePlanner := planner.NewRulePlanner(reg, res, guides)
	llmPlanner := planner.NewLLMPlanner(instrumentedPrimary, instrumentedFallback, reg)

	cat := catalog.New()
	var asker planner.StepwiseTaskAsker
	if a, ok := primary.(planner.StepwiseTaskAsker); ok {
		asker = a
	}
	stepwisePlanner := planner.NewStepwisePlanner(reg, asker, cat)

	normalizer := slots.New(slots.BuiltinActionSlotSchemas())
	invoker := executor.NewHTTPToolInvoker(reg, stores.OAuthTokens).WithMetrics(metrics)
	if authConfigs := buildServiceAuthConfigs(cfg.ServiceAuth); len(authConfigs) > 0 {
		invoker = invoker.WithTokenRefresher(resolver.NewTokenRefresher(authConfigs))
	}
	dagExecutor := executor.NewDAGExecutor(invoker, contractStore).WithObservability(stores.Observability, pipelinelinks.New(stores.PipelineLinks))
	sequential := executor.NewSequentialExecutor(invoker, instrumentedPrimary, normalizer).WithDAG(dagExecutor)

	pendingStore := pending.New(stores.PendingActions)

	sweeper := pending.NewSweeper(stores.PendingActions, logger)
	if err := sweeper.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pending action sweeper: %w", err)
	}

	features := map[string]rollout.Settings{}
	for name, f := range cfg.Rollout {
		features[name] = rollout.Settings{
			Enabled:               f.Enabled,
			ShadowMode:            f.ShadowMode,
			Allowlist:             f.Allowlist,
			TrafficPercent:        f.TrafficPercent,
			LegacyFallbackEnabled: f.LegacyFallbackEnabled,
		}
	}
	settings := features["autonomous_execution"]

	orch := loop.New(rulePlanner, llmPlanner, sequential, settings, "autonomous_execution", stores.Observability).
		WithMetrics(metrics).
		WithStepwise(stepwisePlanner).
		WithPending(pendingStore, normalizer)

	return &app{stores: stores, orchestrator: orch, sweeper: sweeper, registry: reg, contracts: contractStore}, nil
}

func buildStores(cfg *orchconfig.Config, metrics *observability.Metrics) (storage.StoreSet, error) {
	switch cfg.PendingActions.Backend {
	case "memory":
		return storage.NewMemoryStores(), nil
	case "postgres":
		return storage.NewPostgresStoresFromDSNWithMetrics(cfg.Database.URL, storage.DefaultPostgresConfig(), metrics)
	case "auto":
		db, err := storage.NewPostgresStoresFromDSNWithMetrics(cfg.Database.URL, storage.DefaultPostgresConfig(), metrics)
		if err != nil {
			return storage.StoreSet{}, err
		}
		db.PendingActions = storage.NewAutoPendingActionStore(db.PendingActions)
		return db, nil
	default:
		return storage.StoreSet{}, fmt.Errorf("unknown pending_actions.backend %q", cfg.PendingActions.Backend)
	}
}

// buildServiceAuthConfigs adapts the config file's service_auth block into
// the shape internal/resolver.NewTokenRefresher expects.
func buildServiceAuthConfigs(raw map[string]orchconfig.ServiceAuthConfig) map[string]resolver.ServiceAuthConfig {
	out := make(map[string]resolver.ServiceAuthConfig, len(raw))
	for service, c := range raw {
		out[service] = resolver.ServiceAuthConfig{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			SigningKey:   []byte(c.SigningKey),
			Issuer:       c.Issuer,
		}
	}
	return out
}

func buildProvider(ctx context.Context, p orchconfig.LLMProviderConfig) (llmprovider.Provider, error) {
	switch p.Kind {
	case "anthropic":
		return llmprovider.NewAnthropicProvider(p.APIKey, p.Model), nil
	case "openai":
		return llmprovider.NewOpenAIProvider(p.APIKey, p.Model), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.Region))
		if err != nil {
			return nil, err
		}
		return llmprovider.NewBedrockProvider(bedrockruntime.NewFromConfig(awsCfg), p.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider kind %q", p.Kind)
	}
}

func newLogger(cfg orchconfig.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
