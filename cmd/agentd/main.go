// Package main provides the CLI entry point for agentd, a personal AI
// agent runtime: a tool-use agentic loop over pluggable LLM providers,
// with session persistence, an approval protocol for sensitive tool calls,
// and a JSON-RPC gateway for other agents/processes to drive it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/agent/providers"
	"github.com/haasonsaas/agentd/internal/channels/telegram"
	"github.com/haasonsaas/agentd/internal/config"
	"github.com/haasonsaas/agentd/internal/gateway"
	"github.com/haasonsaas/agentd/internal/sessions"
	"github.com/haasonsaas/agentd/internal/tools/builtin"
	"github.com/haasonsaas/agentd/internal/tools/exec"
	"github.com/haasonsaas/agentd/internal/tools/files"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentd",
		Short:        "agentd - personal AI agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildMigrateCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime, its JSON-RPC gateway, and any enabled channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run pending SQLite schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Store.Backend != "sqlite" {
				slog.Info("store backend is not sqlite, nothing to migrate", "backend", cfg.Store.Backend)
				return nil
			}
			store, err := sessions.NewSQLiteStore(&sessions.SQLiteConfig{
				Path:            cfg.Store.Path,
				BusyTimeout:     cfg.Store.BusyTimeout,
				MaxOpenConns:    cfg.Store.MaxOpenConns,
				ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			})
			if err != nil {
				return fmt.Errorf("open sqlite store: %w", err)
			}
			defer store.Close()
			slog.Info("migrations applied", "path", cfg.Store.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("agentd starting", "version", version, "provider", cfg.Provider.Default, "store", cfg.Store.Backend)

	if err := agent.SetRedactionPattern(cfg.Redaction.KeyPattern); err != nil {
		return fmt.Errorf("invalid redaction key_pattern: %w", err)
	}
	agent.SetRedactionReplacement(cfg.Redaction.Replacement)

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer closeStore()

	providerMap, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	workspace := agent.NewWorkspace(cfg.Server.WorkspaceDir)
	registry := buildRegistry(store, workspace)
	broker := agent.NewBroker()
	queue := agent.NewMessageQueue()

	defaultModel := cfg.Provider.Model
	if defaultModel == "" {
		defaultModel = providerMap[cfg.Provider.Default].DefaultModel()
	}

	engine := agent.NewEngine(store, registry, broker, workspace, queue, providerMap, cfg.Provider.Default, defaultModel, cfg.Server.SystemBrief)
	engine.ProjectNotes = cfg.Server.ProjectNotes

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var gw *gateway.Server
	if cfg.Gateway.Enabled {
		gw = gateway.NewServer(engine, gateway.NewMetrics(), slog.Default())
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		if err := gw.Start(addr); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram.BotToken, engine, slog.Default())
		if err != nil {
			return fmt.Errorf("start telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
	}

	slog.Info("agentd started", "gateway_enabled", cfg.Gateway.Enabled, "telegram_enabled", cfg.Channels.Telegram.Enabled)

	<-ctx.Done()
	slog.Info("shutdown signal received")

	if gw != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		gw.Shutdown(shutdownCtx)
	}

	slog.Info("agentd stopped")
	return nil
}

func buildStore(cfg *config.Config) (sessions.Store, func(), error) {
	if cfg.Store.Backend == "memory" {
		return sessions.NewMemoryStore(), func() {}, nil
	}
	store, err := sessions.NewSQLiteStore(&sessions.SQLiteConfig{
		Path:            cfg.Store.Path,
		BusyTimeout:     cfg.Store.BusyTimeout,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func buildProviders(cfg *config.Config) (map[string]agent.Provider, error) {
	providerMap := make(map[string]agent.Provider)

	if cfg.Provider.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.Provider.Anthropic.APIKey,
			BaseURL:      cfg.Provider.Anthropic.BaseURL,
			DefaultModel: cfg.Provider.Anthropic.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		providerMap["anthropic"] = p
	}

	if cfg.Provider.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.Provider.OpenAI.APIKey,
			BaseURL:      cfg.Provider.OpenAI.BaseURL,
			DefaultModel: cfg.Provider.OpenAI.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		providerMap["openai"] = p
	}

	if _, ok := providerMap[cfg.Provider.Default]; !ok {
		return nil, fmt.Errorf("default provider %q has no configured api key", cfg.Provider.Default)
	}

	return providerMap, nil
}

func buildRegistry(store sessions.Store, workspace *agent.Workspace) *agent.Registry {
	registry := agent.NewRegistry()
	manager := exec.NewManager(workspace)

	tools := []agent.Tool{
		files.NewReadTool(files.Config{}),
		files.NewWriteTool(files.Config{}),
		files.NewEditTool(files.Config{}),
		files.NewApplyPatchTool(files.Config{}),
		exec.NewExecTool("exec", manager),
		exec.NewProcessTool(manager),
		builtin.NewEchoTool(),
		builtin.NewPlanTool(store),
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			panic(fmt.Sprintf("register tool %q: %v", t.Name(), err))
		}
	}
	registry.Freeze()
	return registry
}
