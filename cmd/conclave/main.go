// Package main provides the CLI entry point for Conclave, a standalone
// multi-agent conversational agent-runtime engine.
//
// Start the server:
//
//	conclave serve --config conclave.yaml
//
// Configuration is layered defaults -> optional YAML file -> environment
// variables (env wins); see internal/config.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conclave-run/conclave/internal/agentpool"
	"github.com/conclave-run/conclave/internal/chatengine"
	"github.com/conclave-run/conclave/internal/config"
	"github.com/conclave-run/conclave/internal/domain"
	"github.com/conclave-run/conclave/internal/llmgateway"
	"github.com/conclave-run/conclave/internal/llmgateway/providers"
	"github.com/conclave-run/conclave/internal/observability"
	"github.com/conclave-run/conclave/internal/protection"
	"github.com/conclave-run/conclave/internal/roundtable"
	"github.com/conclave-run/conclave/internal/router"
	"github.com/conclave-run/conclave/internal/scheduler"
	"github.com/conclave-run/conclave/internal/sessions"
	"github.com/conclave-run/conclave/internal/tools"
	"github.com/conclave-run/conclave/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "conclave",
		Short:        "Conclave - multi-agent conversational agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Conclave engine's HTTP/WS transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("config reload failed", "error", err)
			return
		}
		slog.Info("configuration reloaded", "listen_addr", cfg.ListenAddr)
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer watcher.Close()
	cfg := watcher.Current()

	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})

	store, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}

	limiter := protection.NewRateLimiter(cfg.RateLimitMessages, cfg.RateLimitWindow)
	locks := sessions.NewLockManager(30 * time.Second)
	guard := protection.NewGuard(limiter, locks)

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		return fmt.Errorf("build llm gateway: %w", err)
	}

	registry := tools.NewRegistry()
	engine := chatengine.New(gw, registry, store, guard, logger)

	agentStore := agentpool.NewStore()
	pool := agentpool.New(agentStore, engine)
	rt := router.New(agentStore)
	rtable := roundtable.New(pool, rt, store)

	jobs := scheduler.NewMemoryJobStore()
	history := scheduler.NewMemoryExecutionStore()
	sched := scheduler.New(jobs, history, scheduler.ExecutorFunc(func(ctx context.Context, job *domain.CronJob) error {
		_, err := pool.ProcessWithAgent(ctx, job.TargetAgentID, "", job.Payload)
		return err
	}), scheduler.WithLogger(logger))
	sched.Start(ctx)
	defer sched.Stop()

	srv := transport.New(transport.Config{
		Engine:        engine,
		Store:         store,
		Scheduler:     sched,
		Jobs:          jobs,
		History:       history,
		Agents:        agentStore,
		Pool:          pool,
		Router:        rt,
		Roundtable:    rtable,
		Logger:        logger,
		JWTSigningKey: cfg.JWTSigningKey,
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("conclave engine listening", "addr", cfg.ListenAddr)
		serveErr <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("conclave engine stopped gracefully")
	return nil
}

func buildSessionStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.DatabaseDSN == "" {
		return sessions.NewMemoryStore(), nil
	}
	return sessions.NewPostgresStore(cfg.DatabaseDSN, sessions.DefaultPostgresConfig())
}

func buildGateway(cfg *config.Config, logger *observability.Logger) (*llmgateway.Gateway, error) {
	var provs []llmgateway.Provider
	var chains map[string][]llmgateway.Candidate

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		provs = append(provs, p)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		p, err := providers.NewOpenAIProvider(key)
		if err != nil {
			return nil, err
		}
		provs = append(provs, p)
	}

	return llmgateway.New(llmgateway.Config{
		Catalog:       llmgateway.DefaultCatalog(),
		Providers:     provs,
		Chains:        chains,
		ResetInterval: cfg.CircuitBreakerCooldown,
		Logger:        logger,
		Metrics:       llmgateway.NewMetrics(prometheus.NewRegistry()),
	}), nil
}
