// Nergal assistant backend: agent orchestration over an LLM planner, a
// dual-tier Postgres memory, and the admin HTTP surface. The chat transport
// drives dialog.Manager.ProcessTurn; this binary hosts everything behind it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finnetrolle/nergal-sub000/pkg/agent"
	"github.com/finnetrolle/nergal-sub000/pkg/api"
	"github.com/finnetrolle/nergal-sub000/pkg/cleanup"
	"github.com/finnetrolle/nergal-sub000/pkg/config"
	"github.com/finnetrolle/nergal-sub000/pkg/database"
	"github.com/finnetrolle/nergal-sub000/pkg/dialog"
	"github.com/finnetrolle/nergal-sub000/pkg/llm"
	"github.com/finnetrolle/nergal-sub000/pkg/memory"
	"github.com/finnetrolle/nergal-sub000/pkg/reliability"
	"github.com/finnetrolle/nergal-sub000/pkg/search"
	"github.com/finnetrolle/nergal-sub000/pkg/version"
)

// drainTimeout bounds how long shutdown waits for in-flight extraction work.
const drainTimeout = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", "./config.yaml"),
		"Path to the YAML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using existing environment")
	} else {
		slog.Info("Loaded environment from .env")
	}

	slog.Info("Starting nergal",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to PostgreSQL (applies pending migrations)
	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database",
		"host", cfg.Database.Host,
		"database", cfg.Database.Name)

	// 3. LLM provider
	provider := llm.NewOpenAIClient(cfg.LLM)
	slog.Info("LLM provider initialized",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model)

	// 4. Search pipeline (shared retry policy + circuit breaker)
	retryCfg := reliability.RetryConfig{
		MaxAttempts: cfg.Reliability.RetryMaxAttempts,
		BaseDelay:   cfg.Reliability.RetryBaseDelay(),
		MaxDelay:    cfg.Reliability.RetryMaxDelay(),
		JitterMax:   cfg.Reliability.RetryJitter(),
	}
	breakers := make(map[string]*reliability.CircuitBreaker)
	var searcher *agent.Searcher
	if cfg.Search.Enabled {
		searchProvider := search.NewMCPProvider(cfg.Search)
		defer func() {
			if err := searchProvider.Close(); err != nil {
				slog.Error("Error closing search provider", "error", err)
			}
		}()

		breaker := reliability.NewCircuitBreaker("web_search", reliability.CircuitBreakerConfig{
			FailureThreshold: cfg.Reliability.BreakerFailureThreshold,
			SuccessThreshold: cfg.Reliability.BreakerSuccessThreshold,
			RecoveryTimeout:  cfg.Reliability.BreakerRecoveryTimeout(),
		})
		breakers["web_search"] = breaker
		searcher = agent.NewSearcher(searchProvider, breaker, retryCfg, cfg.Search.MaxResults)
		slog.Info("Search provider initialized",
			"endpoint", cfg.Search.Endpoint,
			"max_results", cfg.Search.MaxResults)
	} else {
		slog.Info("Search disabled, search-backed agents answer from general knowledge")
	}

	// 5. Agent registry
	registry := agent.NewRegistry()
	registry.Register(agent.NewDefaultAgent(provider, config.StylePrompt(cfg.Style.Tag)))
	registry.Register(agent.NewKnowledgeBaseAgent(provider))
	registry.Register(agent.NewTechDocsAgent(provider))
	registry.Register(agent.NewCodeAnalysisAgent(provider))
	registry.Register(agent.NewMetricsAgent(provider))
	registry.Register(agent.NewNewsAgent(provider, searcher))
	registry.Register(agent.NewWebSearchAgent(provider, searcher))
	registry.Register(agent.NewAnalysisAgent(provider))
	registry.Register(agent.NewFactCheckAgent(provider))
	registry.Register(agent.NewComparisonAgent(provider))
	registry.Register(agent.NewSummaryAgent(provider))
	registry.Register(agent.NewClarificationAgent(provider))
	registry.Register(agent.NewExpertiseAgent(provider))
	slog.Info("Agent registry populated",
		"agents", registry.Len(),
		"style", cfg.Style.Tag)

	// 6. Planner and executor
	var (
		planner  *agent.Dispatcher
		executor *agent.Executor
	)
	if cfg.Dispatcher.Enabled {
		planner = agent.NewDispatcher(provider, registry)
		executor = agent.NewExecutor(registry)
		slog.Info("LLM dispatcher enabled")
	} else {
		slog.Info("LLM dispatcher disabled, routing by keyword score")
	}

	// 7. Memory service and fact extraction
	memoryService := memory.NewService(cfg.Memory, dbClient)
	var extraction *memory.ExtractionService
	if cfg.Memory.LongTermEnabled && cfg.Memory.ExtractionEnabled {
		extraction = memory.NewExtractionService(cfg.Memory, provider, memoryService)
		slog.Info("Fact extraction enabled",
			"confidence_threshold", cfg.Memory.ConfidenceThreshold)
	}

	// 8. Dialog manager
	manager := dialog.NewManager(cfg.Auth, cfg.Memory, dialog.Deps{
		Registry:   registry,
		Planner:    planner,
		Executor:   executor,
		Memory:     memoryService,
		Extraction: extraction,
	})
	slog.Info("Dialog manager initialized",
		"auth_enabled", cfg.Auth.Enabled,
		"admins", len(cfg.Auth.AdminIDs))

	// 9. Retention sweeps
	cleanupService := cleanup.NewService(cfg.Memory, memoryService)
	if err := cleanupService.Start(); err != nil {
		slog.Error("Failed to start cleanup service", "error", err)
		os.Exit(1)
	}

	// 10. Admin HTTP server (non-blocking)
	errCh := make(chan error, 1)
	var apiServer *api.Server
	if cfg.Auth.AdminEnabled {
		addr := fmt.Sprintf(":%d", cfg.Auth.AdminPort)
		apiServer = api.NewServer(addr, dbClient, memoryService, manager, breakers, slog.Default())
		go func() {
			slog.Info("Admin HTTP server listening", "addr", addr)
			if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Admin HTTP server error", "error", err)
				errCh <- err
			}
		}()
	}

	slog.Info("Nergal started successfully", "agents", registry.Len())

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop the sweeps, drain in-flight extraction,
	// then take down the HTTP surface.
	cleanupService.Stop()

	drained := make(chan struct{})
	go func() {
		manager.Close()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("Dialog manager drained")
	case <-time.After(drainTimeout):
		slog.Warn("Drain timeout exceeded, extraction tasks may be incomplete")
	}

	if apiServer != nil {
		httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
		defer httpCancel()
		if err := apiServer.Shutdown(httpShutdownCtx); err != nil {
			slog.Error("Admin HTTP server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}
