// Kestrel - Transaction rule matching for fleet finances.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fleetbooks/kestrel/internal/api"
	"github.com/fleetbooks/kestrel/internal/bus"
	"github.com/fleetbooks/kestrel/internal/cache"
	"github.com/fleetbooks/kestrel/internal/domain"
	"github.com/fleetbooks/kestrel/internal/history"
	"github.com/fleetbooks/kestrel/internal/match"
	"github.com/fleetbooks/kestrel/internal/oracle"
	"github.com/fleetbooks/kestrel/internal/repository"
	"github.com/fleetbooks/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	cfg.Server.APIToken = os.Getenv("KESTREL_API_TOKEN")
	cfg.Oracle.APIKey = os.Getenv("KESTREL_ORACLE_API_KEY")
	if endpoint := os.Getenv("KESTREL_ORACLE_ENDPOINT"); endpoint != "" {
		cfg.Oracle.Endpoint = endpoint
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"auth_enabled", cfg.Server.APIToken != "",
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Matching Engine
	engine, err := match.NewEngine()
	if err != nil {
		slog.Error("failed to initialize matching engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	slog.Info("matching engine initialized")

	// Initialize Matching Session
	session := match.NewSession(repo, cacheImpl, engine, cfg.Matching.SnapshotTTL)
	slog.Info("matching session initialized", "snapshot_ttl", cfg.Matching.SnapshotTTL)

	// Initialize History Service
	historySvc := history.NewService(repo, cacheImpl)
	slog.Info("history service initialized")

	// Initialize Rule Generation (optional; requires an oracle API key)
	var generator *oracle.Adapter
	if cfg.Oracle.APIKey != "" {
		oracleClient, err := oracle.NewOpenAI(cfg.Oracle)
		if err != nil {
			slog.Error("failed to initialize oracle", "error", err)
			os.Exit(1)
		}
		generator = oracle.NewAdapter(oracleClient, historySvc, engine, repo, cacheImpl, busImpl, cfg.Oracle)
		slog.Info("rule generation initialized", "model", cfg.Oracle.Model)
	} else {
		slog.Warn("no oracle API key configured - POST /rules/generate disabled")
	}

	// Initialize async categorization worker
	asyncWorker := worker.NewWorker(busImpl, repo, session)

	tenantIDs := []string{}
	if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
		for _, t := range strings.Split(envTenants, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenantIDs = append(tenantIDs, t)
			}
		}
	}

	if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
		slog.Error("failed to start async worker", "error", err)
	} else {
		slog.Info("async worker started", "tenant_count", len(tenantIDs))
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, session, generator, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║    Transaction Rule Matching Engine       ║")
	fmt.Println("  ║    Every expense finds its category.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /rules/test        - Match a transaction against active rules")
	fmt.Println("    GET  /rules             - List all rules")
	fmt.Println("    POST /rules             - Create a rule")
	fmt.Println("    PATCH /rules/{id}       - Update a rule")
	fmt.Println("    DELETE /rules/{id}      - Delete a rule")
	fmt.Println("    POST /rules/generate    - Generate rules from history")
	fmt.Println("    POST /transactions      - Ingest a transaction")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /matches/{id}      - Get match run by ID")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
