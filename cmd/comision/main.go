// Comision - Multi-tenant commission rule engine for energy brokerage.
// Copyright (c) 2025 Impulso Energetico
// Licensed under the Apache License 2.0

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

	"github.com/impulso-energetico/comision/internal/api"
	"github.com/impulso-energetico/comision/internal/bus"
	"github.com/impulso-energetico/comision/internal/cache"
	"github.com/impulso-energetico/comision/internal/domain"
	"github.com/impulso-energetico/comision/internal/repository"
	"github.com/impulso-energetico/comision/internal/rules"
	"github.com/impulso-energetico/comision/internal/worker"
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
	if os.Getenv("COMISION_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting comision",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("COMISION_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize Store
	store, err := repository.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

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

	// Initialize Resolver and rule administration
	resolver := rules.NewResolver(store, cacheImpl, cfg.Resolution.CacheTTL)
	admin := rules.NewService(store, cacheImpl, busImpl)
	slog.Info("rule resolver initialized", "cache_ttl", cfg.Resolution.CacheTTL)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("COMISION_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, store, resolver, Version)

		var tenants []string
		if envTenants := os.Getenv("COMISION_TENANTS"); envTenants != "" {
			tenants = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(worker.Config{Tenants: tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenants))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, cacheImpl, busImpl, resolver, admin, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("comision is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("comision shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                COMISION                   |")
	fmt.Println("  |      Commission Resolution Engine         |")
	fmt.Println("  |    The right rule, every settlement.      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /resolve                    - Resolve the applicable rule")
	fmt.Println("    POST  /calculate                  - Preview a specific rule")
	fmt.Println("    POST  /settlements                - Resolve, calculate and persist")
	fmt.Println("    GET   /settlements/{id}           - Get settlement by ID")
	fmt.Println("    GET   /rules                      - List the scope's rules")
	fmt.Println("    POST  /rules                      - Create a rule")
	fmt.Println("    PATCH /rules/{id}                 - Update a rule")
	fmt.Println("    POST  /rules/{id}/active          - Activate or deactivate")
	fmt.Println("    POST  /rules/fill-missing         - Fill absent levels with defaults")
	fmt.Println("    GET   /sections                   - List catalog sections")
	fmt.Println("    POST  /sections/{id}/subsections  - Upsert a subsection")
	fmt.Println("    GET   /health                     - Health check")
	fmt.Println()
}
