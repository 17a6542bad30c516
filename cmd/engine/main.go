// Command engine is the Prospector notification decision engine server.
//
// Usage:
//
//	prospector-engine
//	API_PORT=8080 prospector-engine
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/mrktfy/prospector/internal/api"
	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/engine"
	"github.com/mrktfy/prospector/internal/kv"
	"github.com/mrktfy/prospector/internal/listings"
	"github.com/mrktfy/prospector/internal/maintenance"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// State store: Postgres when configured, in-memory otherwise.
	var kvStore kv.Store
	if cfg.DatabaseURL != "" {
		logger.Info("Connecting to state store...")
		pg, err := kv.NewPostgres(ctx, cfg)
		if err != nil {
			logger.Error("Failed to connect to state store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		kvStore = pg
		logger.Info("State store connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
	} else {
		kvStore = kv.NewMemory()
		logger.Info("State store: in-memory (no DATABASE_URL; state is lost on restart)")
	}

	// Listings zone-check client
	checker := listings.NewClient(cfg.ListingsBaseURL, cfg.ListingsAPIKey, cfg.ListingsTimeout, logger)
	if cfg.ListingsBaseURL == "" {
		logger.Warn("Listings backend not configured; zone checks always come back empty")
	}

	// Push delivery (log-only sender when credentials are present)
	sender := engine.NewLogSender(cfg.PushCredentialsFile != "", logger)
	if sender != nil {
		logger.Info("Push delivery enabled")
	} else {
		logger.Info("Push delivery disabled (no PUSH_CREDENTIALS_FILE)")
	}

	// Session manager
	manager := engine.NewManager(cfg, kvStore, checker, sender, logger)
	defer manager.CloseAll(context.Background())

	// Start maintenance tickers (retention sweep, profile flush, idle eviction)
	go maintenance.Start(ctx, manager, maintenance.Config{
		RetentionInterval: cfg.RetentionSweepInterval,
		FlushInterval:     cfg.ProfileFlushInterval,
		EvictionInterval:  cfg.SessionEvictionInterval,
		SessionIdleAfter:  cfg.SessionIdleTimeout,
	}, logger)

	// Create router
	router := api.NewRouter(manager, kvStore, cfg)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Prospector Notification Engine",
			"addr", addr,
			"environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
