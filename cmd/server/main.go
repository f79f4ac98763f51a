// Package main is the entry point for the vault rebalancing engine.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/di"
	"github.com/aristath/vaultkeeper/internal/server"
	"github.com/aristath/vaultkeeper/pkg/logger"
)

// main starts the engine:
// 1. Loads configuration from the environment (.env supported)
// 2. Wires all dependencies via the DI container (database, stores, protocols, services)
// 3. Starts the alert escalation scheduler
// 4. Starts the rebalance monitor (if enabled)
// 5. Starts the HTTP server
// 6. Waits for a shutdown signal and stops everything in reverse order
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		App:    "vaultkeeper",
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("store", cfg.StoreBackend).
		Bool("dev_mode", cfg.DevMode).
		Msg("Starting vaultkeeper")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	container.Scheduler.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitor.Enabled {
		container.Monitor.Start(ctx)
	} else {
		log.Warn().Msg("Rebalance monitor disabled; rebalances run only on demand")
	}

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop accepting work before the server goes away. In-flight executions
	// run to completion.
	cancel()
	container.Monitor.Stop()
	container.Scheduler.Stop()

	// The HTTP server is given up to 10 seconds to finish in-flight requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
