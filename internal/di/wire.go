package di

import (
	"fmt"

	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Initialize the database (sqlite backend only)
// 2. Initialize repositories
// 3. Initialize protocols and the vault
// 4. Initialize services
// 5. Register jobs
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{
		EventManager: events.NewManager(log),
		Metrics:      metrics.New(),
	}

	if err := InitializeDatabase(container, cfg, log); err != nil {
		return nil, err
	}

	InitializeRepositories(container, log)

	policy := SecurityPolicy(cfg.Security)
	if err := InitializeProtocols(container, &policy, cfg.DevMode); err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to initialize protocols: %w", err)
	}

	InitializeServices(container, cfg, policy, log)

	if err := RegisterJobs(container, cfg, log); err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().
		Str("store", cfg.StoreBackend).
		Int("protocols", container.Registry.Len()).
		Msg("Dependency injection wiring completed successfully")

	return container, nil
}
