package di

import (
	"fmt"

	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabase opens and migrates the engine database.
// The memory backend needs no database and leaves container.DB nil.
func InitializeDatabase(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.StoreBackend == config.StoreMemory {
		log.Warn().Msg("Using in-memory stores; configs, executions and alerts are lost on restart")
		return nil
	}

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger, // execution history is an audit trail
		Name:    "engine",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate engine database: %w", err)
	}

	container.DB = db
	log.Info().Str("path", db.Path()).Msg("Engine database ready")
	return nil
}
