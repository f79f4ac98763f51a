package di

import (
	"github.com/aristath/vaultkeeper/internal/modules/rebalancing"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/rs/zerolog"
)

// InitializeRepositories selects sqlite repositories when a database is open
// and in-memory stores otherwise.
func InitializeRepositories(container *Container, log zerolog.Logger) {
	if container.DB == nil {
		container.ConfigStore = rebalancing.NewInMemoryConfigStore()
		container.ExecutionStore = rebalancing.NewInMemoryExecutionStore()
		container.AlertStore = risk.NewInMemoryAlertStore(log)
		container.TransactionLog = trading.NewInMemoryTransactionLog()
		return
	}

	conn := container.DB.Conn()
	container.ConfigStore = rebalancing.NewConfigRepository(conn, log)
	container.ExecutionStore = rebalancing.NewExecutionRepository(conn, log)
	container.AlertStore = risk.NewAlertRepository(conn, log)
	container.TransactionLog = trading.NewTransactionRepository(conn, log)
}
