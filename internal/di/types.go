// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/vaultkeeper/internal/clients/simulated"
	"github.com/aristath/vaultkeeper/internal/database"
	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/aristath/vaultkeeper/internal/modules/rebalancing"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/aristath/vaultkeeper/internal/scheduler"
)

// Container holds all application dependencies.
// It is the single source of truth for service instances and is passed to the server.
type Container struct {
	// Database (nil with the memory store backend)
	DB *database.DB

	// Protocols and vault
	Registry *domain.Registry
	Adapters []*simulated.Adapter
	Vault    *simulated.Vault

	// Cross-cutting
	EventManager *events.Manager
	Metrics      *metrics.Metrics

	// Stores
	ConfigStore    rebalancing.ConfigStore
	ExecutionStore rebalancing.ExecutionStore
	AlertStore     risk.AlertStore
	TransactionLog trading.TransactionLog

	// Services
	Calculator         *risk.Calculator
	Assessor           *risk.Assessor
	AlertManager       *risk.AlertManager
	Planner            *rebalancing.Planner
	SecurityGate       *trading.SecurityGate
	Executor           *rebalancing.Executor
	SnapshotCollector  *rebalancing.SnapshotCollector
	RebalancingService *rebalancing.Service
	Monitor            *rebalancing.Monitor

	// Jobs
	Scheduler          *scheduler.Scheduler
	AlertEscalationJob *scheduler.AlertEscalationJob
}

// Close releases the database, if any
func (c *Container) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
