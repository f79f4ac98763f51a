package di

import (
	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/modules/rebalancing"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/rs/zerolog"
)

// SecurityPolicy builds the gate policy from the defaults and the config overrides
func SecurityPolicy(cfg config.SecurityConfig) trading.Policy {
	policy := trading.DefaultPolicy()
	if cfg.SingleTransactionLimit > 0 {
		policy.SingleTransactionLimit = cfg.SingleTransactionLimit
	}
	if cfg.DailyLimit > 0 {
		policy.DailyLimit = cfg.DailyLimit
	}
	if cfg.ConfirmationThreshold > 0 {
		policy.ConfirmationThreshold = cfg.ConfirmationThreshold
	}
	if cfg.MultiSigThreshold > 0 {
		policy.MultiSigThreshold = cfg.MultiSigThreshold
	}
	if cfg.MaxTransactionsPerHour > 0 {
		policy.MaxTransactionsPerHour = cfg.MaxTransactionsPerHour
	}
	for _, addr := range cfg.TrustedContracts {
		policy.AllowContract(addr, trading.ContractTrusted)
	}
	return policy
}

// InitializeServices creates the risk, trading and rebalancing services.
// Protocols and repositories must be initialized first.
func InitializeServices(container *Container, cfg *config.Config, policy trading.Policy, log zerolog.Logger) {
	container.Calculator = risk.NewCalculator(risk.DefaultCalculatorConfig())
	container.Assessor = risk.NewAssessor(container.Calculator, log)
	container.AlertManager = risk.NewAlertManager(
		container.AlertStore,
		risk.NewEventNotifier(container.EventManager),
		container.EventManager,
		container.Metrics,
		cfg.Alerts.EscalationDelay,
		log,
	)

	container.SecurityGate = trading.NewSecurityGate(policy, container.Registry, container.TransactionLog, container.Metrics, log)
	container.Planner = rebalancing.NewPlanner(rebalancing.DefaultPlannerConfig())
	container.Executor = rebalancing.NewExecutor(
		container.Registry,
		container.ExecutionStore,
		container.TransactionLog,
		container.Metrics,
		cfg.Monitor.AdapterTimeout,
		log,
	)
	container.SnapshotCollector = rebalancing.NewSnapshotCollector(container.Registry, container.Vault, container.Vault, log)

	container.RebalancingService = rebalancing.NewService(rebalancing.Dependencies{
		Registry:   container.Registry,
		Configs:    container.ConfigStore,
		Executions: container.ExecutionStore,
		Collector:  container.SnapshotCollector,
		Assessor:   container.Assessor,
		Planner:    container.Planner,
		Gate:       container.SecurityGate,
		Executor:   container.Executor,
		Alerts:     container.AlertManager,
		Events:     container.EventManager,
		Metrics:    container.Metrics,
	}, log)

	container.Monitor = rebalancing.NewMonitor(
		container.RebalancingService,
		rebalancing.MonitorConfig{Interval: cfg.Monitor.Interval, Workers: cfg.Monitor.Workers},
		container.EventManager,
		container.Metrics,
		log,
	)
}
