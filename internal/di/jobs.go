package di

import (
	"fmt"

	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the periodic jobs
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Scheduler = scheduler.New(log)

	container.AlertEscalationJob = scheduler.NewAlertEscalationJob(container.AlertManager, log)
	if err := container.Scheduler.AddJob(cfg.Alerts.EscalationSchedule, container.AlertEscalationJob); err != nil {
		return fmt.Errorf("failed to register alert escalation job: %w", err)
	}

	return nil
}
