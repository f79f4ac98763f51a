package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Escalator escalates overdue alerts
type Escalator interface {
	EscalateOverdue(ctx context.Context) (int, error)
}

// AlertEscalationJob sweeps unacknowledged critical alerts past the escalation delay
type AlertEscalationJob struct {
	escalator Escalator
	timeout   time.Duration
	log       zerolog.Logger
}

// NewAlertEscalationJob creates the escalation sweep job
func NewAlertEscalationJob(escalator Escalator, log zerolog.Logger) *AlertEscalationJob {
	return &AlertEscalationJob{
		escalator: escalator,
		timeout:   30 * time.Second,
		log:       log.With().Str("job", "alert_escalation").Logger(),
	}
}

// Name returns the job name
func (j *AlertEscalationJob) Name() string {
	return "alert_escalation"
}

// Run escalates overdue alerts. Individual delivery failures are retried by
// the next sweep and do not fail the job.
func (j *AlertEscalationJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.escalator.EscalateOverdue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info().Int("escalated", n).Msg("Escalated overdue alerts")
	}
	return nil
}
