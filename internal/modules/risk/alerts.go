package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultEscalationDelay is how long a critical alert may stay unacknowledged
const DefaultEscalationDelay = time.Hour

// Notifier delivers escalations to an operator channel
type Notifier interface {
	NotifyEscalation(ctx context.Context, alert Alert) error
}

// EventNotifier delivers escalations as events. Listener errors count as
// delivery failures.
type EventNotifier struct {
	events *events.Manager
}

// NewEventNotifier creates a notifier on top of the event manager
func NewEventNotifier(em *events.Manager) *EventNotifier {
	return &EventNotifier{events: em}
}

// NotifyEscalation emits a RiskAlertEscalated event
func (n *EventNotifier) NotifyEscalation(ctx context.Context, alert Alert) error {
	return n.events.Emit("risk", &events.AlertEscalatedData{
		AlertID:     alert.ID,
		User:        string(alert.UserID),
		Category:    string(alert.Category),
		Description: alert.Description,
		RaisedAt:    alert.Timestamp,
	})
}

// AlertManager raises, acknowledges and escalates risk alerts
type AlertManager struct {
	store           AlertStore
	notifier        Notifier
	events          *events.Manager
	metrics         *metrics.Metrics
	escalationDelay time.Duration
	now             func() time.Time
	log             zerolog.Logger
}

// NewAlertManager creates a new alert manager. em and m may be nil.
func NewAlertManager(
	store AlertStore,
	notifier Notifier,
	em *events.Manager,
	m *metrics.Metrics,
	escalationDelay time.Duration,
	log zerolog.Logger,
) *AlertManager {
	if escalationDelay <= 0 {
		escalationDelay = DefaultEscalationDelay
	}
	return &AlertManager{
		store:           store,
		notifier:        notifier,
		events:          em,
		metrics:         m,
		escalationDelay: escalationDelay,
		now:             time.Now,
		log:             log.With().Str("service", "risk_alerts").Logger(),
	}
}

// Raise creates an alert, or refreshes the user's open alert of the same category.
// A refreshed alert keeps its ID and original timestamp and never lowers severity.
// A critical repeat of an already escalated alert re-arms it, so the next
// sweep escalates it again.
func (m *AlertManager) Raise(ctx context.Context, req AlertRequest) (*Alert, error) {
	existing, err := m.store.FindOpen(ctx, req.UserID, req.Category)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open alert: %w", err)
	}

	if existing != nil {
		return m.refresh(ctx, existing, req)
	}

	alert := Alert{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		Category:         req.Category,
		Severity:         req.Severity,
		Description:      req.Description,
		Timestamp:        m.now().UTC(),
		ActionRequired:   req.ActionRequired,
		SuggestedActions: req.SuggestedActions,
	}
	if err := m.store.Save(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	m.metrics.RecordAlert(string(alert.Category), string(alert.Severity))
	m.log.Warn().
		Str("alert_id", alert.ID).
		Str("user", string(alert.UserID)).
		Str("category", string(alert.Category)).
		Str("severity", string(alert.Severity)).
		Msg(alert.Description)

	m.emitRaised(alert)
	return &alert, nil
}

func (m *AlertManager) refresh(ctx context.Context, existing *Alert, req AlertRequest) (*Alert, error) {
	now := m.now().UTC()
	if req.Severity.Rank() > existing.Severity.Rank() {
		existing.Severity = req.Severity
	}
	existing.Description = req.Description
	existing.ActionRequired = existing.ActionRequired || req.ActionRequired
	if len(req.SuggestedActions) > 0 {
		existing.SuggestedActions = req.SuggestedActions
	}
	existing.LastRaisedAt = &now

	rearmed := existing.Escalated && req.Severity == SeverityCritical
	if rearmed {
		existing.Escalated = false
		existing.EscalatedAt = nil
	}

	if err := m.store.Save(ctx, *existing); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	if !rearmed {
		m.log.Debug().
			Str("alert_id", existing.ID).
			Str("category", string(existing.Category)).
			Msg("Reused open alert")
		return existing, nil
	}

	m.metrics.RecordAlert(string(existing.Category), string(existing.Severity))
	m.log.Warn().
		Str("alert_id", existing.ID).
		Str("user", string(existing.UserID)).
		Str("category", string(existing.Category)).
		Msg("Critical condition repeated after escalation")
	m.emitRaised(*existing)
	return existing, nil
}

func (m *AlertManager) emitRaised(alert Alert) {
	if m.events == nil {
		return
	}
	if err := m.events.Emit("risk", &events.RiskAlertData{
		AlertID:        alert.ID,
		User:           string(alert.UserID),
		Category:       string(alert.Category),
		Severity:       string(alert.Severity),
		Description:    alert.Description,
		ActionRequired: alert.ActionRequired,
	}); err != nil {
		m.log.Warn().Err(err).Str("alert_id", alert.ID).Msg("Alert listeners failed")
	}
}

// RaiseFromReport raises one alert per high or critical factor and attaches them to the report
func (m *AlertManager) RaiseFromReport(ctx context.Context, report *Report) error {
	for _, f := range report.Factors {
		if f.Severity.Rank() < SeverityHigh.Rank() {
			continue
		}
		alert, err := m.Raise(ctx, AlertRequest{
			UserID:           report.UserID,
			Category:         f.Category,
			Severity:         f.Severity,
			Description:      f.Description,
			ActionRequired:   f.Severity == SeverityCritical,
			SuggestedActions: f.SuggestedActions,
		})
		if err != nil {
			return err
		}
		report.Alerts = append(report.Alerts, *alert)
	}
	return nil
}

// Acknowledge marks an alert as acknowledged. Acknowledging twice is a no-op.
func (m *AlertManager) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Acknowledged {
		return alert, nil
	}

	now := m.now().UTC()
	alert.Acknowledged = true
	alert.AcknowledgedAt = &now
	if err := m.store.Save(ctx, *alert); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	if m.events != nil {
		_ = m.events.Emit("risk", &events.AlertAcknowledgedData{AlertID: alert.ID, User: string(alert.UserID)})
	}
	return alert, nil
}

// Alerts returns a user's alerts, newest first
func (m *AlertManager) Alerts(ctx context.Context, user domain.UserID, includeAcknowledged bool) ([]Alert, error) {
	return m.store.ListByUser(ctx, user, includeAcknowledged)
}

// EscalateOverdue escalates unacknowledged critical alerts older than the
// escalation delay. Delivery failures are logged and retried on the next sweep.
func (m *AlertManager) EscalateOverdue(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.escalationDelay)
	overdue, err := m.store.ListOverdue(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue alerts: %w", err)
	}

	escalated := 0
	for _, alert := range overdue {
		if err := m.notifier.NotifyEscalation(ctx, alert); err != nil {
			m.metrics.RecordEscalation(false)
			m.log.Error().
				Err(err).
				Str("alert_id", alert.ID).
				Str("user", string(alert.UserID)).
				Msg("EscalationFailure: will retry on next sweep")
			continue
		}

		now := m.now().UTC()
		alert.Escalated = true
		alert.EscalatedAt = &now
		if err := m.store.Save(ctx, alert); err != nil {
			m.log.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to persist escalation")
			continue
		}
		m.metrics.RecordEscalation(true)
		escalated++
	}

	if escalated > 0 {
		m.log.Info().Int("escalated", escalated).Int("overdue", len(overdue)).Msg("Escalated overdue alerts")
	}
	return escalated, nil
}
