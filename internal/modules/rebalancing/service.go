// Package rebalancing provides per-user allocation planning, rebalance execution
// and the background monitor that drives them.
package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/rs/zerolog"
)

// Action is what an evaluation did
type Action string

const (
	ActionSkipped          Action = "skipped"
	ActionNotNeeded        Action = "not_needed"
	ActionBlocked          Action = "blocked"
	ActionAwaitingApproval Action = "awaiting_approval"
	ActionExecuted         Action = "executed"
)

// Skip reasons
const (
	SkipDisabled        = "disabled"
	SkipInProgress      = "in_progress"
	SkipCooldown        = "cooldown"
	SkipDataUnavailable = "data_unavailable"
)

// Outcome is the result of one evaluation or manual run
type Outcome struct {
	UserID    domain.UserID    `json:"user_id"`
	Action    Action           `json:"action"`
	Reason    string           `json:"reason,omitempty"`
	Decision  *Decision        `json:"decision,omitempty"`
	Verdict   *trading.Verdict `json:"verdict,omitempty"`
	Execution *Execution       `json:"execution,omitempty"`
	Report    *risk.Report     `json:"report,omitempty"`
}

// Preview is what an automated evaluation would do right now, without side effects
type Preview struct {
	Snapshot *Snapshot        `json:"snapshot"`
	Report   *risk.Report     `json:"report"`
	Decision Decision         `json:"decision"`
	Verdict  *trading.Verdict `json:"verdict,omitempty"`
}

// ExecuteOptions are the caller's inputs to a manual run
type ExecuteOptions struct {
	// Confirmed acknowledges a verdict that requires confirmation or multi-sig approval
	Confirmed bool `json:"confirmed"`
}

// Dependencies wires a Service
type Dependencies struct {
	Registry   *domain.Registry
	Configs    ConfigStore
	Executions ExecutionStore
	Collector  *SnapshotCollector
	Assessor   *risk.Assessor
	Planner    *Planner
	Gate       *trading.SecurityGate
	Executor   *Executor
	Alerts     *risk.AlertManager
	Events     *events.Manager
	Metrics    *metrics.Metrics
}

// Service is the engine facade: config management, risk assessment,
// automated evaluation and manual execution.
type Service struct {
	registry   *domain.Registry
	configs    ConfigStore
	executions ExecutionStore
	validator  *ConfigValidator
	collector  *SnapshotCollector
	assessor   *risk.Assessor
	planner    *Planner
	gate       *trading.SecurityGate
	executor   *Executor
	alerts     *risk.AlertManager
	events     *events.Manager
	metrics    *metrics.Metrics
	now        func() time.Time
	log        zerolog.Logger
}

// NewService creates a new rebalancing service
func NewService(deps Dependencies, log zerolog.Logger) *Service {
	return &Service{
		registry:   deps.Registry,
		configs:    deps.Configs,
		executions: deps.Executions,
		validator:  NewConfigValidator(deps.Registry.IDs()),
		collector:  deps.Collector,
		assessor:   deps.Assessor,
		planner:    deps.Planner,
		gate:       deps.Gate,
		executor:   deps.Executor,
		alerts:     deps.Alerts,
		events:     deps.Events,
		metrics:    deps.Metrics,
		now:        time.Now,
		log:        log.With().Str("service", "rebalancing").Logger(),
	}
}

// GetConfig returns the user's config, creating the default one on first access
func (s *Service) GetConfig(ctx context.Context, user domain.UserID) (*Config, error) {
	cfg, err := s.configs.Get(ctx, user)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, ErrConfigNotFound) {
		return nil, err
	}

	def := DefaultConfig(user, s.registry.IDs())
	def.UpdatedAt = s.now().UTC()
	if err := s.configs.Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to create default config: %w", err)
	}
	s.log.Info().Str("user", string(user)).Msg("Created default rebalancing config")
	return &def, nil
}

// UpdateConfig applies a partial update. An invalid result is rejected as a
// whole with ConfigurationErrors and nothing is stored.
func (s *Service) UpdateConfig(ctx context.Context, user domain.UserID, update ConfigUpdate) (*Config, error) {
	current, err := s.GetConfig(ctx, user)
	if err != nil {
		return nil, err
	}

	next := update.Apply(*current)
	next.UserID = user
	if err := s.validator.Validate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.configs.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	s.emit(&events.ConfigUpdatedData{User: string(user), Enabled: next.Enabled})
	return &next, nil
}

// ResetConfig restores the defaults. Configs are never deleted.
func (s *Service) ResetConfig(ctx context.Context, user domain.UserID) (*Config, error) {
	def := DefaultConfig(user, s.registry.IDs())
	def.UpdatedAt = s.now().UTC()
	if err := s.configs.Save(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to reset config: %w", err)
	}
	s.emit(&events.ConfigUpdatedData{User: string(user), Enabled: def.Enabled, Reset: true})
	return &def, nil
}

// ListEnabled returns the configs the monitor evaluates
func (s *Service) ListEnabled(ctx context.Context) ([]Config, error) {
	return s.configs.ListEnabled(ctx)
}

// AssessRisk scores the user's current state. Partial data yields a degraded
// report rather than an error.
func (s *Service) AssessRisk(ctx context.Context, user domain.UserID) (*risk.Report, error) {
	cfg, err := s.GetConfig(ctx, user)
	if err != nil {
		return nil, err
	}
	snap := s.collector.Collect(ctx, user)
	return s.assess(ctx, cfg, snap)
}

func (s *Service) assess(ctx context.Context, cfg *Config, snap *Snapshot) (*risk.Report, error) {
	report := s.assessor.Assess(cfg.UserID, snap.RiskInput(s.registry.HighComplexity()), cfg.RiskLimits, s.now())
	s.metrics.SetRiskScore(string(cfg.UserID), report.Metrics.Overall)

	if cfg.Notifications.OnRiskAlert {
		if err := s.alerts.RaiseFromReport(ctx, report); err != nil {
			return report, fmt.Errorf("failed to raise risk alerts: %w", err)
		}
	}
	return report, nil
}

// Preview reports what an automated evaluation would decide. It raises no
// alerts and executes nothing.
func (s *Service) Preview(ctx context.Context, user domain.UserID) (*Preview, error) {
	cfg, err := s.GetConfig(ctx, user)
	if err != nil {
		return nil, err
	}

	snap := s.collector.Collect(ctx, user)
	report := s.assessor.Assess(user, snap.RiskInput(s.registry.HighComplexity()), cfg.RiskLimits, s.now())
	decision := s.planner.Decide(*cfg, snap.Allocation, report.Metrics.Overall, snap.PortfolioValue, "")

	p := &Preview{Snapshot: snap, Report: report, Decision: decision}
	if decision.Needed {
		p.Verdict = s.gate.Evaluate(ctx, trading.Request{
			UserID:        user,
			Transfers:     decision.Instructions,
			EstimatedCost: decision.EstimatedCost,
		})
	}
	return p, nil
}

// Executions returns the user's execution history, newest first
func (s *Service) Executions(ctx context.Context, user domain.UserID, limit int) ([]Execution, error) {
	return s.executions.List(ctx, user, limit)
}

// Alerts returns the user's alerts, newest first
func (s *Service) Alerts(ctx context.Context, user domain.UserID, includeAcknowledged bool) ([]risk.Alert, error) {
	return s.alerts.Alerts(ctx, user, includeAcknowledged)
}

// Acknowledge marks an alert as acknowledged
func (s *Service) Acknowledge(ctx context.Context, id string) (*risk.Alert, error) {
	return s.alerts.Acknowledge(ctx, id)
}

// Evaluate runs one automated evaluation for the user: cooldown, snapshot,
// risk, decision, gate and execution. Incomplete data skips the user with a
// *DataUnavailableError.
func (s *Service) Evaluate(ctx context.Context, user domain.UserID) (*Outcome, error) {
	out, err := s.evaluate(ctx, user)
	if out != nil {
		s.metrics.RecordEvaluation(string(out.Action))
	} else {
		s.metrics.RecordEvaluation("error")
	}
	return out, err
}

func (s *Service) evaluate(ctx context.Context, user domain.UserID) (*Outcome, error) {
	cfg, err := s.GetConfig(ctx, user)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return &Outcome{UserID: user, Action: ActionSkipped, Reason: SkipDisabled}, nil
	}
	// The claim covers the cooldown read through execution so two concurrent
	// evaluations cannot both pass the cooldown and run back to back.
	if !s.executor.TryAcquire(user) {
		return &Outcome{UserID: user, Action: ActionSkipped, Reason: SkipInProgress}, nil
	}
	defer s.executor.Release(user)

	active, err := s.cooldownActive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if active {
		return &Outcome{UserID: user, Action: ActionSkipped, Reason: SkipCooldown}, nil
	}

	snap := s.collector.Collect(ctx, user)
	if !snap.Complete() {
		return &Outcome{UserID: user, Action: ActionSkipped, Reason: SkipDataUnavailable},
			&DataUnavailableError{UserID: user, Missing: snap.Missing}
	}

	report, err := s.assess(ctx, cfg, snap)
	if err != nil {
		return nil, err
	}

	decision := s.planner.Decide(*cfg, snap.Allocation, report.Metrics.Overall, snap.PortfolioValue, "")
	if !decision.Needed {
		return &Outcome{UserID: user, Action: ActionNotNeeded, Reason: decision.Reason, Decision: &decision, Report: report}, nil
	}

	return s.run(ctx, cfg, snap, report, decision, false, ExecuteOptions{})
}

// ExecuteNow starts a manual rebalance. It obeys the cooldown and the gate;
// a verdict requiring confirmation or multi-sig needs opts.Confirmed.
func (s *Service) ExecuteNow(ctx context.Context, user domain.UserID, opts ExecuteOptions) (*Outcome, error) {
	cfg, err := s.GetConfig(ctx, user)
	if err != nil {
		return nil, err
	}
	if !s.executor.TryAcquire(user) {
		return nil, ErrExecutionInProgress
	}
	defer s.executor.Release(user)

	active, err := s.cooldownActive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrCooldownActive
	}

	snap := s.collector.Collect(ctx, user)
	if !snap.Complete() {
		return nil, &DataUnavailableError{UserID: user, Missing: snap.Missing}
	}

	report, err := s.assess(ctx, cfg, snap)
	if err != nil {
		return nil, err
	}

	decision := s.planner.Decide(*cfg, snap.Allocation, report.Metrics.Overall, snap.PortfolioValue, TriggerManual)
	if !decision.Needed {
		return &Outcome{UserID: user, Action: ActionNotNeeded, Reason: decision.Reason, Decision: &decision, Report: report}, nil
	}

	return s.run(ctx, cfg, snap, report, decision, true, opts)
}

func (s *Service) cooldownActive(ctx context.Context, cfg *Config) (bool, error) {
	if cfg.Cooldown() <= 0 {
		return false, nil
	}
	latest, err := s.executions.Latest(ctx, cfg.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to read execution history: %w", err)
	}
	if latest == nil {
		return false, nil
	}
	return s.now().Sub(latest.Timestamp) < cfg.Cooldown(), nil
}

func (s *Service) run(
	ctx context.Context,
	cfg *Config,
	snap *Snapshot,
	report *risk.Report,
	decision Decision,
	manual bool,
	opts ExecuteOptions,
) (*Outcome, error) {
	user := cfg.UserID
	out := &Outcome{UserID: user, Decision: &decision, Report: report}

	verdict := s.gate.Evaluate(ctx, trading.Request{
		UserID:        user,
		Transfers:     decision.Instructions,
		EstimatedCost: decision.EstimatedCost,
	})
	out.Verdict = verdict

	if !verdict.Approved {
		out.Action = ActionBlocked
		out.Reason = "security_block"
		s.raise(ctx, risk.AlertRequest{
			UserID:           user,
			Category:         risk.CategorySecurityBlock,
			Severity:         risk.SeverityHigh,
			Description:      fmt.Sprintf("Rebalance blocked by security checks: %v", verdict.BlockedReasons()),
			SuggestedActions: verdict.Recommendations,
		})
		s.emit(&events.RebalanceData{
			User:    string(user),
			Trigger: string(decision.Trigger),
			Status:  "blocked",
			Steps:   len(decision.Instructions),
			Reason:  fmt.Sprintf("%v", verdict.BlockedReasons()),
		})
		return out, nil
	}

	needsApproval := verdict.RequiresConfirmation || verdict.RequiresMultiSig
	switch {
	case !manual && verdict.RequiresMultiSig:
		out.Action = ActionAwaitingApproval
		out.Reason = "multisig_required"
		s.raise(ctx, risk.AlertRequest{
			UserID:         user,
			Category:       risk.CategoryApprovalRequired,
			Severity:       risk.SeverityHigh,
			Description:    fmt.Sprintf("Rebalance of %.2f requires multi-sig approval", verdict.Amount),
			ActionRequired: true,
			SuggestedActions: []string{
				"Review the planned transfers and run the rebalance manually with confirmation",
			},
		})
		return out, nil
	case manual && needsApproval && !opts.Confirmed:
		out.Action = ActionAwaitingApproval
		out.Reason = "confirmation_required"
		return out, ErrConfirmationRequired
	}

	exec, err := s.executor.executeClaimed(ctx, ExecutionRequest{
		UserID:             user,
		Trigger:            decision.Trigger,
		From:               snap.Allocation,
		To:                 AllocationSnapshot(cfg.TargetAllocation),
		Instructions:       decision.Instructions,
		MaxSlippagePercent: cfg.MaxSlippagePercent,
		Verdict:            verdict,
	})
	if err != nil {
		if exec == nil {
			return nil, err
		}
		s.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Execution record could not be persisted")
	}

	out.Action = ActionExecuted
	out.Execution = exec
	s.afterExecution(ctx, cfg, exec)
	return out, err
}

func (s *Service) afterExecution(ctx context.Context, cfg *Config, exec *Execution) {
	data := &events.RebalanceData{
		ExecutionID: exec.ID,
		User:        string(exec.UserID),
		Trigger:     string(exec.Trigger),
		Status:      string(exec.Status),
		Steps:       len(exec.Steps),
		TotalCost:   exec.TotalCost,
		ElapsedMs:   exec.Elapsed.Milliseconds(),
		Reason:      exec.Error,
	}

	if exec.Status == StatusFailed {
		s.raise(ctx, risk.AlertRequest{
			UserID:         exec.UserID,
			Category:       risk.CategoryExecutionFailure,
			Severity:       risk.SeverityCritical,
			Description:    fmt.Sprintf("Rebalance %s failed: %s", exec.ID, exec.Error),
			ActionRequired: true,
			SuggestedActions: []string{
				"Inspect the failed step and the affected protocol",
				"Re-run the rebalance once the protocol recovers",
			},
		})
		if cfg.Notifications.OnFailure {
			s.emit(data)
		}
		return
	}

	if cfg.Notifications.OnRebalance {
		s.emit(data)
	}
}

// raise records an alert. Store failures are logged, not returned.
func (s *Service) raise(ctx context.Context, req risk.AlertRequest) {
	if _, err := s.alerts.Raise(ctx, req); err != nil {
		s.log.Error().Err(err).
			Str("user", string(req.UserID)).
			Str("category", string(req.Category)).
			Msg("Failed to raise alert")
	}
}

func (s *Service) emit(data events.EventData) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit("rebalancing", data); err != nil {
		s.log.Warn().Err(err).Str("event", string(data.EventType())).Msg("Event listeners failed")
	}
}
