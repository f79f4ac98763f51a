package rebalancing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/vaultkeeper/internal/clients/simulated"
	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/events"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser domain.UserID = "0xuser"

type eventRecorder struct {
	mu     sync.Mutex
	events []events.EventWithData
}

func (r *eventRecorder) listen(e events.EventWithData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type serviceFixture struct {
	svc      *Service
	aave     *simulated.Adapter
	compound *simulated.Adapter
	vault    *simulated.Vault
	alerts   *risk.AlertManager
	recorder *eventRecorder
}

// newServiceFixture builds a vault with aave 600 / compound 400 and a user
// holding 2000 of value. The gate allow-lists both contracts unless the
// policy callback changes it.
func newServiceFixture(t *testing.T, tune func(*trading.Policy)) *serviceFixture {
	t.Helper()
	return newServiceFixtureWithPositions(t, tune, nil)
}

// newServiceFixtureWithPositions lets a test wrap the position source the
// snapshot collector reads from.
func newServiceFixtureWithPositions(
	t *testing.T,
	tune func(*trading.Policy),
	wrap func(domain.PositionAccessor) domain.PositionAccessor,
) *serviceFixture {
	t.Helper()
	log := zerolog.Nop()

	aave := simulated.NewAdapter("aave", 600)
	compound := simulated.NewAdapter("compound", 400)
	registry := newTestRegistry(t, aave, compound)

	vault := simulated.NewVault(1000, aave, compound)
	vault.SetPosition(testUser, domain.UserPosition{Balance: 2000, Principal: 2000, Shares: 100})

	em := events.NewManager(log)
	recorder := &eventRecorder{}
	em.SubscribeAll(recorder.listen)

	policy := trading.DefaultPolicy()
	policy.AllowContract("0xaave", trading.ContractTrusted)
	policy.AllowContract("0xcompound", trading.ContractTrusted)
	if tune != nil {
		tune(&policy)
	}

	var positions domain.PositionAccessor = vault
	if wrap != nil {
		positions = wrap(vault)
	}

	txLog := trading.NewInMemoryTransactionLog()
	executions := NewInMemoryExecutionStore()
	alerts := risk.NewAlertManager(risk.NewInMemoryAlertStore(log), risk.NewEventNotifier(em), em, nil, time.Hour, log)

	svc := NewService(Dependencies{
		Registry:   registry,
		Configs:    NewInMemoryConfigStore(),
		Executions: executions,
		Collector:  NewSnapshotCollector(registry, vault, positions, log),
		Assessor:   risk.NewAssessor(risk.NewCalculator(risk.CalculatorConfig{}), log),
		Planner:    NewPlanner(DefaultPlannerConfig()),
		Gate:       trading.NewSecurityGate(policy, registry, txLog, nil, log),
		Executor:   NewExecutor(registry, executions, txLog, nil, time.Second, log),
		Alerts:     alerts,
		Events:     em,
	}, log)

	return &serviceFixture{svc: svc, aave: aave, compound: compound, vault: vault, alerts: alerts, recorder: recorder}
}

func (f *serviceFixture) enable(t *testing.T) {
	t.Helper()
	enabled := true
	_, err := f.svc.UpdateConfig(context.Background(), testUser, ConfigUpdate{
		Enabled:          &enabled,
		TargetAllocation: map[domain.ProtocolID]float64{"aave": 50, "compound": 50},
	})
	require.NoError(t, err)
}

func (f *serviceFixture) alertCategories(t *testing.T) []risk.Category {
	t.Helper()
	alerts, err := f.alerts.Alerts(context.Background(), testUser, true)
	require.NoError(t, err)
	out := make([]risk.Category, len(alerts))
	for i, a := range alerts {
		out[i] = a.Category
	}
	return out
}

func TestService_GetConfigCreatesDefaults(t *testing.T) {
	f := newServiceFixture(t, nil)

	cfg, err := f.svc.GetConfig(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, map[domain.ProtocolID]float64{"aave": 50, "compound": 50}, cfg.TargetAllocation)
	assert.False(t, cfg.UpdatedAt.IsZero())
}

func TestService_UpdateConfigRejectsInvalid(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	drift := 80.0
	_, err := f.svc.UpdateConfig(ctx, testUser, ConfigUpdate{
		DriftThresholdPercent: &drift,
		TargetAllocation:      map[domain.ProtocolID]float64{"aave": 70, "compound": 20},
	})
	require.Error(t, err)

	var errs ConfigurationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)

	cfg, err := f.svc.GetConfig(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.DriftThresholdPercent, "rejected update must not be stored")
	assert.NotContains(t, f.recorder.types(), events.ConfigUpdated)
}

func TestService_UpdateAndResetConfig(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	f.enable(t)
	cfg, err := f.svc.GetConfig(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	enabled, err := f.svc.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	reset, err := f.svc.ResetConfig(ctx, testUser)
	require.NoError(t, err)
	assert.False(t, reset.Enabled)
	assert.Equal(t, []events.EventType{events.ConfigUpdated, events.ConfigUpdated}, f.recorder.types())
}

func TestService_EvaluateExecutesOnDrift(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.enable(t)
	ctx := context.Background()

	out, err := f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, ActionExecuted, out.Action)
	require.NotNil(t, out.Execution)
	assert.Equal(t, StatusCompleted, out.Execution.Status)
	assert.Equal(t, TriggerDrift, out.Execution.Trigger)
	assert.True(t, out.Verdict.Approved)
	require.NotNil(t, out.Execution.Verdict)

	// 10% drift of a 2000 portfolio moves 200
	aave, _ := f.aave.ReportDeposited(ctx)
	compound, _ := f.compound.ReportDeposited(ctx)
	assert.InDelta(t, 400.0, aave, 1e-9)
	assert.InDelta(t, 600.0, compound, 1e-9)

	history, err := f.svc.Executions(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	assert.Contains(t, f.recorder.types(), events.RebalanceCompleted)
	// 60% concentration breached the 50% exposure limit before the run
	assert.Contains(t, f.alertCategories(t), risk.CategoryConcentration)
}

func TestService_CooldownSuppressesEvaluation(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.enable(t)
	ctx := context.Background()

	_, err := f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)

	// Drift again so that only the cooldown stands in the way
	f.aave.SetDeposited(700)
	f.compound.SetDeposited(300)

	out, err := f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, out.Action)
	assert.Equal(t, SkipCooldown, out.Reason)

	_, err = f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{Confirmed: true})
	assert.ErrorIs(t, err, ErrCooldownActive)

	// Past the cooldown the drift is acted on
	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	out, err = f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionExecuted, out.Action)

	history, err := f.svc.Executions(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// pausedPositions blocks the first Position call until resume is closed
type pausedPositions struct {
	domain.PositionAccessor
	once    sync.Once
	entered chan struct{}
	resume  chan struct{}
}

func (p *pausedPositions) Position(ctx context.Context, user domain.UserID) (*domain.UserPosition, error) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.resume
	}
	return p.PositionAccessor.Position(ctx, user)
}

func TestService_ConcurrentManualRunsExecuteOnce(t *testing.T) {
	paused := &pausedPositions{entered: make(chan struct{}), resume: make(chan struct{})}
	f := newServiceFixtureWithPositions(t, nil, func(inner domain.PositionAccessor) domain.PositionAccessor {
		paused.PositionAccessor = inner
		return paused
	})
	f.enable(t)
	ctx := context.Background()

	type result struct {
		out *Outcome
		err error
	}
	first := make(chan result, 1)
	go func() {
		out, err := f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{Confirmed: true})
		first <- result{out, err}
	}()

	// The first run has passed the cooldown check and is reading state
	<-paused.entered

	_, err := f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{Confirmed: true})
	assert.ErrorIs(t, err, ErrExecutionInProgress)

	out, err := f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, out.Action)
	assert.Equal(t, SkipInProgress, out.Reason)

	close(paused.resume)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, ActionExecuted, res.out.Action)

	history, err := f.svc.Executions(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// The claim is released once the run finishes; the cooldown now applies
	_, err = f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{Confirmed: true})
	assert.ErrorIs(t, err, ErrCooldownActive)
}

func TestService_EvaluateSkipsDisabled(t *testing.T) {
	f := newServiceFixture(t, nil)

	out, err := f.svc.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, out.Action)
	assert.Equal(t, SkipDisabled, out.Reason)
	assert.Empty(t, f.aave.Calls())
}

func TestService_EvaluateNotNeededWithinBounds(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.aave.SetDeposited(520)
	f.compound.SetDeposited(480)
	f.enable(t)

	out, err := f.svc.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionNotNeeded, out.Action)
	assert.Equal(t, ReasonWithinBounds, out.Reason)
}

func TestService_ManualRunRequiresConfirmation(t *testing.T) {
	f := newServiceFixture(t, func(p *trading.Policy) {
		p.ConfirmationThreshold = 100
	})
	ctx := context.Background()

	out, err := f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	require.NotNil(t, out)
	assert.Equal(t, ActionAwaitingApproval, out.Action)
	assert.True(t, out.Verdict.RequiresConfirmation)
	assert.Empty(t, f.aave.Calls())

	out, err = f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, ActionExecuted, out.Action)
	assert.Equal(t, TriggerManual, out.Execution.Trigger)
}

func TestService_AutomatedRunSkipsMultiSig(t *testing.T) {
	f := newServiceFixture(t, func(p *trading.Policy) {
		p.ConfirmationThreshold = 100
		p.MultiSigThreshold = 150
	})
	f.enable(t)

	out, err := f.svc.Evaluate(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionAwaitingApproval, out.Action)
	assert.Nil(t, out.Execution)
	assert.Empty(t, f.aave.Calls())
	assert.Contains(t, f.alertCategories(t), risk.CategoryApprovalRequired)
}

func TestService_BlockedRunRaisesAlert(t *testing.T) {
	f := newServiceFixture(t, func(p *trading.Policy) {
		delete(p.Contracts, "0xcompound")
	})
	f.enable(t)
	ctx := context.Background()

	out, err := f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, ActionBlocked, out.Action)
	assert.False(t, out.Verdict.Approved)
	assert.Empty(t, f.aave.Calls())

	history, err := f.svc.Executions(ctx, testUser, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.Contains(t, f.alertCategories(t), risk.CategorySecurityBlock)
	assert.Contains(t, f.recorder.types(), events.RebalanceBlocked)
}

func TestService_FailedRunRaisesCriticalAlert(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.compound.FailOn(simulated.OpDeposit, errors.New("reverted"))
	f.enable(t)
	ctx := context.Background()

	out, err := f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, ActionExecuted, out.Action)
	assert.Equal(t, StatusFailed, out.Execution.Status)

	alerts, err := f.alerts.Alerts(ctx, testUser, false)
	require.NoError(t, err)
	var failure *risk.Alert
	for i := range alerts {
		if alerts[i].Category == risk.CategoryExecutionFailure {
			failure = &alerts[i]
		}
	}
	require.NotNil(t, failure)
	assert.Equal(t, risk.SeverityCritical, failure.Severity)
	assert.True(t, failure.ActionRequired)
	assert.Contains(t, f.recorder.types(), events.RebalanceFailed)
}

func TestService_FailureEventRespectsNotifications(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.compound.FailOn(simulated.OpDeposit, errors.New("reverted"))
	f.enable(t)
	ctx := context.Background()

	_, err := f.svc.UpdateConfig(ctx, testUser, ConfigUpdate{
		Notifications: &Notifications{OnRebalance: true, OnRiskAlert: true, OnFailure: false},
	})
	require.NoError(t, err)

	_, err = f.svc.Evaluate(ctx, testUser)
	require.NoError(t, err)
	assert.NotContains(t, f.recorder.types(), events.RebalanceFailed)
	// The alert is raised regardless
	assert.Contains(t, f.alertCategories(t), risk.CategoryExecutionFailure)
}

func TestService_DataUnavailable(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.enable(t)
	f.vault.FailPositionReads(errors.New("rpc timeout"))
	ctx := context.Background()

	out, err := f.svc.Evaluate(ctx, testUser)
	var dataErr *DataUnavailableError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, []string{MissingPosition}, dataErr.Missing)
	assert.Equal(t, ActionSkipped, out.Action)
	assert.Empty(t, f.aave.Calls())

	_, err = f.svc.ExecuteNow(ctx, testUser, ExecuteOptions{Confirmed: true})
	assert.ErrorAs(t, err, &dataErr)

	report, err := f.svc.AssessRisk(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Contains(t, report.Missing, MissingPosition)
}

func TestService_Preview(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.enable(t)

	p, err := f.svc.Preview(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, p.Decision.Needed)
	assert.Equal(t, TriggerDrift, p.Decision.Trigger)
	require.NotNil(t, p.Verdict)
	assert.True(t, p.Verdict.Approved)
	assert.Empty(t, f.aave.Calls(), "preview must not execute")

	alerts, err := f.alerts.Alerts(context.Background(), testUser, true)
	require.NoError(t, err)
	assert.Empty(t, alerts, "preview must not raise alerts")
}
