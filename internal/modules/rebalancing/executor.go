package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultAdapterTimeout bounds a single adapter call
const DefaultAdapterTimeout = 30 * time.Second

// errAdapterUnhealthy fails a step whose adapter reports unhealthy
var errAdapterUnhealthy = errors.New("adapter unhealthy")

// ExecutionRequest is everything the executor needs to run one rebalance
type ExecutionRequest struct {
	UserID             domain.UserID
	Trigger            Trigger
	From               AllocationSnapshot
	To                 AllocationSnapshot
	Instructions       []TransferInstruction
	MaxSlippagePercent float64
	Verdict            *trading.Verdict
}

// Executor runs planned instructions against the protocol adapters and keeps
// the execution record current in the store after every step.
type Executor struct {
	registry *domain.Registry
	store    ExecutionStore
	txLog    trading.TransactionLog
	metrics  *metrics.Metrics
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inFlight map[domain.UserID]bool
}

// NewExecutor creates an executor. A zero timeout uses DefaultAdapterTimeout.
func NewExecutor(
	registry *domain.Registry,
	store ExecutionStore,
	txLog trading.TransactionLog,
	m *metrics.Metrics,
	timeout time.Duration,
	log zerolog.Logger,
) *Executor {
	if timeout <= 0 {
		timeout = DefaultAdapterTimeout
	}
	return &Executor{
		registry: registry,
		store:    store,
		txLog:    txLog,
		metrics:  m,
		timeout:  timeout,
		log:      log.With().Str("service", "rebalance_executor").Logger(),
		now:      time.Now,
		inFlight: make(map[domain.UserID]bool),
	}
}

// InFlight reports whether the user's execution slot is held
func (e *Executor) InFlight(user domain.UserID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[user]
}

// TryAcquire claims the user's execution slot. Callers that need to read
// history or state before executing hold the claim across those reads and
// then run through executeClaimed.
func (e *Executor) TryAcquire(user domain.UserID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[user] {
		return false
	}
	e.inFlight[user] = true
	return true
}

// Release frees a slot taken by TryAcquire
func (e *Executor) Release(user domain.UserID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, user)
}

// Execute runs the request to a terminal state and returns the final record.
// A step failure is reported through the record (StatusFailed), not the error;
// the error is reserved for the in-flight guard and store failures. A record
// that could not be started is returned as StatusFailed together with the error.
//
// Once the record is Executing the caller's context no longer cancels anything:
// adapter calls run on a detached context bounded only by the adapter timeout.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (*Execution, error) {
	if !e.TryAcquire(req.UserID) {
		return nil, ErrExecutionInProgress
	}
	defer e.Release(req.UserID)

	return e.executeClaimed(ctx, req)
}

// executeClaimed is Execute for a caller already holding the user's slot
func (e *Executor) executeClaimed(ctx context.Context, req ExecutionRequest) (*Execution, error) {
	instructions := OrderForExecution(req.Instructions)
	started := e.now()
	exec := Execution{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Timestamp:      started,
		Trigger:        req.Trigger,
		FromAllocation: cloneSnapshot(req.From),
		ToAllocation:   cloneSnapshot(req.To),
		Steps:          make([]Step, len(instructions)),
		Status:         StatusPending,
		Verdict:        SummarizeVerdict(req.Verdict),
	}
	for i, instr := range instructions {
		exec.Steps[i] = Step{Instruction: instr, Status: StepPending}
	}

	if err := e.store.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	log := e.log.With().
		Str("execution_id", exec.ID).
		Str("user", string(req.UserID)).
		Str("trigger", string(req.Trigger)).
		Logger()

	runCtx := context.WithoutCancel(ctx)

	exec.Status = StatusExecuting
	if err := e.store.Update(runCtx, exec); err != nil {
		return e.abandon(runCtx, exec, started, fmt.Errorf("failed to mark execution %s executing: %w", exec.ID, err))
	}
	log.Info().Int("steps", len(exec.Steps)).Msg("Rebalance execution started")

	var failure error
	for i := range exec.Steps {
		step := &exec.Steps[i]
		if failure != nil {
			step.Status = StepSkipped
			continue
		}

		if err := e.runStep(runCtx, req, step); err != nil {
			failure = fmt.Errorf("step %d (%s %s): %w", i+1, step.Instruction.Direction, step.Instruction.Protocol, err)
			log.Error().Err(err).
				Int("step", i+1).
				Str("protocol", string(step.Instruction.Protocol)).
				Str("direction", string(step.Instruction.Direction)).
				Float64("amount", step.Instruction.Amount).
				Msg("Rebalance step failed")
		}
		exec.TotalCost += step.Cost

		if failure == nil {
			if err := e.store.Update(runCtx, exec); err != nil {
				log.Warn().Err(err).Int("step", i+1).Msg("Failed to persist step progress")
			}
		}
	}

	finished := e.now()
	exec.Elapsed = finished.Sub(started)
	exec.FinishedAt = &finished
	if failure != nil {
		exec.Status = StatusFailed
		exec.Error = failure.Error()
	} else {
		exec.Status = StatusCompleted
	}

	if err := e.store.Update(runCtx, exec); err != nil {
		return &exec, fmt.Errorf("failed to finalize execution %s: %w", exec.ID, err)
	}

	e.metrics.RecordExecution(string(exec.Trigger), string(exec.Status))
	log.Info().
		Str("status", string(exec.Status)).
		Float64("total_cost", exec.TotalCost).
		Dur("elapsed", exec.Elapsed).
		Msg("Rebalance execution finished")

	return &exec, nil
}

// abandon finalizes a record that never started as Failed with every step
// skipped, so history explains the attempt instead of holding a pending stub.
func (e *Executor) abandon(ctx context.Context, exec Execution, started time.Time, cause error) (*Execution, error) {
	finished := e.now()
	exec.Status = StatusFailed
	exec.Error = cause.Error()
	exec.Elapsed = finished.Sub(started)
	exec.FinishedAt = &finished
	for i := range exec.Steps {
		exec.Steps[i].Status = StepSkipped
	}

	if err := e.store.Update(ctx, exec); err != nil {
		e.log.Error().Err(err).Str("execution_id", exec.ID).Msg("Failed to finalize abandoned execution")
		return &exec, fmt.Errorf("%w (finalize: %v)", cause, err)
	}
	e.metrics.RecordExecution(string(exec.Trigger), string(exec.Status))
	return &exec, cause
}

func (e *Executor) runStep(ctx context.Context, req ExecutionRequest, step *Step) error {
	startedAt := e.now()
	step.StartedAt = &startedAt
	defer func() {
		finishedAt := e.now()
		step.FinishedAt = &finishedAt
	}()

	instr := step.Instruction
	proto, ok := e.registry.Get(instr.Protocol)
	if !ok {
		step.Status = StepFailed
		step.Error = "unknown protocol"
		return fmt.Errorf("unknown protocol %s", instr.Protocol)
	}

	if !proto.Adapter.IsHealthy(ctx) {
		step.Status = StepFailed
		step.Error = errAdapterUnhealthy.Error()
		return errAdapterUnhealthy
	}

	callStart := time.Now()
	res, err := e.call(ctx, proto.Adapter, instr)
	e.metrics.RecordAdapterCall(string(instr.Protocol), string(instr.Direction), err == nil, time.Since(callStart))
	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		return err
	}

	step.TxReference = res.TxReference
	step.Cost = res.CostUsed
	step.AmountMoved = res.AmountMoved

	if e.txLog != nil {
		moved := instr.Amount
		if res.AmountMoved > 0 {
			moved = res.AmountMoved
		}
		tx := trading.Transaction{
			UserID:      req.UserID,
			Protocol:    instr.Protocol,
			Direction:   instr.Direction,
			Amount:      moved,
			TxReference: res.TxReference,
			ExecutedAt:  e.now(),
		}
		if err := e.txLog.Record(ctx, tx); err != nil {
			e.log.Warn().Err(err).Str("tx_reference", res.TxReference).Msg("Failed to record transaction")
		}
	}

	if dev := slippagePercent(instr.Amount, res.AmountMoved); dev > req.MaxSlippagePercent {
		step.Status = StepFailed
		step.Error = fmt.Sprintf("slippage %.2f%% exceeds %.2f%%", dev, req.MaxSlippagePercent)
		return fmt.Errorf("slippage %.2f%% exceeds limit %.2f%%", dev, req.MaxSlippagePercent)
	}

	step.Status = StepCompleted
	return nil
}

// call invokes the adapter under the adapter timeout. An adapter that ignores
// its context still cannot hold the step past the deadline.
func (e *Executor) call(ctx context.Context, adapter domain.ProtocolAdapter, instr TransferInstruction) (*domain.TxResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		res *domain.TxResult
		err error
	}
	done := make(chan result, 1)

	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("adapter panic: %v", p)}
			}
			done <- r
		}()
		if instr.Direction == domain.DirectionWithdraw {
			r.res, r.err = adapter.Withdraw(callCtx, instr.Amount)
		} else {
			r.res, r.err = adapter.Deposit(callCtx, instr.Amount)
		}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.res == nil || !r.res.Success {
			return nil, fmt.Errorf("%s %s was not successful", instr.Protocol, instr.Direction)
		}
		return r.res, nil
	case <-callCtx.Done():
		return nil, fmt.Errorf("adapter call timed out after %s: %w", e.timeout, callCtx.Err())
	}
}

// slippagePercent is how far the moved amount strays from the requested one.
// Adapters that do not report a moved amount have zero slippage.
func slippagePercent(requested, moved float64) float64 {
	if moved <= 0 || requested <= 0 {
		return 0
	}
	return math.Abs(requested-moved) / requested * 100
}
