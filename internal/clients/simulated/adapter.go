// Package simulated provides in-process protocol adapters and a vault used in dev mode
// and tests. Faults are injected explicitly through FaultFunc rather than at random.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
)

// Operation names an adapter call that can be faulted
type Operation string

const (
	OpReport   Operation = "report"
	OpWithdraw Operation = "withdraw"
	OpDeposit  Operation = "deposit"
)

// ErrInsufficientDeposits is returned when a withdraw exceeds the adapter balance
var ErrInsufficientDeposits = errors.New("insufficient deposits")

// FaultFunc is consulted before every call. A non-nil error fails the call.
type FaultFunc func(op Operation, amount float64) error

// Call records one adapter invocation
type Call struct {
	Op     Operation
	Amount float64
	At     time.Time
}

// Adapter implements domain.ProtocolAdapter over an in-memory balance
type Adapter struct {
	id          domain.ProtocolID
	mu          sync.Mutex
	deposited   float64
	healthy     bool
	latency     time.Duration
	costPerCall float64
	slippagePct float64
	fault       FaultFunc
	calls       []Call
	seq         int
}

// NewAdapter creates a healthy adapter holding the given deposits
func NewAdapter(id domain.ProtocolID, deposited float64) *Adapter {
	return &Adapter{
		id:          id,
		deposited:   deposited,
		healthy:     true,
		costPerCall: 2.5,
	}
}

// SetFault installs the fault injection hook (nil clears it)
func (a *Adapter) SetFault(f FaultFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fault = f
}

// FailOn fails every call of the given operation with err
func (a *Adapter) FailOn(op Operation, err error) {
	a.SetFault(func(o Operation, _ float64) error {
		if o == op {
			return err
		}
		return nil
	})
}

// SetHealthy toggles the health flag
func (a *Adapter) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

// SetLatency delays every withdraw/deposit call
func (a *Adapter) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

// SetCostPerCall sets the cost reported for each successful call
func (a *Adapter) SetCostPerCall(cost float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.costPerCall = cost
}

// SetSlippage makes each call move pct percent less than requested
func (a *Adapter) SetSlippage(pct float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slippagePct = pct
}

// SetDeposited overwrites the held balance
func (a *Adapter) SetDeposited(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deposited = amount
}

// Calls returns a copy of the recorded calls
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// ID implements domain.ProtocolAdapter
func (a *Adapter) ID() domain.ProtocolID {
	return a.id
}

// ReportDeposited implements domain.ProtocolAdapter
func (a *Adapter) ReportDeposited(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.injected(OpReport, 0); err != nil {
		return 0, err
	}
	return a.deposited, nil
}

// IsHealthy implements domain.ProtocolAdapter
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthy
}

// Withdraw implements domain.ProtocolAdapter
func (a *Adapter) Withdraw(ctx context.Context, amount float64) (*domain.TxResult, error) {
	return a.move(ctx, OpWithdraw, amount)
}

// Deposit implements domain.ProtocolAdapter
func (a *Adapter) Deposit(ctx context.Context, amount float64) (*domain.TxResult, error) {
	return a.move(ctx, OpDeposit, amount)
}

func (a *Adapter) move(ctx context.Context, op Operation, amount float64) (*domain.TxResult, error) {
	a.mu.Lock()
	latency := a.latency
	a.calls = append(a.calls, Call{Op: op, Amount: amount, At: time.Now()})
	a.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injected(op, amount); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%s %s: amount must be positive", a.id, op)
	}

	moved := amount * (1 - a.slippagePct/100)
	switch op {
	case OpWithdraw:
		if moved > a.deposited {
			return nil, fmt.Errorf("%s withdraw %.2f: %w", a.id, amount, ErrInsufficientDeposits)
		}
		a.deposited -= moved
	case OpDeposit:
		a.deposited += moved
	}

	a.seq++
	return &domain.TxResult{
		Success:     true,
		TxReference: fmt.Sprintf("%s-%s-%06d", a.id, op, a.seq),
		CostUsed:    a.costPerCall,
		AmountMoved: moved,
	}, nil
}

// injected must be called with a.mu held
func (a *Adapter) injected(op Operation, amount float64) error {
	if a.fault == nil {
		return nil
	}
	return a.fault(op, amount)
}
