package rebalancing

import (
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
)

// AllocationSnapshot maps each protocol to its share of vault assets, in percent
type AllocationSnapshot map[domain.ProtocolID]float64

// TransferInstruction is one planned withdraw or deposit
type TransferInstruction = domain.Transfer

// Trigger is why an execution started
type Trigger string

const (
	TriggerDrift  Trigger = "drift"
	TriggerRisk   Trigger = "risk"
	TriggerManual Trigger = "manual"
)

// Status is the execution state. It only moves forward:
// pending -> executing -> completed | failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is a forward transition
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusExecuting || next == StatusFailed
	case StatusExecuting:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// StepStatus is the state of one instruction within an execution
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is one instruction and its outcome
type Step struct {
	Instruction TransferInstruction `json:"instruction"`
	Status      StepStatus          `json:"status"`
	TxReference string              `json:"tx_reference,omitempty"`
	Cost        float64             `json:"cost"`
	AmountMoved float64             `json:"amount_moved,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// VerdictSummary is the part of the gate verdict kept with an execution
type VerdictSummary struct {
	Approved             bool `json:"approved"`
	SecurityScore        int  `json:"security_score"`
	RequiresConfirmation bool `json:"requires_confirmation"`
	RequiresMultiSig     bool `json:"requires_multisig"`
}

// SummarizeVerdict extracts the summary from a gate verdict
func SummarizeVerdict(v *trading.Verdict) *VerdictSummary {
	if v == nil {
		return nil
	}
	return &VerdictSummary{
		Approved:             v.Approved,
		SecurityScore:        v.SecurityScore,
		RequiresConfirmation: v.RequiresConfirmation,
		RequiresMultiSig:     v.RequiresMultiSig,
	}
}

// Execution is the audit record of one rebalance
type Execution struct {
	ID             string             `json:"id"`
	UserID         domain.UserID      `json:"user_id"`
	Timestamp      time.Time          `json:"timestamp"`
	Trigger        Trigger            `json:"trigger"`
	FromAllocation AllocationSnapshot `json:"from_allocation"`
	ToAllocation   AllocationSnapshot `json:"to_allocation"`
	Steps          []Step             `json:"steps"`
	Status         Status             `json:"status"`
	TotalCost      float64            `json:"total_cost"`
	Elapsed        time.Duration      `json:"elapsed"`
	Error          string             `json:"error,omitempty"`
	Verdict        *VerdictSummary    `json:"verdict,omitempty"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// Clone returns a deep copy
func (e Execution) Clone() Execution {
	out := e
	out.FromAllocation = cloneSnapshot(e.FromAllocation)
	out.ToAllocation = cloneSnapshot(e.ToAllocation)
	out.Steps = append([]Step(nil), e.Steps...)
	if e.Verdict != nil {
		v := *e.Verdict
		out.Verdict = &v
	}
	return out
}

func cloneSnapshot(s AllocationSnapshot) AllocationSnapshot {
	if s == nil {
		return nil
	}
	out := make(AllocationSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
