package rebalancing

import (
	"math"
	"sort"

	"github.com/aristath/vaultkeeper/internal/domain"
)

// Decision reasons
const (
	ReasonDrift          = "drift"
	ReasonRisk           = "risk"
	ReasonManual         = "manual"
	ReasonWithinBounds   = "within_bounds"
	ReasonNoInstructions = "no_instructions"
	ReasonBelowMinimum   = "below_minimum"
)

// PlannerConfig holds the planning knobs
type PlannerConfig struct {
	// NoiseFloorPercent is the drift at or below which no instruction is emitted
	NoiseFloorPercent  float64
	CostPerInstruction float64
}

// DefaultPlannerConfig returns the standard planning knobs
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		NoiseFloorPercent:  1,
		CostPerInstruction: 2.5,
	}
}

// Decision is the planner's answer for one evaluation
type Decision struct {
	Needed        bool                  `json:"needed"`
	Trigger       Trigger               `json:"trigger,omitempty"`
	Reason        string                `json:"reason"`
	MaxDrift      float64               `json:"max_drift"`
	RiskScore     int                   `json:"risk_score"`
	Instructions  []TransferInstruction `json:"instructions"`
	GrossAmount   float64               `json:"gross_amount"`
	EstimatedCost float64               `json:"estimated_cost"`
}

// Planner decides whether to rebalance and plans the transfers
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner creates a new planner
func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.NoiseFloorPercent <= 0 {
		cfg.NoiseFloorPercent = DefaultPlannerConfig().NoiseFloorPercent
	}
	return &Planner{cfg: cfg}
}

// MaxDrift returns the largest |current - target| over the target protocols.
// A protocol missing from current counts as zero.
func MaxDrift(current, target AllocationSnapshot) float64 {
	maxDrift := 0.0
	for id, want := range target {
		if d := math.Abs(current[id] - want); d > maxDrift {
			maxDrift = d
		}
	}
	return maxDrift
}

// Decide checks drift first, then the risk score. A manual trigger always plans.
func (p *Planner) Decide(cfg Config, current AllocationSnapshot, riskScore int, portfolioValue float64, trigger Trigger) Decision {
	d := Decision{
		MaxDrift:     MaxDrift(current, cfg.TargetAllocation),
		RiskScore:    riskScore,
		Instructions: []TransferInstruction{},
	}

	switch {
	case trigger == TriggerManual:
		d.Trigger, d.Reason = TriggerManual, ReasonManual
	case d.MaxDrift > cfg.DriftThresholdPercent:
		d.Trigger, d.Reason = TriggerDrift, ReasonDrift
	case float64(riskScore) > cfg.RiskLimits.MaxRiskScore:
		d.Trigger, d.Reason = TriggerRisk, ReasonRisk
	default:
		d.Reason = ReasonWithinBounds
		return d
	}

	d.Instructions = p.Plan(current, cfg.TargetAllocation, portfolioValue)
	if len(d.Instructions) == 0 {
		d.Reason = ReasonNoInstructions
		return d
	}

	d.GrossAmount = domain.GrossAmount(d.Instructions)
	d.EstimatedCost = p.EstimateCost(d.Instructions)
	if d.GrossAmount < cfg.MinRebalanceAmount {
		d.Reason = ReasonBelowMinimum
		return d
	}

	d.Needed = true
	return d
}

// Plan emits one instruction per protocol whose drift exceeds the noise floor,
// over the union of current and target protocols, in execution order.
func (p *Planner) Plan(current, target AllocationSnapshot, portfolioValue float64) []TransferInstruction {
	ids := make(map[domain.ProtocolID]bool, len(current)+len(target))
	for id := range current {
		ids[id] = true
	}
	for id := range target {
		ids[id] = true
	}

	out := []TransferInstruction{}
	for id := range ids {
		diff := target[id] - current[id]
		if math.Abs(diff) <= p.cfg.NoiseFloorPercent {
			continue
		}
		direction := domain.DirectionDeposit
		if diff < 0 {
			direction = domain.DirectionWithdraw
		}
		out = append(out, TransferInstruction{
			Protocol:  id,
			Direction: direction,
			Amount:    math.Abs(diff) * portfolioValue / 100,
		})
	}
	return OrderForExecution(out)
}

// OrderForExecution puts every withdraw before any deposit. Within a group,
// larger amounts go first; ties are broken by protocol ID.
func OrderForExecution(instructions []TransferInstruction) []TransferInstruction {
	out := append([]TransferInstruction(nil), instructions...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Direction != b.Direction {
			return a.Direction == domain.DirectionWithdraw
		}
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.Protocol < b.Protocol
	})
	return out
}

// EstimateCost returns the expected execution cost of the instructions
func (p *Planner) EstimateCost(instructions []TransferInstruction) float64 {
	return float64(len(instructions)) * p.cfg.CostPerInstruction
}
