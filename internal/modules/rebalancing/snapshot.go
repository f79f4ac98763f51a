package rebalancing

import (
	"context"
	"fmt"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/rs/zerolog"
)

// Names of inputs a snapshot can be missing
const (
	MissingPosition    = "position"
	MissingTotalAssets = "total_assets"
	MissingTotalShares = "total_shares"
)

// Snapshot is a user's state read at the start of an evaluation. It is never persisted.
type Snapshot struct {
	UserID         domain.UserID                 `json:"user_id"`
	Allocation     AllocationSnapshot            `json:"allocation"`
	Exposure       map[domain.ProtocolID]float64 `json:"exposure"`
	TotalAssets    float64                       `json:"total_assets"`
	TotalShares    float64                       `json:"total_shares"`
	Position       domain.UserPosition           `json:"position"`
	PortfolioValue float64                       `json:"portfolio_value"`
	Unhealthy      []domain.ProtocolID           `json:"unhealthy,omitempty"`
	Missing        []string                      `json:"missing,omitempty"`
}

// Complete reports whether every input was read
func (s *Snapshot) Complete() bool {
	return len(s.Missing) == 0
}

// RiskInput converts the snapshot into calculator input
func (s *Snapshot) RiskInput(highComplexity map[domain.ProtocolID]bool) risk.Input {
	return risk.Input{
		PortfolioValue: s.PortfolioValue,
		Principal:      s.Position.Principal,
		UserShares:     s.Position.Shares,
		TotalShares:    s.TotalShares,
		TotalValue:     s.TotalAssets,
		Exposure:       s.Exposure,
		HighComplexity: highComplexity,
		Unhealthy:      s.Unhealthy,
		Missing:        s.Missing,
	}
}

// SnapshotCollector reads allocation and position state from the adapters and the vault
type SnapshotCollector struct {
	registry  *domain.Registry
	vault     domain.VaultAccessor
	positions domain.PositionAccessor
	log       zerolog.Logger
}

// NewSnapshotCollector creates a new snapshot collector
func NewSnapshotCollector(registry *domain.Registry, vault domain.VaultAccessor, positions domain.PositionAccessor, log zerolog.Logger) *SnapshotCollector {
	return &SnapshotCollector{
		registry:  registry,
		vault:     vault,
		positions: positions,
		log:       log.With().Str("service", "snapshot_collector").Logger(),
	}
}

// Collect never fails. Inputs it cannot read are listed in Missing and left
// at zero so callers decide whether partial data is acceptable.
func (c *SnapshotCollector) Collect(ctx context.Context, user domain.UserID) *Snapshot {
	snap := &Snapshot{
		UserID:     user,
		Allocation: AllocationSnapshot{},
		Exposure:   make(map[domain.ProtocolID]float64, c.registry.Len()),
	}

	reported := 0.0
	for _, id := range c.registry.IDs() {
		proto, _ := c.registry.Get(id)
		if !proto.Adapter.IsHealthy(ctx) {
			snap.Unhealthy = append(snap.Unhealthy, id)
		}
		amount, err := proto.Adapter.ReportDeposited(ctx)
		if err != nil {
			c.log.Warn().Err(err).Str("protocol", string(id)).Msg("Failed to read protocol deposits")
			snap.Missing = append(snap.Missing, protocolInput(id))
			continue
		}
		snap.Exposure[id] = amount
		reported += amount
	}

	total, err := c.vault.TotalAssets(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read vault total assets")
		snap.Missing = append(snap.Missing, MissingTotalAssets)
		total = reported
	}
	snap.TotalAssets = total

	if total > 0 {
		for id, amount := range snap.Exposure {
			snap.Allocation[id] = amount / total * 100
		}
	}

	shares, err := c.vault.TotalShares(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read vault total shares")
		snap.Missing = append(snap.Missing, MissingTotalShares)
	}
	snap.TotalShares = shares

	pos, err := c.positions.Position(ctx, user)
	if err != nil {
		c.log.Warn().Err(err).Str("user", string(user)).Msg("Failed to read user position")
		snap.Missing = append(snap.Missing, MissingPosition)
	} else if pos != nil {
		snap.Position = *pos
		snap.PortfolioValue = pos.Balance
		if snap.PortfolioValue == 0 && snap.TotalShares > 0 {
			snap.PortfolioValue = pos.Shares / snap.TotalShares * snap.TotalAssets
		}
	}

	return snap
}

func protocolInput(id domain.ProtocolID) string {
	return fmt.Sprintf("protocol:%s", id)
}
