package simulated

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/vaultkeeper/internal/domain"
)

// ErrPositionNotFound is returned for users without a vault position
var ErrPositionNotFound = errors.New("position not found")

// Vault implements domain.VaultAccessor and domain.PositionAccessor.
// Total assets are the sum of what the adapters report.
type Vault struct {
	mu          sync.RWMutex
	adapters    []domain.ProtocolAdapter
	totalShares float64
	positions   map[domain.UserID]domain.UserPosition
	positionErr error
}

// NewVault creates a vault over the given adapters
func NewVault(totalShares float64, adapters ...domain.ProtocolAdapter) *Vault {
	return &Vault{
		adapters:    adapters,
		totalShares: totalShares,
		positions:   make(map[domain.UserID]domain.UserPosition),
	}
}

// SetPosition stores a user's position
func (v *Vault) SetPosition(user domain.UserID, pos domain.UserPosition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions[user] = pos
}

// SetTotalShares overwrites the vault's share supply
func (v *Vault) SetTotalShares(shares float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalShares = shares
}

// FailPositionReads makes every Position call return err (nil clears it)
func (v *Vault) FailPositionReads(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positionErr = err
}

// TotalAssets implements domain.VaultAccessor
func (v *Vault) TotalAssets(ctx context.Context) (float64, error) {
	v.mu.RLock()
	adapters := v.adapters
	v.mu.RUnlock()

	total := 0.0
	for _, a := range adapters {
		amount, err := a.ReportDeposited(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to read deposits for %s: %w", a.ID(), err)
		}
		total += amount
	}
	return total, nil
}

// TotalShares implements domain.VaultAccessor
func (v *Vault) TotalShares(ctx context.Context) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalShares, nil
}

// Position implements domain.PositionAccessor
func (v *Vault) Position(ctx context.Context, user domain.UserID) (*domain.UserPosition, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.positionErr != nil {
		return nil, v.positionErr
	}
	pos, ok := v.positions[user]
	if !ok {
		return nil, fmt.Errorf("%s: %w", user, ErrPositionNotFound)
	}
	return &pos, nil
}
