// Package trading provides the transaction security gate and the executed transaction log.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
)

// Transaction is one completed adapter call
type Transaction struct {
	ID          int64             `json:"id"`
	UserID      domain.UserID     `json:"user_id"`
	Protocol    domain.ProtocolID `json:"protocol"`
	Direction   domain.Direction  `json:"direction"`
	Amount      float64           `json:"amount"`
	TxReference string            `json:"tx_reference"`
	ExecutedAt  time.Time         `json:"executed_at"`
}

// Validate checks the transaction before it is recorded
func (t Transaction) Validate() error {
	if t.UserID == "" {
		return fmt.Errorf("user is required")
	}
	if t.Protocol == "" {
		return fmt.Errorf("protocol is required")
	}
	if t.Direction != domain.DirectionWithdraw && t.Direction != domain.DirectionDeposit {
		return fmt.Errorf("invalid direction: %q", t.Direction)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if t.ExecutedAt.IsZero() {
		return fmt.Errorf("executed_at is required")
	}
	return nil
}

// TransactionLog records executed transactions per user
type TransactionLog interface {
	Record(ctx context.Context, tx Transaction) error
	// Since returns the user's transactions executed at or after since, newest first
	Since(ctx context.Context, user domain.UserID, since time.Time) ([]Transaction, error)
}
