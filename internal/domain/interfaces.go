package domain

import "context"

// ProtocolAdapter is the narrow capability interface the engine uses to talk to one
// yield protocol integration. Implementations live outside the engine.
type ProtocolAdapter interface {
	// ID returns the protocol this adapter wraps
	ID() ProtocolID

	// ReportDeposited returns the assets currently held by this adapter
	ReportDeposited(ctx context.Context) (float64, error)

	// Withdraw moves amount out of the protocol back into the vault
	Withdraw(ctx context.Context, amount float64) (*TxResult, error)

	// Deposit moves amount from the vault into the protocol
	Deposit(ctx context.Context, amount float64) (*TxResult, error)

	// IsHealthy reports whether the protocol currently accepts operations
	IsHealthy(ctx context.Context) bool
}

// VaultAccessor provides vault-level totals
type VaultAccessor interface {
	TotalAssets(ctx context.Context) (float64, error)
	TotalShares(ctx context.Context) (float64, error)
}

// PositionAccessor provides a single user's position in the vault
type PositionAccessor interface {
	Position(ctx context.Context, user UserID) (*UserPosition, error)
}
