// Package domain provides the core types shared by the rebalancing, risk and trading modules.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// UserID identifies a vault user by wallet address
type UserID string

// ProtocolID identifies a yield protocol integration (e.g. "aave", "compound")
type ProtocolID string

// NormalizeUserID lower-cases and trims a wallet address so that lookups keyed by
// address are case-insensitive.
func NormalizeUserID(raw string) UserID {
	return UserID(strings.ToLower(strings.TrimSpace(raw)))
}

// Direction is the side of a transfer between the vault and a protocol
type Direction string

const (
	DirectionWithdraw Direction = "withdraw"
	DirectionDeposit  Direction = "deposit"
)

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	if d == DirectionWithdraw {
		return DirectionDeposit
	}
	return DirectionWithdraw
}

// Transfer moves Amount between the vault and one protocol. It is a value type.
type Transfer struct {
	Protocol  ProtocolID `json:"protocol" msgpack:"protocol"`
	Direction Direction  `json:"direction" msgpack:"direction"`
	Amount    float64    `json:"amount" msgpack:"amount"`
}

// GrossAmount returns the value a transfer set moves: the larger of the
// withdrawn and the deposited totals.
func GrossAmount(transfers []Transfer) float64 {
	var withdrawn, deposited float64
	for _, t := range transfers {
		if t.Direction == DirectionWithdraw {
			withdrawn += t.Amount
		} else {
			deposited += t.Amount
		}
	}
	if withdrawn > deposited {
		return withdrawn
	}
	return deposited
}

// TxResult is what an adapter returns for a successful withdraw or deposit call
type TxResult struct {
	Success     bool    `json:"success"`
	TxReference string  `json:"tx_reference"`
	CostUsed    float64 `json:"cost_used"`
	// AmountMoved is the amount the protocol actually moved. Zero means "not reported"
	AmountMoved float64 `json:"amount_moved,omitempty"`
}

// UserPosition is a user's stake in the shared vault
type UserPosition struct {
	Balance   float64 `json:"balance"`   // current value of the user's shares
	Principal float64 `json:"principal"` // net amount the user deposited
	Shares    float64 `json:"shares"`
}

// ProtocolInfo is static metadata about a registered protocol
type ProtocolInfo struct {
	ID              ProtocolID `json:"id"`
	Name            string     `json:"name"`
	ContractAddress string     `json:"contract_address"`
	HighComplexity  bool       `json:"high_complexity"`
}

// Protocol pairs an adapter with its metadata
type Protocol struct {
	Info    ProtocolInfo
	Adapter ProtocolAdapter
}

// Registry holds the protocols known to the engine. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	protocols map[ProtocolID]Protocol
	order     []ProtocolID
}

// NewRegistry creates a registry from the given protocols.
// Duplicate IDs are rejected.
func NewRegistry(protocols ...Protocol) (*Registry, error) {
	r := &Registry{protocols: make(map[ProtocolID]Protocol, len(protocols))}
	for _, p := range protocols {
		if p.Adapter == nil {
			return nil, fmt.Errorf("protocol %s has no adapter", p.Info.ID)
		}
		if p.Info.ID == "" {
			p.Info.ID = p.Adapter.ID()
		}
		if _, exists := r.protocols[p.Info.ID]; exists {
			return nil, fmt.Errorf("duplicate protocol id: %s", p.Info.ID)
		}
		r.protocols[p.Info.ID] = p
		r.order = append(r.order, p.Info.ID)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })
	return r, nil
}

// Get returns the protocol with the given ID
func (r *Registry) Get(id ProtocolID) (Protocol, bool) {
	p, ok := r.protocols[id]
	return p, ok
}

// IDs returns all registered protocol IDs in sorted order
func (r *Registry) IDs() []ProtocolID {
	ids := make([]ProtocolID, len(r.order))
	copy(ids, r.order)
	return ids
}

// Len returns the number of registered protocols
func (r *Registry) Len() int {
	return len(r.order)
}

// HighComplexity returns the set of protocols flagged as high-complexity
func (r *Registry) HighComplexity() map[ProtocolID]bool {
	set := make(map[ProtocolID]bool)
	for id, p := range r.protocols {
		if p.Info.HighComplexity {
			set[id] = true
		}
	}
	return set
}
