package di

import (
	"fmt"

	"github.com/aristath/vaultkeeper/internal/clients/simulated"
	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
)

// simulatedProtocol describes one in-process protocol integration
type simulatedProtocol struct {
	info      domain.ProtocolInfo
	deposited float64
	trust     trading.ContractTrust
}

// DemoUser is the position seeded in dev mode
const DemoUser domain.UserID = "0x00000000000000000000000000000000000000d3"

var simulatedProtocols = []simulatedProtocol{
	{
		info:      domain.ProtocolInfo{ID: "aave", Name: "Aave", ContractAddress: "0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2"},
		deposited: 400000,
		trust:     trading.ContractTrusted,
	},
	{
		info:      domain.ProtocolInfo{ID: "compound", Name: "Compound", ContractAddress: "0xc3d688b66703497daa19211eedff47f25384cdc3"},
		deposited: 300000,
		trust:     trading.ContractTrusted,
	},
	{
		info:      domain.ProtocolInfo{ID: "yearn", Name: "Yearn", ContractAddress: "0xa354f35829ae975e850e23e9615b11da1b3dc4de", HighComplexity: true},
		deposited: 200000,
		trust:     trading.ContractVerified,
	},
	{
		info:      domain.ProtocolInfo{ID: "curve", Name: "Curve", ContractAddress: "0xbebc44782c7db0a1a60cb6fe97d0b483032ff1c7", HighComplexity: true},
		deposited: 100000,
		trust:     trading.ContractVerified,
	},
}

// InitializeProtocols builds the simulated adapters, the vault over them and
// the protocol registry, and allow-lists their contracts on the policy.
func InitializeProtocols(container *Container, policy *trading.Policy, devMode bool) error {
	protocols := make([]domain.Protocol, 0, len(simulatedProtocols))
	adapters := make([]domain.ProtocolAdapter, 0, len(simulatedProtocols))
	total := 0.0

	for _, sp := range simulatedProtocols {
		adapter := simulated.NewAdapter(sp.info.ID, sp.deposited)
		container.Adapters = append(container.Adapters, adapter)
		adapters = append(adapters, adapter)
		protocols = append(protocols, domain.Protocol{Info: sp.info, Adapter: adapter})
		total += sp.deposited

		if _, known := policy.Contracts[sp.info.ContractAddress]; !known {
			policy.AllowContract(sp.info.ContractAddress, sp.trust)
		}
	}

	registry, err := domain.NewRegistry(protocols...)
	if err != nil {
		return fmt.Errorf("failed to build protocol registry: %w", err)
	}
	container.Registry = registry

	// One share per unit of assets at start
	container.Vault = simulated.NewVault(total, adapters...)
	if devMode {
		container.Vault.SetPosition(DemoUser, domain.UserPosition{
			Balance:   50000,
			Principal: 48000,
			Shares:    50000,
		})
	}
	return nil
}
