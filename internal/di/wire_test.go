package di

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/vaultkeeper/internal/clients/simulated"
	"github.com/aristath/vaultkeeper/internal/config"
	"github.com/aristath/vaultkeeper/internal/modules/trading"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:      t.TempDir(),
		Port:         8080,
		DevMode:      true,
		StoreBackend: backend,
		Monitor: config.MonitorConfig{
			Interval:       time.Minute,
			Workers:        2,
			AdapterTimeout: time.Second,
		},
		Alerts: config.AlertConfig{
			EscalationDelay:    time.Hour,
			EscalationSchedule: "@every 1m",
		},
	}
}

func TestWire_Backends(t *testing.T) {
	for _, backend := range []string{config.StoreMemory, config.StoreSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)

			container, err := Wire(cfg, zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = container.Close() })

			assert.Equal(t, 4, container.Registry.Len())
			assert.Len(t, container.Adapters, 4)
			assert.NotNil(t, container.RebalancingService)
			assert.NotNil(t, container.Monitor)
			assert.Contains(t, container.Scheduler.Jobs(), "alert_escalation")

			if backend == config.StoreMemory {
				assert.Nil(t, container.DB)
			} else {
				require.NotNil(t, container.DB)
				_, statErr := os.Stat(cfg.DatabasePath())
				assert.NoError(t, statErr)
			}

			ctx := context.Background()
			rc, err := container.RebalancingService.GetConfig(ctx, DemoUser)
			require.NoError(t, err)
			assert.False(t, rc.Enabled)
			assert.Len(t, rc.TargetAllocation, 4)

			report, err := container.RebalancingService.AssessRisk(ctx, DemoUser)
			require.NoError(t, err)
			assert.False(t, report.Degraded)
			assert.Equal(t, DemoUser, report.UserID)
		})
	}
}

func TestWire_InvalidEscalationSchedule(t *testing.T) {
	cfg := testConfig(t, config.StoreMemory)
	cfg.Alerts.EscalationSchedule = "not a schedule"

	_, err := Wire(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alert escalation")
}

func TestSecurityPolicy_Overrides(t *testing.T) {
	defaults := trading.DefaultPolicy()

	policy := SecurityPolicy(config.SecurityConfig{
		DailyLimit:       1000,
		TrustedContracts: []string{" 0xABCDEF "},
	})

	assert.Equal(t, 1000.0, policy.DailyLimit)
	assert.Equal(t, defaults.SingleTransactionLimit, policy.SingleTransactionLimit)
	assert.Equal(t, defaults.MaxTransactionsPerHour, policy.MaxTransactionsPerHour)
	assert.Equal(t, trading.ContractTrusted, policy.Contracts["0xabcdef"])
}

func TestInitializeProtocols_KeepsConfiguredTrust(t *testing.T) {
	policy := trading.DefaultPolicy()
	yearn := simulatedProtocols[2].info.ContractAddress
	policy.AllowContract(yearn, trading.ContractTrusted)

	container := &Container{}
	require.NoError(t, InitializeProtocols(container, &policy, false))

	assert.Equal(t, trading.ContractTrusted, policy.Contracts[yearn])
	assert.Equal(t, trading.ContractVerified, policy.Contracts[simulatedProtocols[3].info.ContractAddress])

	_, err := container.Vault.Position(context.Background(), DemoUser)
	assert.ErrorIs(t, err, simulated.ErrPositionNotFound)
}
