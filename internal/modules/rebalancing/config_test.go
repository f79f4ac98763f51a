package rebalancing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/vaultkeeper/internal/database"
	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

var testProtocols = []domain.ProtocolID{"aave", "compound", "curve"}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("0xabc", testProtocols)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 5.0, cfg.DriftThresholdPercent)
	assert.Equal(t, 1.0, cfg.MaxSlippagePercent)
	assert.Equal(t, 100.0, cfg.MinRebalanceAmount)
	assert.Equal(t, 24.0, cfg.CooldownHours)
	assert.Equal(t, 24*time.Hour, cfg.Cooldown())
	assert.Equal(t, risk.DefaultLimits(), cfg.RiskLimits)
	assert.Equal(t, Notifications{OnRebalance: true, OnRiskAlert: true, OnFailure: true}, cfg.Notifications)

	assert.Equal(t, 33.34, cfg.TargetAllocation["aave"])
	assert.Equal(t, 33.33, cfg.TargetAllocation["compound"])
	assert.Equal(t, 33.33, cfg.TargetAllocation["curve"])

	require.NoError(t, NewConfigValidator(testProtocols).Validate(cfg))
}

func TestEqualSplit_SumsToHundred(t *testing.T) {
	for n := 1; n <= 9; n++ {
		ids := make([]domain.ProtocolID, n)
		for i := range ids {
			ids[i] = domain.ProtocolID(string(rune('a' + i)))
		}
		split := EqualSplit(ids)
		values := make([]float64, 0, n)
		for _, v := range split {
			values = append(values, v)
		}
		assert.InDelta(t, 100, floats.Sum(values), 1e-9, "n=%d", n)
	}
	assert.Empty(t, EqualSplit(nil))
}

func configErrorFields(t *testing.T, err error) []string {
	t.Helper()
	var errs ConfigurationErrors
	require.True(t, errors.As(err, &errs), "expected ConfigurationErrors, got %v", err)
	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	return fields
}

func TestValidate_AllocationSum(t *testing.T) {
	v := NewConfigValidator(testProtocols)

	tests := []struct {
		name  string
		alloc map[domain.ProtocolID]float64
		ok    bool
	}{
		{"exact", map[domain.ProtocolID]float64{"aave": 60, "compound": 40}, true},
		{"within tolerance high", map[domain.ProtocolID]float64{"aave": 60.05, "compound": 40}, true},
		{"within tolerance low", map[domain.ProtocolID]float64{"aave": 59.95, "compound": 40}, true},
		{"too high", map[domain.ProtocolID]float64{"aave": 60.2, "compound": 40}, false},
		{"too low", map[domain.ProtocolID]float64{"aave": 50, "compound": 40}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("u", testProtocols)
			cfg.TargetAllocation = tt.alloc
			err := v.Validate(cfg)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Contains(t, configErrorFields(t, err), "target_allocation")
		})
	}
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	v := NewConfigValidator(testProtocols)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty allocation", func(c *Config) { c.TargetAllocation = map[domain.ProtocolID]float64{} }, "target_allocation"},
		{"nil allocation", func(c *Config) { c.TargetAllocation = nil }, "target_allocation"},
		{"negative share", func(c *Config) {
			c.TargetAllocation = map[domain.ProtocolID]float64{"aave": 110, "compound": -10}
		}, "target_allocation[compound]"},
		{"unknown protocol", func(c *Config) {
			c.TargetAllocation = map[domain.ProtocolID]float64{"aave": 50, "ponzi": 50}
		}, "target_allocation[ponzi]"},
		{"zero drift", func(c *Config) { c.DriftThresholdPercent = 0 }, "drift_threshold_percent"},
		{"drift too high", func(c *Config) { c.DriftThresholdPercent = 51 }, "drift_threshold_percent"},
		{"slippage too high", func(c *Config) { c.MaxSlippagePercent = 11 }, "max_slippage_percent"},
		{"negative minimum", func(c *Config) { c.MinRebalanceAmount = -1 }, "min_rebalance_amount"},
		{"cooldown too long", func(c *Config) { c.CooldownHours = 721 }, "cooldown_hours"},
		{"risk score too high", func(c *Config) { c.RiskLimits.MaxRiskScore = 101 }, "risk_limits.max_risk_score"},
		{"zero exposure", func(c *Config) { c.RiskLimits.MaxSingleProtocolExposure = 0 }, "risk_limits.max_single_protocol_exposure"},
		{"reserve too high", func(c *Config) { c.RiskLimits.MinLiquidityReserve = 100.5 }, "risk_limits.min_liquidity_reserve"},
		{"zero stop loss", func(c *Config) { c.RiskLimits.StopLossThreshold = 0 }, "risk_limits.stop_loss_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("u", testProtocols)
			tt.mutate(&cfg)
			err := v.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, configErrorFields(t, err), tt.field)

			var single *ConfigurationError
			require.True(t, errors.As(err, &single))
			assert.NotEmpty(t, single.Reason)
		})
	}
}

func TestValidate_BoundariesAccepted(t *testing.T) {
	v := NewConfigValidator(testProtocols)
	cfg := DefaultConfig("u", testProtocols)
	cfg.DriftThresholdPercent = 50
	cfg.MaxSlippagePercent = 0
	cfg.MinRebalanceAmount = 0
	cfg.CooldownHours = 720
	cfg.RiskLimits = risk.Limits{MaxRiskScore: 0, MaxSingleProtocolExposure: 100, MinLiquidityReserve: 0, StopLossThreshold: 100}
	assert.NoError(t, v.Validate(cfg))
}

func TestConfigUpdate_Apply(t *testing.T) {
	cfg := DefaultConfig("u", testProtocols)
	enabled := true
	drift := 7.5

	updated := ConfigUpdate{
		Enabled:               &enabled,
		DriftThresholdPercent: &drift,
		TargetAllocation:      map[domain.ProtocolID]float64{"aave": 100},
	}.Apply(cfg)

	assert.True(t, updated.Enabled)
	assert.Equal(t, 7.5, updated.DriftThresholdPercent)
	assert.Equal(t, map[domain.ProtocolID]float64{"aave": 100}, updated.TargetAllocation)
	assert.Equal(t, cfg.MaxSlippagePercent, updated.MaxSlippagePercent)
	// Original untouched
	assert.False(t, cfg.Enabled)
	assert.Len(t, cfg.TargetAllocation, 3)
}

func createTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "engine.db"),
		Profile: database.ProfileLedger,
		Name:    "engine",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfigStores(t *testing.T) {
	db := createTestDB(t)
	stores := map[string]ConfigStore{
		"memory": NewInMemoryConfigStore(),
		"sqlite": NewConfigRepository(db.Conn(), zerolog.Nop()),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "nobody")
			assert.ErrorIs(t, err, ErrConfigNotFound)

			a := DefaultConfig("0xa", testProtocols)
			a.Enabled = true
			a.UpdatedAt = time.Now().UTC().Truncate(time.Second)
			b := DefaultConfig("0xb", testProtocols)
			require.NoError(t, store.Save(ctx, a))
			require.NoError(t, store.Save(ctx, b))

			got, err := store.Get(ctx, "0xa")
			require.NoError(t, err)
			assert.Equal(t, a.TargetAllocation, got.TargetAllocation)
			assert.True(t, got.Enabled)

			enabled, err := store.ListEnabled(ctx)
			require.NoError(t, err)
			require.Len(t, enabled, 1)
			assert.Equal(t, domain.UserID("0xa"), enabled[0].UserID)

			b.Enabled = true
			require.NoError(t, store.Save(ctx, b))
			enabled, err = store.ListEnabled(ctx)
			require.NoError(t, err)
			assert.Len(t, enabled, 2)
		})
	}
}
