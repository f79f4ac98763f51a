package risk

import (
	"errors"
	"testing"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallScore_ConcentrationAndBaseContractRisk(t *testing.T) {
	// round(0.30*80 + 0.20*30)
	assert.Equal(t, 30, OverallScore(80, 0, 0, 30))
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{24, LevelLow},
		{25, LevelMedium},
		{49, LevelMedium},
		{50, LevelHigh},
		{74, LevelHigh},
		{75, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %d", tt.score)
	}
}

func TestCalculate_Components(t *testing.T) {
	calc := NewCalculator(CalculatorConfig{})

	in := Input{
		PortfolioValue: 1005,
		Principal:      1000,
		UserShares:     100,
		TotalShares:    1000,
		TotalValue:     10000,
		Exposure: map[domain.ProtocolID]float64{
			"aave":     6000,
			"compound": 4000,
			"curve":    0,
		},
		HighComplexity: map[domain.ProtocolID]bool{"compound": true, "curve": true},
	}

	m, err := calc.Calculate(in)
	require.NoError(t, err)

	assert.InDelta(t, 60, m.Concentration, 1e-9)
	// 0.5% yield / 10 * 100
	assert.InDelta(t, 5, m.Volatility, 1e-9)
	// 10% of shares * 2
	assert.InDelta(t, 20, m.Liquidity, 1e-9)
	// curve has no exposure, so only compound counts
	assert.InDelta(t, 45, m.SmartContract, 1e-9)
	assert.Equal(t, OverallScore(60, 5, 20, 45), m.Overall)
	assert.Equal(t, LevelMedium, m.Level)
	assert.False(t, m.Degraded)
}

func TestCalculate_ClampsAndZeroDenominators(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())

	m, err := calc.Calculate(Input{
		PortfolioValue: 3000,
		Principal:      1000,
		UserShares:     900,
		TotalShares:    1000,
		TotalValue:     0,
		Exposure:       map[domain.ProtocolID]float64{"aave": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Concentration)
	assert.Equal(t, 100.0, m.Volatility)
	assert.Equal(t, 100.0, m.Liquidity)

	m, err = calc.Calculate(Input{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Volatility)
	assert.Equal(t, 0.0, m.Liquidity)
	assert.Equal(t, 30.0, m.SmartContract)
}

func TestCalculate_VolatilityDivisorIsConfigurable(t *testing.T) {
	in := Input{PortfolioValue: 1010, Principal: 1000}

	def, _ := NewCalculator(DefaultCalculatorConfig()).Calculate(in)
	wide, _ := NewCalculator(CalculatorConfig{VolatilityDivisor: 20}).Calculate(in)

	assert.InDelta(t, 10, def.Volatility, 1e-9)
	assert.InDelta(t, 5, wide.Volatility, 1e-9)
}

func TestCalculate_MissingInputsAreFlagged(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())

	m, err := calc.Calculate(Input{Principal: 100, PortfolioValue: 100, Missing: []string{"exposure:aave"}})
	require.Error(t, err)

	var partial *PartialDataError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []string{"exposure:aave"}, partial.Missing)
	assert.True(t, m.Degraded)
	assert.Contains(t, err.Error(), "exposure:aave")
}

func TestCalculate_Deterministic(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())
	in := Input{
		PortfolioValue: 980,
		Principal:      1000,
		UserShares:     50,
		TotalShares:    400,
		TotalValue:     4000,
		Exposure:       map[domain.ProtocolID]float64{"a": 1000, "b": 2500, "c": 500},
		HighComplexity: map[domain.ProtocolID]bool{"b": true},
	}

	first, err := calc.Calculate(in)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := calc.Calculate(in)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLossPercent(t *testing.T) {
	assert.InDelta(t, 20, LossPercent(Input{Principal: 1000, PortfolioValue: 800}), 1e-9)
	assert.Equal(t, 0.0, LossPercent(Input{Principal: 1000, PortfolioValue: 1200}))
	assert.Equal(t, 0.0, LossPercent(Input{PortfolioValue: 10}))
}
