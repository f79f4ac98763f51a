package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/vaultkeeper/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// Component weights of the overall score
const (
	weightConcentration = 0.30
	weightVolatility    = 0.25
	weightLiquidity     = 0.25
	weightSmartContract = 0.20
)

// PartialDataError reports inputs that could not be read. Metrics computed
// alongside it are best-effort and flagged Degraded.
type PartialDataError struct {
	Missing []string
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("partial risk data: missing %s", strings.Join(e.Missing, ", "))
}

// CalculatorConfig holds the scoring policy knobs
type CalculatorConfig struct {
	// VolatilityDivisor scales the yield percentage into the volatility score.
	// It is a policy choice: the score only needs to be monotonic in yield.
	VolatilityDivisor       float64
	BaseSmartContractScore  float64
	HighComplexityIncrement float64
	LiquidityMultiplier     float64
}

// DefaultCalculatorConfig returns the standard scoring policy
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		VolatilityDivisor:       10,
		BaseSmartContractScore:  30,
		HighComplexityIncrement: 15,
		LiquidityMultiplier:     2,
	}
}

// Calculator computes risk metrics. It has no side effects.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a calculator. Zero config fields fall back to defaults.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	def := DefaultCalculatorConfig()
	if cfg.VolatilityDivisor <= 0 {
		cfg.VolatilityDivisor = def.VolatilityDivisor
	}
	if cfg.BaseSmartContractScore == 0 {
		cfg.BaseSmartContractScore = def.BaseSmartContractScore
	}
	if cfg.HighComplexityIncrement == 0 {
		cfg.HighComplexityIncrement = def.HighComplexityIncrement
	}
	if cfg.LiquidityMultiplier == 0 {
		cfg.LiquidityMultiplier = def.LiquidityMultiplier
	}
	return &Calculator{cfg: cfg}
}

// Calculate scores the input. When in.Missing is non-empty the metrics are
// returned with Degraded set together with a *PartialDataError.
func (c *Calculator) Calculate(in Input) (Metrics, error) {
	m := Metrics{
		Concentration: c.concentration(in),
		Volatility:    c.volatility(in),
		Liquidity:     c.liquidity(in),
		SmartContract: c.smartContract(in),
	}
	m.Overall = OverallScore(m.Concentration, m.Volatility, m.Liquidity, m.SmartContract)
	m.Level = LevelFor(m.Overall)

	if len(in.Missing) > 0 {
		m.Degraded = true
		missing := append([]string(nil), in.Missing...)
		return m, &PartialDataError{Missing: missing}
	}
	return m, nil
}

// OverallScore combines the component scores into the rounded overall score
func OverallScore(concentration, volatility, liquidity, smartContract float64) int {
	return int(math.Round(
		weightConcentration*concentration +
			weightVolatility*volatility +
			weightLiquidity*liquidity +
			weightSmartContract*smartContract,
	))
}

// LevelFor maps an overall score to a level
func LevelFor(overall int) Level {
	switch {
	case overall < 25:
		return LevelLow
	case overall < 50:
		return LevelMedium
	case overall < 75:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func (c *Calculator) concentration(in Input) float64 {
	if in.TotalValue <= 0 || len(in.Exposure) == 0 {
		return 0
	}
	values := make([]float64, 0, len(in.Exposure))
	for _, v := range in.Exposure {
		values = append(values, v)
	}
	return clamp(floats.Max(values) / in.TotalValue * 100)
}

func (c *Calculator) volatility(in Input) float64 {
	if in.Principal <= 0 {
		return 0
	}
	yieldPct := math.Abs(in.PortfolioValue-in.Principal) / in.Principal * 100
	return clamp(yieldPct / c.cfg.VolatilityDivisor * 100)
}

func (c *Calculator) liquidity(in Input) float64 {
	if in.TotalShares <= 0 {
		return 0
	}
	return clamp(in.UserShares / in.TotalShares * 100 * c.cfg.LiquidityMultiplier)
}

func (c *Calculator) smartContract(in Input) float64 {
	active := 0
	for id, exposure := range in.Exposure {
		if exposure > 0 && in.HighComplexity[id] {
			active++
		}
	}
	return clamp(c.cfg.BaseSmartContractScore + float64(active)*c.cfg.HighComplexityIncrement)
}

// LossPercent returns how far the balance is below principal, in percent.
// Gains report zero.
func LossPercent(in Input) float64 {
	if in.Principal <= 0 || in.PortfolioValue >= in.Principal {
		return 0
	}
	return (in.Principal - in.PortfolioValue) / in.Principal * 100
}

// ExposedProtocols returns the protocols holding assets
func ExposedProtocols(in Input) []domain.ProtocolID {
	var ids []domain.ProtocolID
	for id, v := range in.Exposure {
		if v > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
