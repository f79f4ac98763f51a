package risk

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
)

// Concentration at or above this share is always critical
const criticalConcentration = 90

// Assessor turns metrics and limits into a risk report
type Assessor struct {
	calc *Calculator
	log  zerolog.Logger
}

// NewAssessor creates a new assessor
func NewAssessor(calc *Calculator, log zerolog.Logger) *Assessor {
	return &Assessor{
		calc: calc,
		log:  log.With().Str("service", "risk_assessor").Logger(),
	}
}

// Assess scores the input against the user's limits. Missing inputs never fail
// the assessment: they produce a degraded report with a data quality factor.
func (a *Assessor) Assess(user domain.UserID, in Input, limits Limits, now time.Time) *Report {
	metrics, err := a.calc.Calculate(in)

	report := &Report{
		Timestamp: now.UTC(),
		UserID:    user,
		Metrics:   metrics,
		Factors:   []Factor{},
		Alerts:    []Alert{},
	}

	var partial *PartialDataError
	if errors.As(err, &partial) {
		report.Degraded = true
		report.Missing = partial.Missing
		a.log.Warn().
			Str("user", string(user)).
			Strs("missing", partial.Missing).
			Msg("Risk assessment running on partial data")
	}

	report.Factors = a.factors(in, metrics, limits, report.Missing)
	report.Recommendations = recommendations(report.Factors)
	report.Compliant = true
	for _, f := range report.Factors {
		if f.Severity.Rank() >= SeverityHigh.Rank() {
			report.Compliant = false
			break
		}
	}

	return report
}

// Calculator returns the underlying calculator
func (a *Assessor) Calculator() *Calculator {
	return a.calc
}

func (a *Assessor) factors(in Input, m Metrics, limits Limits, missing []string) []Factor {
	factors := []Factor{}

	if m.Concentration > limits.MaxSingleProtocolExposure {
		sev := SeverityHigh
		if m.Concentration >= criticalConcentration {
			sev = SeverityCritical
		}
		factors = append(factors, Factor{
			Category:    CategoryConcentration,
			Severity:    sev,
			Description: fmt.Sprintf("Single protocol exposure %.1f%% exceeds limit of %.1f%%", m.Concentration, limits.MaxSingleProtocolExposure),
			Value:       m.Concentration,
			Limit:       limits.MaxSingleProtocolExposure,
			SuggestedActions: []string{
				"Spread assets across more protocols",
				"Lower the target share of the largest protocol",
			},
		})
	}

	if float64(m.Overall) > limits.MaxRiskScore {
		sev := SeverityHigh
		if m.Level == LevelCritical {
			sev = SeverityCritical
		}
		factors = append(factors, Factor{
			Category:    CategoryOverallRisk,
			Severity:    sev,
			Description: fmt.Sprintf("Overall risk score %d exceeds maximum of %.0f", m.Overall, limits.MaxRiskScore),
			Value:       float64(m.Overall),
			Limit:       limits.MaxRiskScore,
			SuggestedActions: []string{
				"Rebalance towards lower-risk protocols",
			},
		})
	}

	if reserve := 100 - m.Liquidity; reserve < limits.MinLiquidityReserve {
		factors = append(factors, Factor{
			Category:    CategoryLiquidity,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("Liquidity reserve %.1f%% is below minimum of %.1f%%", reserve, limits.MinLiquidityReserve),
			Value:       reserve,
			Limit:       limits.MinLiquidityReserve,
			SuggestedActions: []string{
				"Reduce position size relative to the vault",
			},
		})
	}

	if loss := LossPercent(in); loss > 0 && loss >= limits.StopLossThreshold {
		factors = append(factors, Factor{
			Category:    CategoryStopLoss,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("Loss of %.1f%% reached stop-loss threshold of %.1f%%", loss, limits.StopLossThreshold),
			Value:       loss,
			Limit:       limits.StopLossThreshold,
			SuggestedActions: []string{
				"Review positions immediately",
				"Consider withdrawing to stop further losses",
			},
		})
	}

	exposed := make(map[domain.ProtocolID]bool)
	for _, id := range ExposedProtocols(in) {
		exposed[id] = true
	}
	unhealthy := append([]domain.ProtocolID(nil), in.Unhealthy...)
	sort.Slice(unhealthy, func(i, j int) bool { return unhealthy[i] < unhealthy[j] })
	for _, id := range unhealthy {
		if !exposed[id] {
			continue
		}
		factors = append(factors, Factor{
			Category:    CategorySmartContract,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("Protocol %s reports unhealthy while holding assets", id),
			Value:       in.Exposure[id],
			SuggestedActions: []string{
				fmt.Sprintf("Withdraw from %s until it recovers", id),
			},
		})
	}

	if len(missing) > 0 {
		factors = append(factors, Factor{
			Category:    CategoryDataQuality,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("Risk score computed without %d input(s)", len(missing)),
			Value:       float64(len(missing)),
			SuggestedActions: []string{
				"Check adapter and position connectivity",
			},
		})
	}

	return factors
}

func recommendations(factors []Factor) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, f := range factors {
		for _, action := range f.SuggestedActions {
			if !seen[action] {
				seen[action] = true
				out = append(out, action)
			}
		}
	}
	return out
}
