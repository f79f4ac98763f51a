// Package risk provides risk scoring, factor assessment and alert management for vault users.
package risk

import (
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
)

// Level is the coarse risk classification derived from the overall score
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Severity ranks factors and alerts
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, low = 1 .. critical = 4. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Category groups alerts so that repeated conditions reuse one open alert
type Category string

const (
	CategoryConcentration    Category = "concentration"
	CategoryOverallRisk      Category = "overall_risk"
	CategoryLiquidity        Category = "liquidity"
	CategoryStopLoss         Category = "stop_loss"
	CategorySmartContract    Category = "smart_contract"
	CategoryDataQuality      Category = "data_quality"
	CategoryExecutionFailure Category = "execution_failure"
	CategorySecurityBlock    Category = "security_block"
	CategoryApprovalRequired Category = "approval_required"
)

// Limits are the per-user risk thresholds
type Limits struct {
	MaxRiskScore              float64 `json:"max_risk_score" validate:"gte=0,lte=100"`
	MaxSingleProtocolExposure float64 `json:"max_single_protocol_exposure" validate:"gt=0,lte=100"`
	MinLiquidityReserve       float64 `json:"min_liquidity_reserve" validate:"gte=0,lte=100"`
	StopLossThreshold         float64 `json:"stop_loss_threshold" validate:"gt=0,lte=100"`
}

// DefaultLimits returns the limits applied to a freshly created config
func DefaultLimits() Limits {
	return Limits{
		MaxRiskScore:              70,
		MaxSingleProtocolExposure: 50,
		MinLiquidityReserve:       10,
		StopLossThreshold:         15,
	}
}

// Input is the snapshot of state the calculator scores
type Input struct {
	PortfolioValue float64                       `json:"portfolio_value"` // user's current balance
	Principal      float64                       `json:"principal"`
	UserShares     float64                       `json:"user_shares"`
	TotalShares    float64                       `json:"total_shares"`
	TotalValue     float64                       `json:"total_value"` // vault total assets
	Exposure       map[domain.ProtocolID]float64 `json:"exposure"`    // assets held per protocol
	HighComplexity map[domain.ProtocolID]bool    `json:"-"`
	Unhealthy      []domain.ProtocolID           `json:"unhealthy,omitempty"`
	Missing        []string                      `json:"missing,omitempty"` // inputs that could not be read
}

// Metrics is the score breakdown for one input
type Metrics struct {
	Concentration float64 `json:"concentration"`
	Volatility    float64 `json:"volatility"`
	Liquidity     float64 `json:"liquidity"`
	SmartContract float64 `json:"smart_contract"`
	Overall       int     `json:"overall"`
	Level         Level   `json:"level"`
	Degraded      bool    `json:"degraded"`
}

// Factor is one limit breach or condition found during assessment
type Factor struct {
	Category         Category `json:"category"`
	Severity         Severity `json:"severity"`
	Description      string   `json:"description"`
	Value            float64  `json:"value"`
	Limit            float64  `json:"limit"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
}

// Report is the result of a risk assessment. It is recomputed per call.
type Report struct {
	Timestamp       time.Time     `json:"timestamp"`
	UserID          domain.UserID `json:"user_id"`
	Metrics         Metrics       `json:"metrics"`
	Factors         []Factor      `json:"factors"`
	Alerts          []Alert       `json:"alerts"`
	Recommendations []string      `json:"recommendations"`
	Compliant       bool          `json:"compliant"`
	Degraded        bool          `json:"degraded"`
	Missing         []string      `json:"missing,omitempty"`
}

// Alert is a persisted risk notification for a user
type Alert struct {
	ID               string        `json:"id"`
	UserID           domain.UserID `json:"user_id"`
	Category         Category      `json:"category"`
	Severity         Severity      `json:"severity"`
	Description      string        `json:"description"`
	Timestamp        time.Time     `json:"timestamp"`
	Acknowledged     bool          `json:"acknowledged"`
	AcknowledgedAt   *time.Time    `json:"acknowledged_at,omitempty"`
	ActionRequired   bool          `json:"action_required"`
	SuggestedActions []string      `json:"suggested_actions,omitempty"`
	Escalated        bool          `json:"escalated"`
	EscalatedAt      *time.Time    `json:"escalated_at,omitempty"`
	// LastRaisedAt is when the condition was last reported; Timestamp keeps the first occurrence
	LastRaisedAt *time.Time `json:"last_raised_at,omitempty"`
}

// AlertRequest describes an alert to raise
type AlertRequest struct {
	UserID           domain.UserID
	Category         Category
	Severity         Severity
	Description      string
	ActionRequired   bool
	SuggestedActions []string
}
