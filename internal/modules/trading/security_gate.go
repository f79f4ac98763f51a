package trading

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/metrics"
	"github.com/rs/zerolog"
)

// CheckType names a gate check
type CheckType string

const (
	CheckAmountLimits       CheckType = "amount_limits"
	CheckFrequency          CheckType = "frequency"
	CheckSuspiciousActivity CheckType = "suspicious_activity"
	CheckTargetVerification CheckType = "target_verification"
	CheckCostEstimation     CheckType = "cost_estimation"
)

// CheckStatus is the outcome of one check
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusWarning CheckStatus = "warning"
	StatusBlocked CheckStatus = "blocked"
)

// Severity of a check result
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ContractTrust is the allow-list level of a contract address
type ContractTrust string

const (
	ContractTrusted  ContractTrust = "trusted"
	ContractVerified ContractTrust = "verified" // known but not trusted
)

// CheckResult is the outcome of one check
type CheckResult struct {
	CheckType CheckType   `json:"check_type"`
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message"`
	Severity  Severity    `json:"severity"`
}

// Verdict aggregates the checks for one request
type Verdict struct {
	Approved             bool          `json:"approved"`
	RequiresConfirmation bool          `json:"requires_confirmation"`
	RequiresMultiSig     bool          `json:"requires_multisig"`
	SecurityScore        int           `json:"security_score"`
	Amount               float64       `json:"amount"`
	Checks               []CheckResult `json:"checks"`
	Recommendations      []string      `json:"recommendations"`
}

// BlockedReasons returns the messages of the blocked checks
func (v *Verdict) BlockedReasons() []string {
	var out []string
	for _, c := range v.Checks {
		if c.Status == StatusBlocked {
			out = append(out, c.Message)
		}
	}
	return out
}

// Request is a set of pending transfers for one user
type Request struct {
	UserID        domain.UserID     `json:"user_id"`
	Transfers     []domain.Transfer `json:"transfers"`
	EstimatedCost float64           `json:"estimated_cost"`
}

// Policy holds the gate limits
type Policy struct {
	SingleTransactionLimit  float64
	DailyLimit              float64
	ConfirmationThreshold   float64
	MultiSigThreshold       float64
	MaxTransactionsPerHour  int
	WarnTransactionsPerHour int
	MaxSameTypePerDay       int
	RoundTripWindow         time.Duration
	MaxCostRatio            float64
	Penalties               map[Severity]int
	// Contracts is the allow-list keyed by lower-case contract address
	Contracts map[string]ContractTrust
}

// DefaultPolicy returns the standard gate limits with an empty allow-list
func DefaultPolicy() Policy {
	return Policy{
		SingleTransactionLimit:  100000,
		DailyLimit:              500000,
		ConfirmationThreshold:   10000,
		MultiSigThreshold:       50000,
		MaxTransactionsPerHour:  12,
		WarnTransactionsPerHour: 6,
		MaxSameTypePerDay:       24,
		RoundTripWindow:         30 * time.Minute,
		MaxCostRatio:            0.01,
		Penalties: map[Severity]int{
			SeverityLow:      5,
			SeverityMedium:   10,
			SeverityHigh:     25,
			SeverityCritical: 40,
		},
		Contracts: map[string]ContractTrust{},
	}
}

// AllowContract adds a contract address to the allow-list
func (p *Policy) AllowContract(address string, trust ContractTrust) {
	if p.Contracts == nil {
		p.Contracts = make(map[string]ContractTrust)
	}
	p.Contracts[strings.ToLower(strings.TrimSpace(address))] = trust
}

// SecurityGate validates transfer sets before any adapter is called
type SecurityGate struct {
	policy   Policy
	registry *domain.Registry
	txLog    TransactionLog
	metrics  *metrics.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

// NewSecurityGate creates a new security gate
func NewSecurityGate(policy Policy, registry *domain.Registry, txLog TransactionLog, m *metrics.Metrics, log zerolog.Logger) *SecurityGate {
	if policy.Penalties == nil {
		policy.Penalties = DefaultPolicy().Penalties
	}
	return &SecurityGate{
		policy:   policy,
		registry: registry,
		txLog:    txLog,
		metrics:  m,
		now:      time.Now,
		log:      log.With().Str("service", "security_gate").Logger(),
	}
}

// Policy returns the gate policy
func (g *SecurityGate) Policy() Policy {
	return g.policy
}

// Evaluate runs all checks in order and aggregates them into a verdict.
// History read failures block the request.
func (g *SecurityGate) Evaluate(ctx context.Context, req Request) *Verdict {
	amount := domain.GrossAmount(req.Transfers)
	now := g.now()

	g.log.Info().
		Str("user", string(req.UserID)).
		Int("transfers", len(req.Transfers)).
		Float64("amount", amount).
		Msg("Evaluating transfer set")

	history, histErr := g.history(ctx, req.UserID, now)

	checks := []CheckResult{
		g.checkAmountLimits(amount, history, histErr),
		g.checkFrequency(req.Transfers, history, histErr, now),
		g.checkSuspiciousActivity(req.Transfers, history, histErr, now),
		g.checkTargets(req.Transfers),
		g.checkCost(amount, req.EstimatedCost),
	}

	verdict := &Verdict{
		Approved:             true,
		RequiresConfirmation: amount > g.policy.ConfirmationThreshold,
		RequiresMultiSig:     amount > g.policy.MultiSigThreshold,
		Amount:               amount,
		Checks:               checks,
		Recommendations:      []string{},
	}

	penalty := 0
	for _, c := range checks {
		if c.Status == StatusPassed {
			continue
		}
		penalty += g.policy.Penalties[c.Severity]
		if c.Status == StatusBlocked {
			verdict.Approved = false
		}
		verdict.Recommendations = append(verdict.Recommendations, c.Message)
	}
	verdict.SecurityScore = 100 - penalty
	if verdict.SecurityScore < 0 {
		verdict.SecurityScore = 0
	}
	if verdict.RequiresMultiSig {
		verdict.Recommendations = append(verdict.Recommendations, "Multi-signature approval required")
	} else if verdict.RequiresConfirmation {
		verdict.Recommendations = append(verdict.Recommendations, "Manual confirmation required")
	}

	g.metrics.RecordVerdict(verdict.Approved)

	event := g.log.Info()
	if !verdict.Approved {
		event = g.log.Warn().Strs("blocked", verdict.BlockedReasons())
	}
	event.
		Str("user", string(req.UserID)).
		Bool("approved", verdict.Approved).
		Int("security_score", verdict.SecurityScore).
		Msg("Security verdict")

	return verdict
}

// history loads the user's last 24h of transactions
func (g *SecurityGate) history(ctx context.Context, user domain.UserID, now time.Time) ([]Transaction, error) {
	if g.txLog == nil {
		return nil, fmt.Errorf("transaction log not available")
	}
	txs, err := g.txLog.Since(ctx, user, now.Add(-24*time.Hour))
	if err != nil {
		g.log.Error().Err(err).Str("user", string(user)).Msg("Failed to load transaction history - blocking for safety")
		return nil, err
	}
	return txs, nil
}

func historyUnavailable(check CheckType, err error) CheckResult {
	return CheckResult{
		CheckType: check,
		Status:    StatusBlocked,
		Message:   fmt.Sprintf("Transaction history unavailable: %v", err),
		Severity:  SeverityCritical,
	}
}

func passed(check CheckType, message string) CheckResult {
	return CheckResult{CheckType: check, Status: StatusPassed, Message: message, Severity: SeverityLow}
}

func (g *SecurityGate) checkAmountLimits(amount float64, history []Transaction, histErr error) CheckResult {
	if amount > g.policy.SingleTransactionLimit {
		return CheckResult{
			CheckType: CheckAmountLimits,
			Status:    StatusBlocked,
			Message:   fmt.Sprintf("Amount %.2f exceeds single transaction limit of %.2f", amount, g.policy.SingleTransactionLimit),
			Severity:  SeverityCritical,
		}
	}
	if histErr != nil {
		return historyUnavailable(CheckAmountLimits, histErr)
	}

	volume := 0.0
	for _, tx := range history {
		volume += tx.Amount
	}
	if volume+amount > g.policy.DailyLimit {
		return CheckResult{
			CheckType: CheckAmountLimits,
			Status:    StatusBlocked,
			Message:   fmt.Sprintf("Daily volume %.2f plus %.2f exceeds daily limit of %.2f", volume, amount, g.policy.DailyLimit),
			Severity:  SeverityHigh,
		}
	}
	if amount > g.policy.ConfirmationThreshold {
		return CheckResult{
			CheckType: CheckAmountLimits,
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Amount %.2f is above confirmation threshold of %.2f", amount, g.policy.ConfirmationThreshold),
			Severity:  SeverityMedium,
		}
	}
	return passed(CheckAmountLimits, "Amount within limits")
}

func (g *SecurityGate) checkFrequency(pending []domain.Transfer, history []Transaction, histErr error, now time.Time) CheckResult {
	if histErr != nil {
		return historyUnavailable(CheckFrequency, histErr)
	}

	hourAgo := now.Add(-time.Hour)
	count := len(pending)
	for _, tx := range history {
		if !tx.ExecutedAt.Before(hourAgo) {
			count++
		}
	}

	switch {
	case count > g.policy.MaxTransactionsPerHour:
		return CheckResult{
			CheckType: CheckFrequency,
			Status:    StatusBlocked,
			Message:   fmt.Sprintf("%d transactions in the last hour exceeds maximum of %d", count, g.policy.MaxTransactionsPerHour),
			Severity:  SeverityHigh,
		}
	case count > g.policy.WarnTransactionsPerHour:
		return CheckResult{
			CheckType: CheckFrequency,
			Status:    StatusWarning,
			Message:   fmt.Sprintf("%d transactions in the last hour is unusually frequent", count),
			Severity:  SeverityMedium,
		}
	}
	return passed(CheckFrequency, "Transaction frequency normal")
}

type transferKey struct {
	protocol  domain.ProtocolID
	direction domain.Direction
}

// checkSuspiciousActivity blocks repetitive same-type transfers and warns on
// round trips: a pending transfer that reverses a recent one on the same protocol.
func (g *SecurityGate) checkSuspiciousActivity(pending []domain.Transfer, history []Transaction, histErr error, now time.Time) CheckResult {
	if histErr != nil {
		return historyUnavailable(CheckSuspiciousActivity, histErr)
	}

	daily := make(map[transferKey]int)
	for _, tx := range history {
		daily[transferKey{tx.Protocol, tx.Direction}]++
	}

	seen := make(map[transferKey]bool)
	for _, t := range pending {
		key := transferKey{t.Protocol, t.Direction}
		if seen[key] {
			continue
		}
		seen[key] = true
		if daily[key]+1 > g.policy.MaxSameTypePerDay {
			return CheckResult{
				CheckType: CheckSuspiciousActivity,
				Status:    StatusBlocked,
				Message:   fmt.Sprintf("Excessive repetition: %d %s transfers on %s in 24h", daily[key], t.Direction, t.Protocol),
				Severity:  SeverityHigh,
			}
		}
	}

	windowStart := now.Add(-g.policy.RoundTripWindow)
	var roundTrips []string
	for _, t := range pending {
		for _, tx := range history {
			if tx.ExecutedAt.Before(windowStart) {
				continue
			}
			if tx.Protocol == t.Protocol && tx.Direction == t.Direction.Opposite() {
				roundTrips = append(roundTrips, fmt.Sprintf("%s %s after %s", t.Protocol, t.Direction, tx.Direction))
				break
			}
		}
	}
	if len(roundTrips) > 0 {
		sort.Strings(roundTrips)
		return CheckResult{
			CheckType: CheckSuspiciousActivity,
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Round trip within %s: %s", g.policy.RoundTripWindow, strings.Join(roundTrips, "; ")),
			Severity:  SeverityMedium,
		}
	}

	return passed(CheckSuspiciousActivity, "No suspicious patterns")
}

func (g *SecurityGate) checkTargets(pending []domain.Transfer) CheckResult {
	var unverified, untrusted []string
	seen := make(map[domain.ProtocolID]bool)

	for _, t := range pending {
		if seen[t.Protocol] {
			continue
		}
		seen[t.Protocol] = true

		var address string
		if g.registry != nil {
			if p, ok := g.registry.Get(t.Protocol); ok {
				address = strings.ToLower(p.Info.ContractAddress)
			}
		}
		trust, ok := g.policy.Contracts[address]
		switch {
		case address == "" || !ok:
			unverified = append(unverified, string(t.Protocol))
		case trust != ContractTrusted:
			untrusted = append(untrusted, string(t.Protocol))
		}
	}
	sort.Strings(unverified)
	sort.Strings(untrusted)

	if len(unverified) > 0 {
		return CheckResult{
			CheckType: CheckTargetVerification,
			Status:    StatusBlocked,
			Message:   fmt.Sprintf("Unverified target contract(s): %s", strings.Join(unverified, ", ")),
			Severity:  SeverityCritical,
		}
	}
	if len(untrusted) > 0 {
		return CheckResult{
			CheckType: CheckTargetVerification,
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Verified but untrusted target contract(s): %s", strings.Join(untrusted, ", ")),
			Severity:  SeverityMedium,
		}
	}
	return passed(CheckTargetVerification, "All targets trusted")
}

func (g *SecurityGate) checkCost(amount, estimatedCost float64) CheckResult {
	if amount > 0 && estimatedCost > g.policy.MaxCostRatio*amount {
		return CheckResult{
			CheckType: CheckCostEstimation,
			Status:    StatusWarning,
			Message:   fmt.Sprintf("Estimated cost %.2f exceeds %.1f%% of amount", estimatedCost, g.policy.MaxCostRatio*100),
			Severity:  SeverityLow,
		}
	}
	return passed(CheckCostEstimation, "Cost acceptable")
}
