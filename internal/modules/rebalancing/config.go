package rebalancing

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/aristath/vaultkeeper/internal/modules/risk"
	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/floats"
)

// allocationSumTolerance is how far the target allocation may stray from 100
const allocationSumTolerance = 0.1

// Notifications selects which events are emitted for a user
type Notifications struct {
	OnRebalance bool `json:"on_rebalance"`
	OnRiskAlert bool `json:"on_risk_alert"`
	OnFailure   bool `json:"on_failure"`
}

// Config is a user's rebalancing configuration
type Config struct {
	UserID                domain.UserID                 `json:"user_id"`
	Enabled               bool                          `json:"enabled"`
	TargetAllocation      map[domain.ProtocolID]float64 `json:"target_allocation" validate:"required,min=1,dive,gte=0,lte=100"`
	DriftThresholdPercent float64                       `json:"drift_threshold_percent" validate:"gt=0,lte=50"`
	MaxSlippagePercent    float64                       `json:"max_slippage_percent" validate:"gte=0,lte=10"`
	MinRebalanceAmount    float64                       `json:"min_rebalance_amount" validate:"gte=0"`
	CooldownHours         float64                       `json:"cooldown_hours" validate:"gte=0,lte=720"`
	RiskLimits            risk.Limits                   `json:"risk_limits"`
	Notifications         Notifications                 `json:"notifications"`
	UpdatedAt             time.Time                     `json:"updated_at"`
}

// Cooldown returns the cooldown as a duration
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours * float64(time.Hour))
}

// Clone returns a deep copy
func (c Config) Clone() Config {
	out := c
	out.TargetAllocation = make(map[domain.ProtocolID]float64, len(c.TargetAllocation))
	for k, v := range c.TargetAllocation {
		out.TargetAllocation[k] = v
	}
	return out
}

// ConfigUpdate is a partial update. Nil fields keep their current value.
type ConfigUpdate struct {
	Enabled               *bool                         `json:"enabled,omitempty"`
	TargetAllocation      map[domain.ProtocolID]float64 `json:"target_allocation,omitempty"`
	DriftThresholdPercent *float64                      `json:"drift_threshold_percent,omitempty"`
	MaxSlippagePercent    *float64                      `json:"max_slippage_percent,omitempty"`
	MinRebalanceAmount    *float64                      `json:"min_rebalance_amount,omitempty"`
	CooldownHours         *float64                      `json:"cooldown_hours,omitempty"`
	RiskLimits            *risk.Limits                  `json:"risk_limits,omitempty"`
	Notifications         *Notifications                `json:"notifications,omitempty"`
}

// Apply returns a copy of cfg with the update applied
func (u ConfigUpdate) Apply(cfg Config) Config {
	out := cfg.Clone()
	if u.Enabled != nil {
		out.Enabled = *u.Enabled
	}
	if u.TargetAllocation != nil {
		out.TargetAllocation = make(map[domain.ProtocolID]float64, len(u.TargetAllocation))
		for k, v := range u.TargetAllocation {
			out.TargetAllocation[k] = v
		}
	}
	if u.DriftThresholdPercent != nil {
		out.DriftThresholdPercent = *u.DriftThresholdPercent
	}
	if u.MaxSlippagePercent != nil {
		out.MaxSlippagePercent = *u.MaxSlippagePercent
	}
	if u.MinRebalanceAmount != nil {
		out.MinRebalanceAmount = *u.MinRebalanceAmount
	}
	if u.CooldownHours != nil {
		out.CooldownHours = *u.CooldownHours
	}
	if u.RiskLimits != nil {
		out.RiskLimits = *u.RiskLimits
	}
	if u.Notifications != nil {
		out.Notifications = *u.Notifications
	}
	return out
}

// DefaultConfig returns the config created on a user's first access.
// The target allocation is an equal split whose shares sum to exactly 100.
func DefaultConfig(user domain.UserID, protocols []domain.ProtocolID) Config {
	return Config{
		UserID:                user,
		Enabled:               false,
		TargetAllocation:      EqualSplit(protocols),
		DriftThresholdPercent: 5,
		MaxSlippagePercent:    1,
		MinRebalanceAmount:    100,
		CooldownHours:         24,
		RiskLimits:            risk.DefaultLimits(),
		Notifications: Notifications{
			OnRebalance: true,
			OnRiskAlert: true,
			OnFailure:   true,
		},
	}
}

// EqualSplit splits 100 across protocols in basis points. The remainder goes
// to the first protocols in sorted order.
func EqualSplit(protocols []domain.ProtocolID) map[domain.ProtocolID]float64 {
	out := make(map[domain.ProtocolID]float64, len(protocols))
	if len(protocols) == 0 {
		return out
	}
	ids := append([]domain.ProtocolID(nil), protocols...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	n := len(ids)
	base := 10000 / n
	rem := 10000 - base*n
	for i, id := range ids {
		bp := base
		if i < rem {
			bp++
		}
		out[id] = float64(bp) / 100
	}
	return out
}

// ConfigValidator checks configs against range rules and the protocol registry
type ConfigValidator struct {
	validate *validator.Validate
	known    map[domain.ProtocolID]bool
}

// NewConfigValidator creates a validator for the given registered protocols
func NewConfigValidator(protocols []domain.ProtocolID) *ConfigValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	known := make(map[domain.ProtocolID]bool, len(protocols))
	for _, id := range protocols {
		known[id] = true
	}
	return &ConfigValidator{validate: v, known: known}
}

// Validate returns ConfigurationErrors listing every violation, or nil
func (cv *ConfigValidator) Validate(cfg Config) error {
	var errs ConfigurationErrors

	if err := cv.validate.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, &ConfigurationError{Field: fieldPath(fe.Namespace()), Reason: reason(fe)})
		}
	}

	if len(cfg.TargetAllocation) > 0 {
		ids := make([]domain.ProtocolID, 0, len(cfg.TargetAllocation))
		values := make([]float64, 0, len(cfg.TargetAllocation))
		for id, v := range cfg.TargetAllocation {
			ids = append(ids, id)
			values = append(values, v)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if !cv.known[id] {
				errs = append(errs, &ConfigurationError{
					Field:  fmt.Sprintf("target_allocation[%s]", id),
					Reason: "unknown protocol",
				})
			}
		}

		sum := floats.Sum(values)
		if math.Abs(sum-100) > allocationSumTolerance {
			errs = append(errs, &ConfigurationError{
				Field:  "target_allocation",
				Reason: fmt.Sprintf("must sum to 100 (±%.1f), got %.2f", allocationSumTolerance, sum),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
