package rebalancing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/vaultkeeper/internal/domain"
)

var (
	// ErrExecutionInProgress is returned when a user already has an execution in flight
	ErrExecutionInProgress = errors.New("rebalance execution already in progress")
	// ErrCooldownActive is returned when a manual run is requested inside the cooldown window
	ErrCooldownActive = errors.New("rebalance cooldown active")
	// ErrConfirmationRequired is returned when the verdict needs explicit confirmation
	ErrConfirmationRequired = errors.New("rebalance requires confirmation")
	// ErrTerminalExecution is returned when updating a completed or failed execution
	ErrTerminalExecution = errors.New("execution is terminal")
	// ErrExecutionNotFound is returned for unknown execution IDs
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrConfigNotFound is returned by stores when a user has no config yet
	ErrConfigNotFound = errors.New("config not found")
)

// ConfigurationError is one rejected config field
type ConfigurationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConfigurationErrors collects every violation of one update
type ConfigurationErrors []*ConfigurationError

func (e ConfigurationErrors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes the individual errors to errors.As
func (e ConfigurationErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, err := range e {
		out[i] = err
	}
	return out
}

// DataUnavailableError means a user's state could not be read completely
type DataUnavailableError struct {
	UserID  domain.UserID
	Missing []string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for %s: %s", e.UserID, strings.Join(e.Missing, ", "))
}
