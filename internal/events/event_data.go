package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RebalanceData contains data for rebalance lifecycle events.
// The concrete event type follows Status.
type RebalanceData struct {
	ExecutionID string  `json:"execution_id"`
	User        string  `json:"user"`
	Trigger     string  `json:"trigger"`
	Status      string  `json:"status"` // "executing", "completed", "failed", "blocked"
	Steps       int     `json:"steps"`
	TotalCost   float64 `json:"total_cost"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	Reason      string  `json:"reason,omitempty"`
}

// EventType returns the event type for RebalanceData
func (d *RebalanceData) EventType() EventType {
	switch d.Status {
	case "completed":
		return RebalanceCompleted
	case "failed":
		return RebalanceFailed
	case "blocked":
		return RebalanceBlocked
	default:
		return RebalanceStarted
	}
}

// RiskAlertData contains data for RiskAlertRaised events
type RiskAlertData struct {
	AlertID        string `json:"alert_id"`
	User           string `json:"user"`
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	ActionRequired bool   `json:"action_required"`
}

// EventType returns the event type for RiskAlertData
func (d *RiskAlertData) EventType() EventType {
	return RiskAlertRaised
}

// AlertEscalatedData contains data for RiskAlertEscalated events
type AlertEscalatedData struct {
	AlertID     string    `json:"alert_id"`
	User        string    `json:"user"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	RaisedAt    time.Time `json:"raised_at"`
}

// EventType returns the event type for AlertEscalatedData
func (d *AlertEscalatedData) EventType() EventType {
	return RiskAlertEscalated
}

// AlertAcknowledgedData contains data for RiskAlertAcknowledged events
type AlertAcknowledgedData struct {
	AlertID string `json:"alert_id"`
	User    string `json:"user"`
}

// EventType returns the event type for AlertAcknowledgedData
func (d *AlertAcknowledgedData) EventType() EventType {
	return RiskAlertAcknowledged
}

// ConfigUpdatedData contains data for ConfigUpdated events
type ConfigUpdatedData struct {
	User    string `json:"user"`
	Enabled bool   `json:"enabled"`
	Reset   bool   `json:"reset,omitempty"`
}

// EventType returns the event type for ConfigUpdatedData
func (d *ConfigUpdatedData) EventType() EventType {
	return ConfigUpdated
}

// MonitorCycleData contains data for MonitorCycleCompleted events
type MonitorCycleData struct {
	Evaluated  int   `json:"evaluated"`
	Executed   int   `json:"executed"`
	Skipped    int   `json:"skipped"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"duration_ms"`
}

// EventType returns the event type for MonitorCycleData
func (d *MonitorCycleData) EventType() EventType {
	return MonitorCycleCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// EventWithData represents an event with typed data
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 {
		return nil
	}

	var eventData EventData
	switch aux.Type {
	case RebalanceStarted, RebalanceCompleted, RebalanceFailed, RebalanceBlocked:
		eventData = &RebalanceData{}
	case RiskAlertRaised:
		eventData = &RiskAlertData{}
	case RiskAlertEscalated:
		eventData = &AlertEscalatedData{}
	case RiskAlertAcknowledged:
		eventData = &AlertAcknowledgedData{}
	case ConfigUpdated:
		eventData = &ConfigUpdatedData{}
	case MonitorCycleCompleted:
		eventData = &MonitorCycleData{}
	case ErrorOccurred:
		eventData = &ErrorEventData{}
	default:
		eventData = &GenericEventData{Type: aux.Type}
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

// UnmarshalJSON customizes JSON deserialization for GenericEventData
func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
