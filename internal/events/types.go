// Package events provides typed engine events and a synchronous event manager.
package events

// EventType represents different event types
type EventType string

const (
	RebalanceStarted   EventType = "REBALANCE_STARTED"
	RebalanceCompleted EventType = "REBALANCE_COMPLETED"
	RebalanceFailed    EventType = "REBALANCE_FAILED"
	RebalanceBlocked   EventType = "REBALANCE_BLOCKED"

	RiskAlertRaised       EventType = "RISK_ALERT_RAISED"
	RiskAlertEscalated    EventType = "RISK_ALERT_ESCALATED"
	RiskAlertAcknowledged EventType = "RISK_ALERT_ACKNOWLEDGED"

	ConfigUpdated         EventType = "CONFIG_UPDATED"
	MonitorCycleCompleted EventType = "MONITOR_CYCLE_COMPLETED"
	ErrorOccurred         EventType = "ERROR_OCCURRED"
)
