// Package events provides the pub/sub bus that carries boot triggers and
// restore outcomes between the recovery coordinator and its observers.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// Boot recovery
	EventTriggerReceived EventType = "recovery.trigger"
	EventSessionReset    EventType = "recovery.session_reset"
	EventDispatched      EventType = "recovery.dispatched"
	EventRestoreAttempt  EventType = "recovery.attempt"
	EventRestoreFinished EventType = "recovery.finished"

	// Direct rule changes
	EventRulesChanged EventType = "rules.changed"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// TriggerData is the payload for EventTriggerReceived.
type TriggerData struct {
	Trigger string `json:"trigger"`
	Outcome string `json:"outcome"`
	Epoch   int64  `json:"epoch"`
}

// SessionResetData is the payload for EventSessionReset.
type SessionResetData struct {
	PreviousEpoch int64 `json:"previous_epoch"`
	Epoch         int64 `json:"epoch"`
}

// DispatchData is the payload for EventDispatched.
type DispatchData struct {
	RunID   string `json:"run_id"`
	Trigger string `json:"trigger"`
	UIDs    int    `json:"uids"`
}

// AttemptData is the payload for EventRestoreAttempt.
type AttemptData struct {
	RunID       string        `json:"run_id"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	Error       string        `json:"error,omitempty"`
}

// RestoreData is the payload for EventRestoreFinished.
type RestoreData struct {
	RunID    string `json:"run_id"`
	Success  bool   `json:"success"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// RulesChangedData is the payload for EventRulesChanged.
type RulesChangedData struct {
	Operation string `json:"operation"`
	UIDs      string `json:"uids"`
	ProxyPort int    `json:"proxy_port,omitempty"`
	DNSPort   int    `json:"dns_port,omitempty"`
	Success   bool   `json:"success"`
}
