package models

import (
	"time"
)

// Event types accepted by the simulator relay and the state-change endpoint
const (
	EventTypeStateChange     = "state_change"
	EventTypeParamChange     = "param_change"
	EventTypeParamChangeBulk = "param_change_bulk"
	EventTypeControlUpdate   = "control_update"
)

// Runtime event types broadcast to observers
const (
	RuntimeEventTelemetry    = "telemetry"
	RuntimeEventAIPrediction = "ai_prediction"
	RuntimeEventAIDecision   = "ai_decision"
)

// ModeRef wraps an operating mode reference
type ModeRef struct {
	Mode string `json:"mode"`
}

// StateChangeEvent represents a control event headed to the simulator
type StateChangeEvent struct {
	Type         string                 `json:"type"`
	SessionID    string                 `json:"sessionId"`
	PanelID      string                 `json:"panelId"`
	Version      *int                   `json:"version,omitempty"`
	Cause        string                 `json:"cause,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Prev         *ModeRef               `json:"prev,omitempty"`
	Next         *ModeRef               `json:"next,omitempty"`
	ParamsTarget map[string]interface{} `json:"paramsTarget,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// NextMode returns the target mode or an empty string
func (e *StateChangeEvent) NextMode() string {
	if e.Next == nil {
		return ""
	}
	return e.Next.Mode
}

// RuntimeEvent is the envelope pushed to websocket observers
type RuntimeEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	PanelID   string      `json:"panelId,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}
