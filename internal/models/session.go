package models

import (
	"time"
)

// Session statuses
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Session represents one control-loop run of a robot on a panel
type Session struct {
	ID        string     `json:"id" db:"id"`
	PanelID   string     `json:"panelId" db:"panel_id"`
	StartTime time.Time  `json:"startTime" db:"start_time"`
	EndTime   *time.Time `json:"endTime,omitempty" db:"end_time"`
	Status    string     `json:"status" db:"status"`
}

// SessionStartRequest represents a session start request
type SessionStartRequest struct {
	SessionID string `json:"sessionId"`
	PanelID   string `json:"panelId"`
}

// SessionStartResponse represents a session start response
type SessionStartResponse struct {
	SessionID string    `json:"sessionId"`
	PanelID   string    `json:"panelId"`
	StartTime time.Time `json:"startTime"`
}
