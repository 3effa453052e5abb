package domain

import "time"

type EventType string

const (
	EventStateChanged   EventType = "state_changed"
	EventTick           EventType = "tick"
	EventProbeStarted   EventType = "probe_started"
	EventProbeFailed    EventType = "probe_failed"
	EventProbeReleased  EventType = "probe_released"
	EventSessionSummary EventType = "session_summary"
	EventSessionClosed  EventType = "session_closed"
	EventUploadProgress EventType = "upload_progress"
)

// Event is published on a topic (a session or upload id) for live subscribers.
type Event struct {
	Type      EventType        `json:"type"`
	Topic     string           `json:"topic"`
	State     SessionState     `json:"state,omitempty"`
	Elapsed   *int             `json:"elapsed_seconds,omitempty"`
	Equipment *EquipmentStatus `json:"equipment,omitempty"`
	Summary   *SessionSummary  `json:"summary,omitempty"`
	Upload    *UploadTask      `json:"upload,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
