package domain

import "time"

type SessionID string
type FlowKind string

const (
	FlowLobby    FlowKind = "lobby"
	FlowRoom     FlowKind = "room"
	FlowPractice FlowKind = "practice"
)

func (f FlowKind) Valid() bool {
	switch f {
	case FlowLobby, FlowRoom, FlowPractice:
		return true
	}
	return false
}

type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateAcquiring SessionState = "acquiring"
	StateReady     SessionState = "ready"
	StateRecording SessionState = "recording"
	StateStopped   SessionState = "stopped"
)

// Active reports whether the state holds, or is about to hold, a media stream.
func (s SessionState) Active() bool {
	return s == StateAcquiring || s == StateReady || s == StateRecording
}

// SessionClock tracks elapsed recording time. ElapsedSeconds is derived from
// the wall clock while running and frozen once stopped.
type SessionClock struct {
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
}

// RecordingSession is the observable part of a controller's session. The
// media stream itself never leaves the controller.
type RecordingSession struct {
	State    SessionState `json:"state"`
	StreamID string       `json:"stream_id,omitempty"`
	Clock    SessionClock `json:"clock"`
}

type SessionSummary struct {
	SessionID       SessionID  `json:"session_id"`
	Flow            FlowKind   `json:"flow"`
	DurationSeconds int        `json:"duration_seconds"`
	QuestionIndex   int        `json:"question_index"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	StoppedAt       *time.Time `json:"stopped_at,omitempty"`
}

// SessionSnapshot is the full read model of one UI context.
type SessionSnapshot struct {
	ID            SessionID        `json:"id"`
	Owner         UserID           `json:"owner"`
	Flow          FlowKind         `json:"flow"`
	State         SessionState     `json:"state"`
	Equipment     EquipmentStatus  `json:"equipment"`
	Clock         SessionClock     `json:"clock"`
	QuestionIndex int              `json:"question_index"`
	Question      string           `json:"question,omitempty"`
	QuestionCount int              `json:"question_count"`
	LastSummary   *SessionSummary  `json:"last_summary,omitempty"`
	Summaries     []SessionSummary `json:"summaries,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
}
