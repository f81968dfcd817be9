package engine

import "time"

// State is the orchestration lifecycle tag. Idle is initial; Stopped
// and Error are terminal until a new Start command.
type State string

// Engine states.
const (
	StateIdle         State = "idle"
	StateResolving    State = "resolving"
	StateDetecting    State = "detecting"
	StateBuildingPlan State = "building_plan"
	StatePreflighting State = "preflighting"
	StateStreaming    State = "streaming"
	StateRecovering   State = "recovering"
	StateError        State = "error"
	StateStopped      State = "stopped"
)

// Terminal reports whether the state accepts no further progress
// without an explicit command.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// active reports whether a session owns the engine in this state.
func (s State) active() bool {
	return s != StateIdle && s != StateStopped && s != StateError
}

// Snapshot is the externally visible session state. It is safe to read
// at any time; the control loop is the only writer.
type Snapshot struct {
	SessionID string `json:"session_id,omitempty"`
	State     State  `json:"state"`
	SourceURL string `json:"source_url,omitempty"`

	QueueIndex  int    `json:"queue_index"`
	QueueLength int    `json:"queue_length"`
	ItemTitle   string `json:"item_title,omitempty"`

	Encoder string `json:"encoder,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	ItemsStreamed int       `json:"items_streamed"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}
