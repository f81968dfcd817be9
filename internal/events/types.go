package events

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypeItemStarted
	TypeQueueAdvanced
	TypeEncoderDemoted
	TypeProgress
	TypePreflightResult
	TypeLogEntry
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent is emitted on every engine state transition. This is the
// only channel by which external observers learn of session progress.
type StateChangedEvent struct {
	SessionID string `json:"session_id" example:"41f2c3d4" doc:"Stream session identifier"`
	From      string `json:"from" example:"resolving" doc:"Previous state"`
	To        string `json:"to" example:"streaming" doc:"New state"`
	Message   string `json:"message,omitempty" doc:"Optional diagnostic detail"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// ItemStartedEvent is emitted when the pipeline chain for a queue item launches.
type ItemStartedEvent struct {
	SessionID string `json:"session_id" doc:"Stream session identifier"`
	Index     int    `json:"index" example:"2" doc:"Zero-based queue position"`
	Total     int    `json:"total" example:"14" doc:"Queue length"`
	Title     string `json:"title" doc:"Item display title"`
	Encoder   string `json:"encoder" example:"h264_nvenc" doc:"Selected encoder"`
	Attempt   int    `json:"attempt" example:"1" doc:"Attempt number for this item"`
	Timestamp string `json:"timestamp" doc:"Launch timestamp"`
}

// Type returns the event type identifier for ItemStartedEvent.
func (e ItemStartedEvent) Type() uint32 { return TypeItemStarted }

// QueueAdvancedEvent is emitted when the queue cursor moves.
type QueueAdvancedEvent struct {
	SessionID string `json:"session_id" doc:"Stream session identifier"`
	Index     int    `json:"index" doc:"New cursor position"`
	Total     int    `json:"total" doc:"Queue length"`
	Title     string `json:"title" doc:"Title at the new cursor"`
	Wrapped   bool   `json:"wrapped" doc:"True when the cursor wrapped to the first item"`
	Skipped   bool   `json:"skipped" doc:"True when advance came from an explicit skip"`
	Timestamp string `json:"timestamp" doc:"Advance timestamp"`
}

// Type returns the event type identifier for QueueAdvancedEvent.
func (e QueueAdvancedEvent) Type() uint32 { return TypeQueueAdvanced }

// EncoderDemotedEvent is emitted when a hardware encoder fails at runtime and
// is removed from the ranking for the rest of the session.
type EncoderDemotedEvent struct {
	SessionID string `json:"session_id" doc:"Stream session identifier"`
	Encoder   string `json:"encoder" example:"h264_nvenc" doc:"Demoted encoder"`
	Next      string `json:"next" example:"h264_qsv" doc:"Encoder selected for the retry"`
	Reason    string `json:"reason" doc:"Failure summary"`
	Timestamp string `json:"timestamp" doc:"Demotion timestamp"`
}

// Type returns the event type identifier for EncoderDemotedEvent.
func (e EncoderDemotedEvent) Type() uint32 { return TypeEncoderDemoted }

// ProgressEvent carries encoder progress samples parsed from the progress socket.
type ProgressEvent struct {
	SessionID  string  `json:"session_id" doc:"Stream session identifier"`
	FPS        float64 `json:"fps" example:"30.02" doc:"Current encode FPS"`
	BitrateKbs float64 `json:"bitrate_kbps" example:"2298.4" doc:"Current output bitrate"`
	Speed      float64 `json:"speed" example:"1.0" doc:"Encode speed multiplier"`
	Dropped    int64   `json:"dropped" doc:"Dropped frames total"`
	Duplicate  int64   `json:"duplicate" doc:"Duplicated frames total"`
	OutTime    string  `json:"out_time" example:"00:42:13.52" doc:"Output timestamp"`
	Timestamp  string  `json:"timestamp" doc:"Sample timestamp"`
}

// Type returns the event type identifier for ProgressEvent.
func (e ProgressEvent) Type() uint32 { return TypeProgress }

// PreflightResultEvent reports the outcome of an egress test.
type PreflightResultEvent struct {
	OK        bool   `json:"ok" doc:"True when the synthetic push succeeded"`
	Reason    string `json:"reason,omitempty" example:"connection_refused" doc:"Failure classification"`
	Detail    string `json:"detail,omitempty" doc:"Human-readable diagnostic"`
	Timestamp string `json:"timestamp" doc:"Test completion timestamp"`
}

// Type returns the event type identifier for PreflightResultEvent.
func (e PreflightResultEvent) Type() uint32 { return TypePreflightResult }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"engine" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// ConfigReloadedEvent is published when the settings file changes on disk.
// Running sessions keep their snapshot; the new values apply to future sessions.
type ConfigReloadedEvent struct {
	Path      string `json:"path" example:"stream247.toml" doc:"Reloaded file path"`
	Timestamp string `json:"timestamp" doc:"Reload timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }
