package process

import "time"

// State represents the lifecycle state of a chain stage.
type State string

// Stage states.
const (
	StateIdle     State = "idle"     // Not started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Shutdown requested
	StateExited   State = "exited"   // Exited cleanly
	StateFailed   State = "failed"   // Exited with a nonzero code
)

// Info describes one stage of a chain.
type Info struct {
	Name      string
	PID       int
	State     State
	StartedAt time.Time
	ExitCode  int
}
