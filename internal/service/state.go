package service

import "time"

// State is the lifecycle state of a managed service process.
//
// State Machine:
// Stopped -> Starting -> HealthChecking -> Running -> Stopping -> Stopped
// Any of Starting/HealthChecking/Running may drop to Failed; Failed is
// terminal until an explicit start (operator restart or watchdog).
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateHealthChecking
	StateRunning
	StateStopping
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateHealthChecking:
		return "healthchecking"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is a rest state that requires an
// explicit start to leave.
func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }

// Failure reasons recorded on the runtime when a service enters Failed or
// Stopped. They are data, not errors: consumers render them verbatim.
const (
	ReasonLaunchFailed      = "launch failed"
	ReasonHealthTimeout     = "health check timeout"
	ReasonUnexpectedExit    = "unexpected exit"
	ReasonDependencyTimeout = "dependency unavailable"
	ReasonRestartBudget     = "restart budget exhausted"
	ReasonStopRequested     = "stop requested"
)

// AutoRestartable reports whether a failure reason is eligible for
// watchdog-driven restart. Launch failures and dependency timeouts are
// configuration/environment problems and are surfaced, not retried.
func AutoRestartable(reason string) bool {
	return reason == ReasonHealthTimeout || reason == ReasonUnexpectedExit
}

// Transition is a single observed state change of one service.
type Transition struct {
	Name   string    `json:"name"`
	From   State     `json:"-"`
	To     State     `json:"-"`
	Reason string    `json:"reason,omitempty"`
	PID    int       `json:"pid"`
	At     time.Time `json:"at"`
}

// Status is a point-in-time, read-only copy of one service's runtime.
// It is always returned by value; holders cannot mutate orchestrator state.
type Status struct {
	Name       string        `json:"name"`
	State      string        `json:"state"`
	PID        int           `json:"pid"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Uptime     time.Duration `json:"uptime"`
	Restarts   int           `json:"restarts"`
	Failures   int           `json:"failures"`
	ExitReason string        `json:"exit_reason,omitempty"`
	ExitCode   int           `json:"exit_code"`
}
