package client

import "time"

// ServiceStatus mirrors the daemon's status payload.
type ServiceStatus struct {
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

// TransitionEvent mirrors one journaled lifecycle transition.
type TransitionEvent struct {
	Name   string    `json:"name"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	PID    int       `json:"pid"`
	At     time.Time `json:"at"`
}

// LogsResponse is the payload of the logs endpoint.
type LogsResponse struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

// ErrorResponse is the daemon's error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
