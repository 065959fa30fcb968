// Package history exports lifecycle transitions to external analytics
// systems. Sinks are fed asynchronously; a slow or failing sink never
// blocks the orchestrator loop.
package history

import (
	"context"
	"time"
)

// Event mirrors store.Event field for field so the manager can convert
// between them without copying by hand.
type Event struct {
	Name   string    `json:"name"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	PID    int       `json:"pid"`
	At     time.Time `json:"at"`
}

// Sink is a destination for lifecycle events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Config selects and configures an export sink.
type Config struct {
	Type  string `json:"type" mapstructure:"type"` // "clickhouse"
	Addr  string `json:"addr" mapstructure:"addr"`
	Table string `json:"table" mapstructure:"table"`
}
