package store

import (
	"context"
	"time"
)

// Event is one persisted lifecycle transition of a managed service.
// Timestamps are stored in UTC.
type Event struct {
	Name   string    `json:"name"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	PID    int       `json:"pid"`
	At     time.Time `json:"at"`
}

// Store is the lifecycle-event journal. Writes are best-effort from the
// orchestrator's point of view: a failed write is logged, never fatal.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordTransition(ctx context.Context, ev Event) error
	// Recent returns up to limit events, newest first. Empty name matches
	// all services.
	Recent(ctx context.Context, name string, limit int) ([]Event, error)
	Close() error
}

// Config selects and configures a journal backend.
type Config struct {
	Type string `json:"type" mapstructure:"type"` // "sqlite" or "postgres"
	Path string `json:"path" mapstructure:"path"` // sqlite file path (":memory:" allowed)
	DSN  string `json:"dsn" mapstructure:"dsn"`   // postgres connection string
}
