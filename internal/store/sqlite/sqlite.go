package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/fleetd/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the database file; ":memory:" works too.
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_transitions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NULL,
			pid INTEGER NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_name ON service_transitions(name);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_at ON service_transitions(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordTransition(ctx context.Context, ev store.Event) error {
	var reason sql.NullString
	if ev.Reason != "" {
		reason = sql.NullString{String: ev.Reason, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_transitions(name, from_state, to_state, reason, pid, occurred_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		ev.Name, ev.From, ev.To, reason, ev.PID, ev.At.UTC())
	return err
}

func (s *DB) Recent(ctx context.Context, name string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT name, from_state, to_state, reason, pid, occurred_at
		FROM service_transitions`
	args := []interface{}{}
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]store.Event, error) {
	var out []store.Event
	for rows.Next() {
		var ev store.Event
		var reason sql.NullString
		if err := rows.Scan(&ev.Name, &ev.From, &ev.To, &reason, &ev.PID, &ev.At); err != nil {
			return nil, err
		}
		ev.Reason = reason.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
