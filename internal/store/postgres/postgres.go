package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/fleetd/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_transitions(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT NULL,
			pid INTEGER NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_name ON service_transitions(name);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_at ON service_transitions(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordTransition(ctx context.Context, ev store.Event) error {
	var reason sql.NullString
	if ev.Reason != "" {
		reason = sql.NullString{String: ev.Reason, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_transitions(name, from_state, to_state, reason, pid, occurred_at)
		VALUES($1,$2,$3,$4,$5,$6);`,
		ev.Name, ev.From, ev.To, reason, ev.PID, ev.At.UTC())
	return err
}

func (p *DB) Recent(ctx context.Context, name string, limit int) ([]store.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT name, from_state, to_state, reason, pid, occurred_at
		FROM service_transitions`
	args := []interface{}{}
	if name != "" {
		q += ` WHERE name = $1 ORDER BY id DESC LIMIT $2`
		args = append(args, name, limit)
	} else {
		q += ` ORDER BY id DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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
