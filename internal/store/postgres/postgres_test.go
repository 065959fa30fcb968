package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/fleetd/internal/store"
)

// startPostgresContainer starts a PostgreSQL container and returns a DSN
// for the pgx stdlib driver. It skips the test when Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	// The container can report ready before the DB accepts connections.
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresJournal(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// idempotent
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []store.Event{
		{Name: "db", From: "stopped", To: "starting", At: base},
		{Name: "db", From: "starting", To: "running", PID: 42, At: base.Add(time.Second)},
		{Name: "api", From: "running", To: "failed", Reason: "unexpected-exit", PID: 43, At: base.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := db.RecordTransition(ctx, ev); err != nil {
			t.Fatalf("record %+v: %v", ev, err)
		}
	}

	all, err := db.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("events = %d", len(all))
	}
	if all[0].Name != "api" || all[0].Reason != "unexpected-exit" {
		t.Fatalf("newest = %+v", all[0])
	}
	if !all[1].At.Equal(base.Add(time.Second)) {
		t.Fatalf("timestamp = %v", all[1].At)
	}

	only, err := db.Recent(ctx, "db", 10)
	if err != nil {
		t.Fatalf("recent db: %v", err)
	}
	if len(only) != 2 || only[0].To != "running" {
		t.Fatalf("filtered = %+v", only)
	}

	limited, err := db.Recent(ctx, "", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited = %v, %v", limited, err)
	}
}
