package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/fleetd/internal/store"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func record(t *testing.T, db *DB, name, from, to, reason string, pid int, at time.Time) {
	t.Helper()
	err := db.RecordTransition(context.Background(), store.Event{
		Name: name, From: from, To: to, Reason: reason, PID: pid, At: at,
	})
	if err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	db := newDB(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record(t, db, "db", "stopped", "starting", "", 0, base)
	record(t, db, "db", "starting", "running", "", 42, base.Add(time.Second))
	record(t, db, "api", "running", "failed", "unexpected-exit", 43, base.Add(2*time.Second))

	evs, err := db.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("events = %d", len(evs))
	}
	// newest first
	if evs[0].Name != "api" || evs[0].To != "failed" || evs[0].Reason != "unexpected-exit" {
		t.Fatalf("newest = %+v", evs[0])
	}
	if evs[2].To != "starting" || evs[2].Reason != "" {
		t.Fatalf("oldest = %+v", evs[2])
	}
	if !evs[1].At.Equal(base.Add(time.Second)) {
		t.Fatalf("timestamp = %v", evs[1].At)
	}
}

func TestRecentFiltersByName(t *testing.T) {
	db := newDB(t)
	now := time.Now().UTC()
	record(t, db, "db", "stopped", "starting", "", 0, now)
	record(t, db, "api", "stopped", "starting", "", 0, now)

	evs, err := db.Recent(context.Background(), "api", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(evs) != 1 || evs[0].Name != "api" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestRecentLimit(t *testing.T) {
	db := newDB(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		record(t, db, "db", "running", "stopping", "", 42, now.Add(time.Duration(i)*time.Second))
	}
	evs, err := db.Recent(context.Background(), "db", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d", len(evs))
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := newDB(t)
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("empty path must be rejected")
	}
}

func TestInMemory(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	record(t, db, "db", "stopped", "starting", "", 0, time.Now().UTC())
	evs, err := db.Recent(context.Background(), "db", 1)
	if err != nil || len(evs) != 1 {
		t.Fatalf("Recent = %v, %v", evs, err)
	}
}
