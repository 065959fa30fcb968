package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loykin/fleetd/internal/store"
)

func TestDefaultIsInMemorySQLite(t *testing.T) {
	s, err := New(store.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestSQLiteWithPath(t *testing.T) {
	s, err := New(store.Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "j.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Close() }()
}

func TestPostgresRequiresDSN(t *testing.T) {
	if _, err := New(store.Config{Type: "postgres"}); err == nil {
		t.Fatal("missing dsn must error")
	}
}

func TestUnknownType(t *testing.T) {
	if _, err := New(store.Config{Type: "etcd"}); err == nil {
		t.Fatal("unknown type must error")
	}
}
