package factory

import (
	"fmt"

	"github.com/loykin/fleetd/internal/store"
	"github.com/loykin/fleetd/internal/store/postgres"
	"github.com/loykin/fleetd/internal/store/sqlite"
)

// New creates a journal store from config.
func New(cfg store.Config) (store.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		return sqlite.New(path)
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires dsn")
		}
		return postgres.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
