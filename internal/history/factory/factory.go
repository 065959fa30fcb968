package factory

import (
	"fmt"

	"github.com/loykin/fleetd/internal/history"
	"github.com/loykin/fleetd/internal/history/clickhouse"
)

// New creates an export sink from config. An empty type means no sink.
func New(cfg history.Config) (history.Sink, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "clickhouse":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("clickhouse sink requires addr")
		}
		return clickhouse.New(cfg.Addr, cfg.Table)
	default:
		return nil, fmt.Errorf("unknown history sink type %q", cfg.Type)
	}
}
