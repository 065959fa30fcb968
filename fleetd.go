// Package fleetd supervises a fleet of long-running service processes:
// dependency-ordered startup, health-gated readiness, exponential-backoff
// restarts, log aggregation, and an HTTP control API.
package fleetd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/fleetd/internal/config"
	"github.com/loykin/fleetd/internal/history"
	hfactory "github.com/loykin/fleetd/internal/history/factory"
	"github.com/loykin/fleetd/internal/logagg"
	"github.com/loykin/fleetd/internal/manager"
	"github.com/loykin/fleetd/internal/metrics"
	iapi "github.com/loykin/fleetd/internal/server"
	"github.com/loykin/fleetd/internal/service"
	"github.com/loykin/fleetd/internal/store"
	sfactory "github.com/loykin/fleetd/internal/store/factory"
	"github.com/loykin/fleetd/internal/trigger"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = service.Spec

type Status = service.Status

type RestartPolicy = service.RestartPolicy

type LogBatch = logagg.Batch

type TransitionEvent = store.Event

type StoreConfig = store.Config

type HistorySink = history.Sink

type HistoryConfig = history.Config

type Options = manager.Options

// Orchestrator is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.

type Orchestrator struct{ inner *manager.Manager }

func New(specs []Spec, opts Options) (*Orchestrator, error) {
	m, err := manager.New(specs, opts)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{inner: m}, nil
}

func (o *Orchestrator) StartAll() error { return o.inner.StartAll() }
func (o *Orchestrator) StopAll(ctx context.Context, grace time.Duration) error {
	return o.inner.StopAll(ctx, grace)
}
func (o *Orchestrator) RestartOne(ctx context.Context, name string) error {
	return o.inner.RestartOne(ctx, name)
}
func (o *Orchestrator) Snapshot() []Status                    { return o.inner.Snapshot() }
func (o *Orchestrator) Known(name string) bool                { return o.inner.Known(name) }
func (o *Orchestrator) Logs(name string, n int) []string      { return o.inner.Logs(name, n) }
func (o *Orchestrator) SubscribeLogs(buffer int) <-chan LogBatch {
	return o.inner.SubscribeLogs(buffer)
}
func (o *Orchestrator) WaitSettled(ctx context.Context) error { return o.inner.WaitSettled(ctx) }
func (o *Orchestrator) Shutdown(ctx context.Context, grace time.Duration) error {
	return o.inner.Shutdown(ctx, grace)
}
func (o *Orchestrator) History(ctx context.Context, name string, limit int) ([]TransitionEvent, error) {
	return o.inner.History(ctx, name, limit)
}

// LoadConfig parses the TOML config file at path.
func LoadConfig(path string) (*cfg.FileConfig, error) { return cfg.Load(path) }

// NewStore builds a lifecycle-event journal from config.
func NewStore(c store.Config) (store.Store, error) { return sfactory.New(c) }

// NewHistorySink builds an external export sink from config. An empty
// type yields a nil sink.
func NewHistorySink(c history.Config) (HistorySink, error) { return hfactory.New(c) }

// NewHTTPServer starts an HTTP server exposing the control API using the
// given orchestrator.
func NewHTTPServer(addr, basePath string, o *Orchestrator) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, o.inner)
}

// NewTriggerListener watches dir for spooled restart-request files.
func NewTriggerListener(dir string, rescan time.Duration, o *Orchestrator) (*trigger.Listener, error) {
	return trigger.New(dir, rescan, o.inner, nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
