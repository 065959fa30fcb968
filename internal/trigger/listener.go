// Package trigger watches a spool directory for restart requests dropped
// in by external tooling. A request is a small JSON file naming the
// service to restart; the file is consumed (deleted) whether or not the
// request was valid, so a bad file cannot wedge the listener.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/fleetd/internal/metrics"
)

const DefaultRescanPeriod = 5 * time.Second

// Request is the spool file payload.
type Request struct {
	ServiceID string `json:"service_id"`
}

// Orchestrator is the subset of the manager the listener needs.
type Orchestrator interface {
	Known(name string) bool
	RestartOne(ctx context.Context, name string) error
}

// Listener consumes restart requests from a spool directory. It pairs a
// filesystem watcher with a periodic rescan so requests are not lost when
// an event is dropped or the file landed before the watch was set up.
type Listener struct {
	dir    string
	rescan time.Duration
	orch   Orchestrator
	log    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(dir string, rescan time.Duration, orch Orchestrator, log *slog.Logger) (*Listener, error) {
	if rescan <= 0 {
		rescan = DefaultRescanPeriod
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &Listener{
		dir:    dir,
		rescan: rescan,
		orch:   orch,
		log:    log.With("component", "trigger"),
	}, nil
}

// Start begins watching. It returns once the watcher is installed; the
// consume loop runs until Stop.
func (l *Listener) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.dir); err != nil {
		_ = w.Close()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, w)
	return nil
}

// Stop terminates the consume loop and waits for it to drain.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

func (l *Listener) run(ctx context.Context, w *fsnotify.Watcher) {
	defer close(l.done)
	defer func() { _ = w.Close() }()

	// Pick up anything that was already spooled before the watch existed.
	l.scan(ctx)

	ticker := time.NewTicker(l.rescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.scan(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			l.consume(ctx, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.log.Warn("watch error", "error", err)
		}
	}
}

// scan consumes every spooled request file, oldest first.
func (l *Listener) scan(ctx context.Context) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.log.Warn("spool scan failed", "error", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, n := range names {
		if ctx.Err() != nil {
			return
		}
		l.consume(ctx, filepath.Join(l.dir, n))
	}
}

func (l *Listener) consume(ctx context.Context, path string) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn("trigger read failed", "file", path, "error", err)
		}
		return
	}
	// Remove before acting: another scan pass must not double-fire.
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return // lost the race with a concurrent pass
		}
		l.log.Warn("trigger remove failed", "file", path, "error", err)
		return
	}

	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		metrics.IncTrigger("malformed")
		l.log.Warn("malformed trigger file", "file", path, "error", err)
		return
	}
	if req.ServiceID == "" {
		metrics.IncTrigger("malformed")
		l.log.Warn("trigger file missing service_id", "file", path)
		return
	}
	if !l.orch.Known(req.ServiceID) {
		metrics.IncTrigger("unknown")
		l.log.Warn("trigger for unknown service", "service", req.ServiceID)
		return
	}
	if err := l.orch.RestartOne(ctx, req.ServiceID); err != nil {
		metrics.IncTrigger("failed")
		l.log.Warn("trigger restart failed", "service", req.ServiceID, "error", err)
		return
	}
	metrics.IncTrigger("accepted")
	l.log.Info("restart triggered", "service", req.ServiceID)
}
