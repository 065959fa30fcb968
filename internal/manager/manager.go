// Package manager orchestrates the set of process wrappers: it resolves the
// dependency graph, drives ordered startup and shutdown, applies the restart
// watchdog policy, and exposes the aggregate status API. All orchestration
// state is mutated on the scheduler loop; public methods marshal onto it.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/fleetd/internal/depgraph"
	"github.com/loykin/fleetd/internal/env"
	"github.com/loykin/fleetd/internal/history"
	"github.com/loykin/fleetd/internal/logagg"
	"github.com/loykin/fleetd/internal/process"
	"github.com/loykin/fleetd/internal/scheduler"
	"github.com/loykin/fleetd/internal/service"
	"github.com/loykin/fleetd/internal/store"
)

// Options tunes a Manager. Zero values get sensible defaults.
type Options struct {
	Tick          time.Duration // scheduler tick cadence
	FlushInterval time.Duration // log aggregator flush cadence
	RingSize      int           // recent-log lines retained per service
	GlobalEnv     []string
	UseOSEnv      bool
	Store         store.Store    // optional lifecycle-event journal
	Sinks         []history.Sink // optional external event sinks
	Logger        *slog.Logger
}

// Manager owns one wrapper per service spec for its whole lifetime.
type Manager struct {
	sched *scheduler.Scheduler
	agg   *logagg.Aggregator
	graph *depgraph.Graph
	specs []service.Spec
	wraps map[string]*process.Wrapper
	log   *slog.Logger
	st    store.Store
	sinks []history.Sink

	// loop-only orchestration state
	started       bool
	stopping      bool
	stopGrace     time.Duration
	depWaits      map[string]*scheduler.Callback // services waiting on dependencies
	wdPending     map[string]*scheduler.Callback // scheduled watchdog restarts
	manualRestart map[string]bool                // start again once Stopped
}

// New validates the spec set, builds the dependency graph, and creates one
// runtime wrapper per service. Construction fails fast on invalid specs,
// unknown dependency references, and cycles; none of these are retried.
func New(specs []service.Spec, opts Options) (*Manager, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no services configured")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	names := make([]string, 0, len(specs))
	deps := make(map[string][]string, len(specs))
	normalized := make([]service.Spec, 0, len(specs))
	for _, s := range specs {
		s.Normalize()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		names = append(names, s.Name)
		deps[s.Name] = s.DependsOn
		normalized = append(normalized, s)
	}
	graph, err := depgraph.New(names, deps)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sched:         scheduler.New(opts.Tick),
		agg:           logagg.New(opts.RingSize),
		graph:         graph,
		specs:         normalized,
		wraps:         make(map[string]*process.Wrapper, len(normalized)),
		log:           log.With("component", "manager"),
		st:            opts.Store,
		sinks:         append([]history.Sink(nil), opts.Sinks...),
		depWaits:      make(map[string]*scheduler.Callback),
		wdPending:     make(map[string]*scheduler.Callback),
		manualRestart: make(map[string]bool),
	}
	envM := env.New(opts.GlobalEnv, opts.UseOSEnv)
	for _, s := range normalized {
		m.wraps[s.Name] = process.NewWrapper(s, envM.Merge(s.Env), m.sched, m.agg, log)
	}

	flush := opts.FlushInterval
	if flush <= 0 {
		flush = scheduler.DefaultTick
	}
	m.sched.Start()
	_ = m.sched.Post(func() {
		m.sched.Schedule("logagg", flush, flush, m.agg.Flush)
	})
	return m, nil
}

// Scheduler exposes the loop for collaborators that need Post (tests,
// embedders). Orchestrator-internal code passes it explicitly.
func (m *Manager) Scheduler() *scheduler.Scheduler { return m.sched }

// Logs returns the most recent captured output lines of a service.
func (m *Manager) Logs(name string, n int) []string { return m.agg.Recent(name, n) }

// SubscribeLogs registers a consumer of batched log flush events.
func (m *Manager) SubscribeLogs(buffer int) <-chan logagg.Batch { return m.agg.Subscribe(buffer) }

// Known reports whether name refers to a configured service.
func (m *Manager) Known(name string) bool {
	_, ok := m.wraps[name] // wraps is never mutated after construction
	return ok
}

// StartAll drives dependency-aware startup: every service with no unmet
// dependency starts concurrently; dependents start once all of their
// dependencies are Running. Waiting dependents carry their own timeout and
// transition to Failed with a dependency-unavailable reason on expiry.
func (m *Manager) StartAll() error {
	return m.sched.Call(func() error {
		if m.started {
			return fmt.Errorf("already started")
		}
		m.started = true
		m.stopping = false
		for _, name := range m.graph.TopoOrder() {
			if len(m.graph.Dependencies(name)) == 0 {
				m.startService(name)
				continue
			}
			m.armDepWait(name)
		}
		return nil
	})
}

// StopAll stops services in reverse dependency order (dependents before
// dependencies) and blocks until every service is terminal or ctx expires.
func (m *Manager) StopAll(ctx context.Context, grace time.Duration) error {
	err := m.sched.Call(func() error {
		m.stopping = true
		m.stopGrace = grace
		m.cancelPolicyCallbacks()
		m.advanceStop()
		return nil
	})
	if err != nil {
		return err
	}
	return m.waitCond(ctx, func() bool {
		done := m.allTerminal()
		if done {
			m.started = false
			m.stopping = false
		}
		return done
	})
}

// RestartOne performs an operator-driven restart: any pending watchdog
// restart is cancelled, the failure counter resets, and the service is
// stopped then started. Returns once the restart has been initiated.
func (m *Manager) RestartOne(ctx context.Context, name string) error {
	_ = ctx
	return m.sched.Call(func() error {
		w, ok := m.wraps[name]
		if !ok {
			return fmt.Errorf("unknown service: %s", name)
		}
		if m.stopping {
			return fmt.Errorf("orchestrator is stopping")
		}
		if cb := m.wdPending[name]; cb != nil {
			cb.Cancel()
			delete(m.wdPending, name)
		}
		if cb := m.depWaits[name]; cb != nil {
			cb.Cancel()
			delete(m.depWaits, name)
		}
		w.ResetFailures()
		if w.State().Terminal() {
			m.startService(name)
			return nil
		}
		m.manualRestart[name] = true
		w.Stop(0)
		return nil
	})
}

// Snapshot returns point-in-time copies of every service runtime in
// declaration order. Never returns live references.
func (m *Manager) Snapshot() []service.Status {
	var out []service.Status
	_ = m.sched.Call(func() error {
		out = make([]service.Status, 0, len(m.specs))
		for _, s := range m.specs {
			out = append(out, m.wraps[s.Name].Snapshot())
		}
		return nil
	})
	return out
}

// WaitSettled blocks until no service is mid-transition (Starting,
// HealthChecking, Stopping) and no dependency wait is pending.
func (m *Manager) WaitSettled(ctx context.Context) error {
	return m.waitCond(ctx, func() bool {
		if len(m.depWaits) > 0 || len(m.manualRestart) > 0 {
			return false
		}
		for _, w := range m.wraps {
			switch w.State() {
			case service.StateStarting, service.StateHealthChecking, service.StateStopping:
				return false
			}
		}
		return true
	})
}

// Shutdown stops all services and then the scheduler loop.
func (m *Manager) Shutdown(ctx context.Context, grace time.Duration) error {
	err := m.StopAll(ctx, grace)
	m.agg.Flush()
	m.sched.Stop()
	m.agg.Close()
	return err
}

// --- loop-only internals ---

func (m *Manager) startService(name string) {
	w := m.wraps[name]
	w.Subscribe(m)
	if err := w.Start(); err != nil {
		// Launch failures already moved the wrapper to Failed; anything else
		// is a sequencing bug surfaced to the operator via logs.
		m.log.Error("start failed", "service", name, "error", err)
	}
}

func (m *Manager) armDepWait(name string) {
	spec := m.wraps[name].Spec()
	cb := m.sched.Schedule("dep/"+name, spec.DepTimeout, 0, func() {
		m.onDepTimeout(name)
	})
	m.depWaits[name] = cb
}

func (m *Manager) onDepTimeout(name string) {
	if _, ok := m.depWaits[name]; !ok {
		return
	}
	delete(m.depWaits, name)
	m.log.Warn("dependency wait timed out", "service", name)
	w := m.wraps[name]
	w.Subscribe(m) // so the Failed transition is observed and journaled
	_ = w.MarkFailed(service.ReasonDependencyTimeout)
}

// OnTransition implements process.Observer. It runs on the scheduler loop,
// synchronously with the emitting wrapper.
func (m *Manager) OnTransition(t service.Transition) {
	m.journal(t)
	switch t.To {
	case service.StateRunning:
		m.onRunning(t.Name)
	case service.StateFailed:
		m.onFailed(t.Name, t.Reason)
	case service.StateStopped:
		m.onStopped(t.Name)
	}
	if m.stopping {
		m.advanceStop()
	}
}

func (m *Manager) onRunning(name string) {
	if !m.started || m.stopping {
		return
	}
	for _, d := range m.graph.Dependents(name) {
		if _, waiting := m.depWaits[d]; !waiting {
			continue
		}
		if !m.depsRunning(d) {
			continue
		}
		m.depWaits[d].Cancel()
		delete(m.depWaits, d)
		m.startService(d)
	}
}

func (m *Manager) onFailed(name, reason string) {
	if m.stopping {
		return
	}
	recoverable := m.considerRestart(name, reason)
	if !recoverable {
		m.failWaitingDependents(name)
	}
}

func (m *Manager) onStopped(name string) {
	if m.manualRestart[name] && !m.stopping {
		delete(m.manualRestart, name)
		m.startService(name)
	}
}

func (m *Manager) depsRunning(name string) bool {
	for _, dep := range m.graph.Dependencies(name) {
		if m.wraps[dep].State() != service.StateRunning {
			return false
		}
	}
	return true
}

// failWaitingDependents fails dependents that are still waiting on a
// dependency that can no longer recover on its own, instead of letting
// them run out their full wait timeout. Recurses through the Failed
// transitions it causes.
func (m *Manager) failWaitingDependents(name string) {
	for _, d := range m.graph.Dependents(name) {
		cb, waiting := m.depWaits[d]
		if !waiting {
			continue
		}
		cb.Cancel()
		delete(m.depWaits, d)
		w := m.wraps[d]
		w.Subscribe(m)
		_ = w.MarkFailed(service.ReasonDependencyTimeout)
	}
}

// advanceStop initiates Stop for every service whose dependents are all
// terminal. Called on entering stop mode and after each transition while
// stopping, so the reverse ordering unwinds level by level.
func (m *Manager) advanceStop() {
	for _, name := range m.graph.ReverseTopoOrder() {
		w := m.wraps[name]
		if w.State().Terminal() || w.State() == service.StateStopping {
			continue
		}
		if m.dependentsTerminal(name) {
			w.Stop(m.stopGrace)
		}
	}
}

func (m *Manager) dependentsTerminal(name string) bool {
	for _, d := range m.graph.Dependents(name) {
		if !m.wraps[d].State().Terminal() {
			return false
		}
	}
	return true
}

func (m *Manager) allTerminal() bool {
	for _, w := range m.wraps {
		if !w.State().Terminal() {
			return false
		}
	}
	return true
}

// cancelPolicyCallbacks clears every pending watchdog restart and
// dependency wait so nothing resurrects a process during shutdown.
func (m *Manager) cancelPolicyCallbacks() {
	for name, cb := range m.wdPending {
		cb.Cancel()
		delete(m.wdPending, name)
	}
	for name, cb := range m.depWaits {
		cb.Cancel()
		delete(m.depWaits, name)
	}
	for name := range m.manualRestart {
		delete(m.manualRestart, name)
	}
}

func (m *Manager) journal(t service.Transition) {
	st := m.st
	sinks := m.sinks
	if st == nil && len(sinks) == 0 {
		return
	}
	ev := store.Event{
		Name:   t.Name,
		From:   t.From.String(),
		To:     t.To.String(),
		Reason: t.Reason,
		PID:    t.PID,
		At:     t.At.UTC(),
	}
	// Journaling is best-effort and must never block the loop.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if st != nil {
			if err := st.RecordTransition(ctx, ev); err != nil {
				m.log.Warn("journal write failed", "service", ev.Name, "error", err)
			}
		}
		for _, s := range sinks {
			if err := s.Send(ctx, history.Event(ev)); err != nil {
				m.log.Warn("history sink send failed", "service", ev.Name, "error", err)
			}
		}
	}()
}

// History reads back the recent journal for a service (empty name = all).
func (m *Manager) History(ctx context.Context, name string, limit int) ([]store.Event, error) {
	if m.st == nil {
		return nil, fmt.Errorf("no store configured")
	}
	return m.st.Recent(ctx, name, limit)
}

func (m *Manager) waitCond(ctx context.Context, cond func() bool) error {
	for {
		ok := false
		if err := m.sched.Call(func() error { ok = cond(); return nil }); err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
