// Package process owns the per-service state machine: spawn and stop
// mechanics, health-check sequencing, and lifecycle event emission for
// exactly one managed process.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/loykin/fleetd/internal/logagg"
	"github.com/loykin/fleetd/internal/metrics"
	"github.com/loykin/fleetd/internal/probe"
	"github.com/loykin/fleetd/internal/scheduler"
	"github.com/loykin/fleetd/internal/service"
)

// Observer receives lifecycle transitions. Callbacks run on the scheduler
// loop and must not block.
type Observer interface {
	OnTransition(t service.Transition)
}

// Wrapper drives the state machine for one managed process.
//
// All fields are mutated exclusively from the scheduler loop: every public
// method below must be called from the loop (via scheduler.Post/Call).
// Asynchronous work (cmd.Wait, health probes, pipe reads) runs on worker
// goroutines that post their results back; results are matched against the
// run epoch so a stale outcome can never touch a newer run.
type Wrapper struct {
	spec  service.Spec
	env   []string
	sched *scheduler.Scheduler
	agg   *logagg.Aggregator
	log   *slog.Logger

	state      service.State
	cmd        *exec.Cmd
	pid        int
	startedAt  time.Time
	stoppedAt  time.Time
	failures   int // consecutive failures, reset on Running
	restarts   int // watchdog restarts, survives until shutdown
	exitReason string
	exitCode   int

	epoch        int // increments per (re)start; guards stale async results
	probeAttempt int
	observers    []Observer
}

func NewWrapper(spec service.Spec, env []string, sched *scheduler.Scheduler, agg *logagg.Aggregator, log *slog.Logger) *Wrapper {
	if log == nil {
		log = slog.Default()
	}
	return &Wrapper{
		spec:  spec,
		env:   env,
		sched: sched,
		agg:   agg,
		log:   log.With("service", spec.Name),
		state: service.StateStopped,
	}
}

func (w *Wrapper) owner() string { return "process/" + w.spec.Name }

// Name returns the service identifier.
func (w *Wrapper) Name() string { return w.spec.Name }

// Spec returns a copy of the immutable spec.
func (w *Wrapper) Spec() service.Spec { return w.spec }

// State returns the current state. Loop-only.
func (w *Wrapper) State() service.State { return w.state }

// Subscribe registers an observer for lifecycle transitions. Loop-only.
// Observers are torn down at the end of a requested stop so they do not
// leak across restarts.
func (w *Wrapper) Subscribe(o Observer) {
	for _, e := range w.observers {
		if e == o {
			return
		}
	}
	w.observers = append(w.observers, o)
}

// Unsubscribe removes an observer. Loop-only.
func (w *Wrapper) Unsubscribe(o Observer) {
	for i, e := range w.observers {
		if e == o {
			w.observers = append(w.observers[:i], w.observers[i+1:]...)
			return
		}
	}
}

// Start spawns the process. Legal only from Stopped or Failed. A spawn
// error moves the wrapper to Failed immediately and is not retried here.
func (w *Wrapper) Start() error {
	if !w.state.Terminal() {
		return fmt.Errorf("service %s: start not allowed in state %s", w.spec.Name, w.state)
	}
	w.epoch++
	epoch := w.epoch

	cmd := w.spec.BuildCommand()
	if w.spec.WorkDir != "" {
		cmd.Dir = w.spec.WorkDir
	}
	if len(w.env) > 0 {
		cmd.Env = w.env
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("service %s: stdout pipe: %w", w.spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("service %s: stderr pipe: %w", w.spec.Name, err)
	}

	w.exitReason = ""
	w.exitCode = 0
	w.stoppedAt = time.Time{}
	w.transition(service.StateStarting, "")

	if err := cmd.Start(); err != nil {
		w.exitReason = service.ReasonLaunchFailed
		w.transition(service.StateFailed, service.ReasonLaunchFailed)
		return fmt.Errorf("service %s: launch: %w", w.spec.Name, err)
	}

	w.cmd = cmd
	w.pid = cmd.Process.Pid
	w.startedAt = time.Now()
	w.log.Info("process started", "pid", w.pid)

	if w.agg != nil {
		w.agg.Register(w.spec.Name, w.spec.Log)
		go w.agg.Collect(w.spec.Name, logagg.StreamStdout, stdout)
		go w.agg.Collect(w.spec.Name, logagg.StreamStderr, stderr)
	}
	go func() {
		err := cmd.Wait()
		_ = w.sched.Post(func() { w.onExit(epoch, err) })
	}()

	w.beginHealthCheck(epoch)
	return nil
}

// beginHealthCheck moves to HealthChecking and schedules probe attempts.
// Without a bind port there is nothing to probe: liveness is "process still
// running", so the wrapper goes straight to Running.
func (w *Wrapper) beginHealthCheck(epoch int) {
	w.transition(service.StateHealthChecking, "")
	if w.spec.Port == 0 {
		w.toRunning()
		return
	}
	w.probeAttempt = 0
	p := probe.Prober{Port: w.spec.Port, Path: w.spec.HealthPath}
	w.sched.Schedule(w.owner(), 0, w.spec.ProbeInterval, func() {
		w.probeTick(epoch, p)
	})
}

func (w *Wrapper) probeTick(epoch int, p probe.Prober) {
	if epoch != w.epoch || w.state != service.StateHealthChecking {
		return
	}
	w.probeAttempt++
	if w.probeAttempt > w.spec.ProbeAttempts {
		w.sched.CancelOwner(w.owner())
		w.exitReason = service.ReasonHealthTimeout
		w.transition(service.StateFailed, service.ReasonHealthTimeout)
		return
	}
	metrics.IncProbeAttempt(w.spec.Name)
	go func() {
		err := p.Check(context.Background())
		_ = w.sched.Post(func() { w.onProbeResult(epoch, err) })
	}()
}

func (w *Wrapper) onProbeResult(epoch int, err error) {
	if epoch != w.epoch || w.state != service.StateHealthChecking {
		return // stale outcome from a cancelled round
	}
	if err != nil {
		metrics.IncProbeFailure(w.spec.Name)
		w.log.Debug("health probe failed", "attempt", w.probeAttempt, "error", err)
		return
	}
	w.toRunning()
}

func (w *Wrapper) toRunning() {
	w.sched.CancelOwner(w.owner())
	w.failures = 0
	w.transition(service.StateRunning, "")
}

// onExit is posted by the waiter goroutine when cmd.Wait returns.
func (w *Wrapper) onExit(epoch int, err error) {
	if epoch != w.epoch {
		return // a previous run; already superseded
	}
	w.stoppedAt = time.Now()
	w.exitCode = exitCode(err)
	w.cmd = nil
	switch w.state {
	case service.StateStopping:
		w.sched.CancelOwner(w.owner())
		w.exitReason = service.ReasonStopRequested
		w.transition(service.StateStopped, service.ReasonStopRequested)
		// An observer may restart the wrapper while the Stopped transition
		// is being delivered (manual restart does). The new run still needs
		// its subscriptions, so only a wrapper that stayed Stopped tears
		// them down.
		if w.state == service.StateStopped {
			w.teardownObservers()
		}
	case service.StateStarting, service.StateHealthChecking, service.StateRunning:
		w.sched.CancelOwner(w.owner())
		w.exitReason = service.ReasonUnexpectedExit
		w.log.Warn("process exited unexpectedly", "pid", w.pid, "exit_code", w.exitCode)
		w.transition(service.StateFailed, service.ReasonUnexpectedExit)
	default:
		// already terminal; nothing to do
	}
}

// Stop requests termination. It is idempotent and legal from any state: a
// stopped or failed service is a no-op, a stopping one keeps its deadline.
// Pending health-probe callbacks are cancelled immediately so a stopped
// process is never resurrected by a stale scheduled callback.
func (w *Wrapper) Stop(grace time.Duration) {
	switch w.state {
	case service.StateStopped, service.StateFailed:
		w.sched.CancelOwner(w.owner())
		return
	case service.StateStopping:
		return
	}
	if grace <= 0 {
		grace = w.spec.GraceTimeout
	}
	w.sched.CancelOwner(w.owner())
	pid := w.pid
	epoch := w.epoch
	w.transition(service.StateStopping, service.ReasonStopRequested)
	if pid > 0 {
		_ = terminateGroup(pid)
	}
	// Escalation is scheduled, not awaited: after the grace window the whole
	// process group is killed so held ports are released before any restart.
	w.sched.Schedule(w.owner(), grace, 0, func() {
		if epoch == w.epoch && w.state == service.StateStopping && pid > 0 {
			w.log.Warn("grace window elapsed, killing process group", "pid", pid)
			_ = killGroup(pid)
		}
	})
}

// MarkFailed forces a Stopped service to Failed with the given reason. The
// manager uses it for dependency-wait timeouts.
func (w *Wrapper) MarkFailed(reason string) error {
	if w.state != service.StateStopped {
		return fmt.Errorf("service %s: cannot mark failed in state %s", w.spec.Name, w.state)
	}
	w.exitReason = reason
	w.transition(service.StateFailed, reason)
	return nil
}

// IncFailures bumps the consecutive-failure counter and returns it. The
// counter persists across restarts until a successful Running transition.
func (w *Wrapper) IncFailures() int {
	w.failures++
	return w.failures
}

// ResetFailures zeroes the consecutive-failure counter (manual restart).
func (w *Wrapper) ResetFailures() { w.failures = 0 }

// NoteRestartsExhausted records that the watchdog gave up. The state stays
// Failed; only the surfaced reason changes.
func (w *Wrapper) NoteRestartsExhausted() {
	if w.state == service.StateFailed {
		w.exitReason = service.ReasonRestartBudget
	}
}

// IncRestarts records one watchdog-driven restart.
func (w *Wrapper) IncRestarts() {
	w.restarts++
	metrics.IncRestart(w.spec.Name)
}

// Snapshot returns a read-only copy of the runtime. Loop-only.
func (w *Wrapper) Snapshot() service.Status {
	st := service.Status{
		Name:       w.spec.Name,
		State:      w.state.String(),
		PID:        w.pid,
		StartedAt:  w.startedAt,
		StoppedAt:  w.stoppedAt,
		Restarts:   w.restarts,
		Failures:   w.failures,
		ExitReason: w.exitReason,
		ExitCode:   w.exitCode,
	}
	switch w.state {
	case service.StateStarting, service.StateHealthChecking, service.StateRunning, service.StateStopping:
		if !w.startedAt.IsZero() {
			st.Uptime = time.Since(w.startedAt)
		}
	}
	return st
}

func (w *Wrapper) transition(to service.State, reason string) {
	from := w.state
	w.state = to
	t := service.Transition{
		Name:   w.spec.Name,
		From:   from,
		To:     to,
		Reason: reason,
		PID:    w.pid,
		At:     time.Now(),
	}
	metrics.RecordStateTransition(w.spec.Name, from.String(), to.String())
	metrics.SetCurrentState(w.spec.Name, from.String(), false)
	metrics.SetCurrentState(w.spec.Name, to.String(), true)
	w.log.Debug("state transition", "from", from.String(), "to", to.String(), "reason", reason)
	// Copy: an observer may unsubscribe during delivery.
	obs := append([]Observer(nil), w.observers...)
	for _, o := range obs {
		o.OnTransition(t)
	}
}

// teardownObservers clears subscriptions at the end of a requested stop.
func (w *Wrapper) teardownObservers() { w.observers = nil }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
