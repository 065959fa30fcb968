package manager

import (
	"time"

	"github.com/loykin/fleetd/internal/service"
)

// Restart watchdog: decides, per failed service, whether a relaunch is
// scheduled and at what delay. Delay doubles per consecutive failure from
// the policy's base up to its max; after MaxAttempts consecutive failures
// the service stays Failed until an explicit RestartOne. A successful
// Running transition resets the counter (in the wrapper), so a later
// unrelated failure backs off from the base delay again.

// considerRestart applies the policy for one Failed transition. It returns
// whether the service may still recover on its own (a restart was
// scheduled), which gates fail-fast of waiting dependents.
func (m *Manager) considerRestart(name, reason string) bool {
	w := m.wraps[name]
	spec := w.Spec()
	if !spec.Restart.Enabled || !service.AutoRestartable(reason) {
		return false
	}
	failures := w.IncFailures()
	if failures > spec.Restart.MaxAttempts {
		m.log.Warn("restart budget exhausted", "service", name, "failures", failures)
		w.NoteRestartsExhausted()
		return false
	}
	delay := backoffDelay(spec.Restart, failures)
	m.log.Info("scheduling restart", "service", name, "failures", failures, "delay", delay)
	cb := m.sched.Schedule("watchdog/"+name, delay, 0, func() {
		m.watchdogRestart(name)
	})
	m.wdPending[name] = cb
	return true
}

func (m *Manager) watchdogRestart(name string) {
	delete(m.wdPending, name)
	if !m.started || m.stopping {
		return
	}
	w := m.wraps[name]
	if w.State() != service.StateFailed {
		return
	}
	w.IncRestarts()
	m.startService(name)
}

// backoffDelay computes min(maxDelay, baseDelay * 2^(failures-1)).
func backoffDelay(p service.RestartPolicy, failures int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
