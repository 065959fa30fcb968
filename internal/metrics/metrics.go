package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of watchdog-driven restarts.",
		}, []string{"name"},
	)
	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "health",
			Name:      "probe_attempts_total",
			Help:      "Number of health probe attempts.",
		}, []string{"name"},
	)
	probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "health",
			Name:      "probe_failures_total",
			Help:      "Number of failed health probe attempts.",
		}, []string{"name"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fleetd",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Time spent firing due callbacks per scheduler tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)
	pendingCallbacks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetd",
			Subsystem: "scheduler",
			Name:      "pending_callbacks",
			Help:      "Number of callbacks currently registered with the scheduler.",
		},
	)
	logLinesFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "logs",
			Name:      "lines_flushed_total",
			Help:      "Number of captured output lines flushed in batches.",
		}, []string{"name", "stream"},
	)
	triggerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetd",
			Subsystem: "trigger",
			Name:      "requests_total",
			Help:      "External restart-trigger requests by outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		stateTransitions, currentStates, serviceRestarts,
		probeAttempts, probeFailures,
		tickDuration, pendingCallbacks, logLinesFlushed, triggerRequests,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		currentStates.WithLabelValues(name, state).Set(v)
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}

func IncProbeAttempt(name string) {
	if regOK.Load() {
		probeAttempts.WithLabelValues(name).Inc()
	}
}

func IncProbeFailure(name string) {
	if regOK.Load() {
		probeFailures.WithLabelValues(name).Inc()
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}

func SetPendingCallbacks(n int) {
	if regOK.Load() {
		pendingCallbacks.Set(float64(n))
	}
}

func AddLogLines(name, stream string, n int) {
	if regOK.Load() && n > 0 {
		logLinesFlushed.WithLabelValues(name, stream).Add(float64(n))
	}
}

func IncTrigger(outcome string) {
	if regOK.Load() {
		triggerRequests.WithLabelValues(outcome).Inc()
	}
}
