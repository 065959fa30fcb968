package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestHelpersRecordAfterRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	RecordStateTransition("svc", "stopped", "starting")
	SetCurrentState("svc", "starting", true)
	IncRestart("svc")
	IncProbeAttempt("svc")
	IncProbeFailure("svc")
	ObserveTick(0.001)
	SetPendingCallbacks(3)
	AddLogLines("svc", "stdout", 5)
	IncTrigger("accepted")

	if v := testutil.ToFloat64(stateTransitions.WithLabelValues("svc", "stopped", "starting")); v != 1 {
		t.Errorf("state transitions = %v", v)
	}
	if v := testutil.ToFloat64(currentStates.WithLabelValues("svc", "starting")); v != 1 {
		t.Errorf("current state = %v", v)
	}
	if v := testutil.ToFloat64(serviceRestarts.WithLabelValues("svc")); v != 1 {
		t.Errorf("restarts = %v", v)
	}
	if v := testutil.ToFloat64(probeAttempts.WithLabelValues("svc")); v != 1 {
		t.Errorf("probe attempts = %v", v)
	}
	if v := testutil.ToFloat64(probeFailures.WithLabelValues("svc")); v != 1 {
		t.Errorf("probe failures = %v", v)
	}
	if v := testutil.ToFloat64(pendingCallbacks); v != 3 {
		t.Errorf("pending callbacks = %v", v)
	}
	if v := testutil.ToFloat64(logLinesFlushed.WithLabelValues("svc", "stdout")); v != 5 {
		t.Errorf("log lines = %v", v)
	}
	if v := testutil.ToFloat64(triggerRequests.WithLabelValues("accepted")); v != 1 {
		t.Errorf("trigger requests = %v", v)
	}
}

func TestAddLogLinesIgnoresZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	before := testutil.ToFloat64(logLinesFlushed.WithLabelValues("zero", "stdout"))
	AddLogLines("zero", "stdout", 0)
	after := testutil.ToFloat64(logLinesFlushed.WithLabelValues("zero", "stdout"))
	if before != after {
		t.Fatalf("zero-line flush recorded: %v -> %v", before, after)
	}
}
