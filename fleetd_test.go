package fleetd

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests spawn sh processes")
	}
}

func TestOrchestratorLifecycle(t *testing.T) {
	requireUnix(t)

	specs := []Spec{
		{Name: "db", Command: "sleep 60"},
		{Name: "api", Command: "sleep 60", DependsOn: []string{"db"}},
	}
	orch, err := New(specs, Options{
		Tick:          10 * time.Millisecond,
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx, 200*time.Millisecond)
	}()

	if !orch.Known("db") || orch.Known("ghost") {
		t.Fatal("Known misreports fleet membership")
	}

	if err := orch.StartAll(); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := orch.WaitSettled(ctx); err != nil {
		t.Fatalf("WaitSettled: %v", err)
	}

	snap := orch.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, st := range snap {
		if st.State != "running" {
			t.Fatalf("%s state = %s", st.Name, st.State)
		}
		if st.PID <= 0 {
			t.Fatalf("%s pid = %d", st.Name, st.PID)
		}
	}

	if err := orch.RestartOne(ctx, "api"); err != nil {
		t.Fatalf("RestartOne: %v", err)
	}
	if err := orch.WaitSettled(ctx); err != nil {
		t.Fatalf("WaitSettled after restart: %v", err)
	}

	if err := orch.StopAll(ctx, 200*time.Millisecond); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	for _, st := range orch.Snapshot() {
		if st.State != "stopped" {
			t.Fatalf("%s state after stop = %s", st.Name, st.State)
		}
	}
}

func TestNewStoreDefault(t *testing.T) {
	s, err := NewStore(StoreConfig{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestNewHistorySinkEmpty(t *testing.T) {
	sink, err := NewHistorySink(HistoryConfig{})
	if err != nil {
		t.Fatalf("NewHistorySink: %v", err)
	}
	if sink != nil {
		t.Fatalf("sink = %v, want nil", sink)
	}
}
