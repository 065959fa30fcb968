package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeOrch struct {
	mu        sync.Mutex
	known     map[string]bool
	restarted []string
}

func (f *fakeOrch) Known(name string) bool { return f.known[name] }

func (f *fakeOrch) RestartOne(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted = append(f.restarted, name)
	return nil
}

func (f *fakeOrch) restarts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restarted...)
}

func startListener(t *testing.T, orch *fakeOrch) (string, *Listener) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "spool")
	l, err := New(dir, 200*time.Millisecond, orch, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(l.Stop)
	return dir, l
}

func spool(t *testing.T, dir, name, content string) string {
	t.Helper()
	// Write-then-rename so the watcher never sees a partial file.
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(dir, name+".json")
	if err := os.Rename(tmp, dst); err != nil {
		t.Fatalf("rename: %v", err)
	}
	return dst
}

func waitRestarts(t *testing.T, orch *fakeOrch, want int) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := orch.restarts()
		if len(got) >= want {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("restarts = %v, want %d", got, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitRemoved(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never consumed", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTriggerRestartsKnownService(t *testing.T) {
	orch := &fakeOrch{known: map[string]bool{"api": true}}
	dir, _ := startListener(t, orch)

	path := spool(t, dir, "req1", `{"service_id": "api"}`)
	got := waitRestarts(t, orch, 1)
	if got[0] != "api" {
		t.Fatalf("restarted %v", got)
	}
	waitRemoved(t, path)
}

func TestTriggerUnknownServiceConsumedWithoutRestart(t *testing.T) {
	orch := &fakeOrch{known: map[string]bool{}}
	dir, _ := startListener(t, orch)

	path := spool(t, dir, "req1", `{"service_id": "ghost"}`)
	waitRemoved(t, path)
	time.Sleep(50 * time.Millisecond)
	if got := orch.restarts(); len(got) != 0 {
		t.Fatalf("unexpected restarts %v", got)
	}
}

func TestTriggerMalformedFileConsumed(t *testing.T) {
	orch := &fakeOrch{known: map[string]bool{"api": true}}
	dir, _ := startListener(t, orch)

	path := spool(t, dir, "bad", `{not json`)
	waitRemoved(t, path)
	if got := orch.restarts(); len(got) != 0 {
		t.Fatalf("unexpected restarts %v", got)
	}
}

func TestTriggerPreexistingFilesConsumedOnStart(t *testing.T) {
	orch := &fakeOrch{known: map[string]bool{"api": true}}
	dir := filepath.Join(t.TempDir(), "spool")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "early.json"), []byte(`{"service_id": "api"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	l, err := New(dir, 200*time.Millisecond, orch, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()
	waitRestarts(t, orch, 1)
}

func TestTriggerIgnoresNonJSONFiles(t *testing.T) {
	orch := &fakeOrch{known: map[string]bool{"api": true}}
	dir, _ := startListener(t, orch)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := orch.restarts(); len(got) != 0 {
		t.Fatalf("unexpected restarts %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("non-json file must be left alone: %v", err)
	}
}

func TestTriggerStopIsClean(t *testing.T) {
	orch := &fakeOrch{known: map[string]bool{"api": true}}
	_, l := startListener(t, orch)
	l.Stop()
	l.Stop() // second stop must not panic or hang
}
