package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/fleetd/internal/history"
)

func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get mapped port: %v", err)
	}

	return container, host + ":" + port.Port()
}

func TestClickHouseSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	sink, err := New(addr, "service_transitions_test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	events := []history.Event{
		{Name: "db", From: "stopped", To: "starting", At: at},
		{Name: "db", From: "starting", To: "running", PID: 42, At: at.Add(time.Second)},
	}
	for _, ev := range events {
		if err := sink.Send(ctx, ev); err != nil {
			t.Fatalf("Send %+v: %v", ev, err)
		}
	}

	time.Sleep(100 * time.Millisecond)

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM service_transitions_test WHERE name = ?", "db")
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows = %d, want 2", count)
	}
}

func TestClickHouseConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "t"); err == nil {
		t.Fatal("invalid address must error")
	}
}

func TestClickHouseSendCancelledContext(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() { _ = container.Terminate(ctx) }()

	sink, err := New(addr, "service_transitions_test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	ev := history.Event{Name: "db", From: "running", To: "stopping", At: time.Now().UTC()}
	if err := sink.Send(cancelled, ev); err == nil {
		t.Log("driver accepted write despite cancelled context")
	}
}
