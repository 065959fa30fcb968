package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, ps, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	p, err := strconv.Atoi(ps)
	if err != nil {
		t.Fatalf("port %q: %v", ps, err)
	}
	return p
}

func TestTCPProbeSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	p := Prober{Port: portOf(t, ln.Addr().String())}
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestTCPProbeFailsOnClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := portOf(t, ln.Addr().String())
	_ = ln.Close()

	p := Prober{Port: port, Timeout: 500 * time.Millisecond}
	if err := p.Check(context.Background()); err == nil {
		t.Fatal("expected connect error on closed port")
	}
}

func TestHTTPProbeChecksStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	port := portOf(t, srv.Listener.Addr().String())

	ok := Prober{Port: port, Path: "/healthz"}
	if err := ok.Check(context.Background()); err != nil {
		t.Fatalf("healthy path: %v", err)
	}
	bad := Prober{Port: port, Path: "/missing"}
	if err := bad.Check(context.Background()); err == nil {
		t.Fatal("404 must fail the probe")
	}
}

func TestHTTPProbeTreats500AsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := Prober{Port: portOf(t, srv.Listener.Addr().String()), Path: "/hc"}
	if err := p.Check(context.Background()); err == nil {
		t.Fatal("500 must fail the probe")
	}
}

func TestProbeHonorsContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := portOf(t, ln.Addr().String())
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Prober{Port: port}
	if err := p.Check(ctx); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
