// Package probe implements readiness probing for managed services: a TCP
// connect against the service's bind port, optionally followed by an HTTP
// GET against a health path. Probes are always executed on a worker
// goroutine with their own timeout; callers deliver the outcome back onto
// the scheduling loop.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

const DefaultTimeout = 2 * time.Second

// Prober checks whether a service listening on Port is ready. If Path is
// non-empty, an HTTP GET against it must return a non-5xx, non-4xx status.
type Prober struct {
	Host    string // defaults to 127.0.0.1
	Port    int
	Path    string
	Timeout time.Duration
}

func (p Prober) host() string {
	if p.Host == "" {
		return "127.0.0.1"
	}
	return p.Host
}

func (p Prober) timeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// Check performs one probe attempt. It returns nil when the service is
// ready to serve.
func (p Prober) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	addr := net.JoinHostPort(p.host(), fmt.Sprintf("%d", p.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	_ = conn.Close()

	if p.Path == "" {
		return nil
	}
	url := fmt.Sprintf("http://%s%s", addr, p.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("health GET %s: status %d", url, resp.StatusCode)
	}
	return nil
}
