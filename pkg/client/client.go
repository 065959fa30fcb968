// Package client is an HTTP client for the fleetd daemon API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client communicates with a running fleetd daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // optional
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a fleetd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Status returns the status of every managed service.
func (c *Client) Status(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	if err := c.getJSON(ctx, c.baseURL+"/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusOne returns the status of one service.
func (c *Client) StatusOne(ctx context.Context, name string) (ServiceStatus, error) {
	var out ServiceStatus
	u := c.baseURL + "/status?name=" + url.QueryEscape(name)
	if err := c.getJSON(ctx, u, &out); err != nil {
		return ServiceStatus{}, err
	}
	return out, nil
}

// StartAll starts the whole fleet in dependency order.
func (c *Client) StartAll(ctx context.Context) error {
	return c.post(ctx, c.baseURL+"/start")
}

// StopAll stops the whole fleet in reverse dependency order.
func (c *Client) StopAll(ctx context.Context, grace time.Duration) error {
	u := c.baseURL + "/stop"
	if grace > 0 {
		u += "?grace=" + url.QueryEscape(grace.String())
	}
	return c.post(ctx, u)
}

// Restart restarts one service by name.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.post(ctx, c.baseURL+"/restart?name="+url.QueryEscape(name))
}

// Logs fetches the most recent captured log lines for a service.
func (c *Client) Logs(ctx context.Context, name string, n int) (LogsResponse, error) {
	var out LogsResponse
	u := c.baseURL + "/logs?name=" + url.QueryEscape(name)
	if n > 0 {
		u += "&n=" + strconv.Itoa(n)
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return LogsResponse{}, err
	}
	return out, nil
}

// History fetches recent lifecycle transitions, newest first. Empty name
// matches all services.
func (c *Client) History(ctx context.Context, name string, limit int) ([]TransitionEvent, error) {
	u := c.baseURL + "/history?limit=" + strconv.Itoa(limit)
	if name != "" {
		u += "&name=" + url.QueryEscape(name)
	}
	var out []TransitionEvent
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er ErrorResponse
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("daemon returned %d", resp.StatusCode)
}
