// Package client talks to a smart home server: REST calls for commands and
// reads, and a websocket Stream for the event bus.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"smarthome/internal/device"

	"go.uber.org/zap"
)

// TransportError reports a request that did not produce a usable answer:
// the server was unreachable or replied with a 5xx status.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is a REST client for the device endpoints
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client for the server at baseURL (scheme://host:port).
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// BaseURL returns the server address the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List fetches every device.
func (c *Client) List(ctx context.Context) ([]device.Device, error) {
	var devices []device.Device
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Get fetches one device.
func (c *Client) Get(ctx context.Context, id int) (device.Device, error) {
	var d device.Device
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/devices/%d", id), nil, &d); err != nil {
		return device.Device{}, fmt.Errorf("device %d: %w", id, err)
	}
	return d, nil
}

// Toggle inverts isOn and returns the device as the server stored it.
func (c *Client) Toggle(ctx context.Context, id int) (device.Device, error) {
	var d device.Device
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/devices/%d/toggle", id), nil, &d); err != nil {
		return device.Device{}, fmt.Errorf("device %d: %w", id, err)
	}
	return d, nil
}

// Update sends a partial update and returns the device as the server
// stored it.
func (c *Client) Update(ctx context.Context, id int, p device.Patch) (device.Device, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return device.Device{}, fmt.Errorf("encode patch: %w", err)
	}

	var d device.Device
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/devices/%d/update", id), body, &d); err != nil {
		return device.Device{}, fmt.Errorf("device %d: %w", id, err)
	}
	return d, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return &TransportError{Op: "health", Err: fmt.Errorf("status %q", resp.Status)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("Request completed",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return device.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", device.ErrInvalidInput, errorMessage(data))
	case resp.StatusCode >= 300:
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts the {"error": "..."} message from a response body.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
