package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/triggersync/pkg/marker"
)

// Client talks to a running bridge over HTTP. It implements the engine's
// dispatcher.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient returns a client for the bridge at baseURL. timeout bounds each
// call and should exceed the bridge's device connect timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
	}
}

// Dispatch posts one marker to /send-marker. It returns nil only when the
// bridge reports the frame as written.
func (c *Client) Dispatch(ctx context.Context, code marker.Code, name string, details json.RawMessage) error {
	body, err := json.Marshal(SendRequest{Code: int(code), Name: name, Details: details})
	if err != nil {
		return fmt.Errorf("bridge: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-marker", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: post marker %d: %w", code, err)
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("bridge: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !res.Success {
		return fmt.Errorf("bridge: marker %d rejected with status %d: %s", code, resp.StatusCode, res.Error)
	}
	return nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.get(ctx, "/health", &out)
	return out, err
}

// Markers fetches the bridge's audit trail.
func (c *Client) Markers(ctx context.Context) (MarkersResponse, error) {
	var out MarkersResponse
	err := c.get(ctx, "/markers", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("bridge: decode %s: %w", path, err)
	}
	return nil
}
