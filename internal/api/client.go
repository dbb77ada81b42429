// internal/api/client.go
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to another rigstream server's HTTP surface, typically to
// subscribe to its peer transform stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return body, nil
}

// Healthcheck checks if the remote server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	if _, err := c.get(ctx, "/healthcheck"); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	return nil
}

// EnableStreaming asks the remote server to stream an object to this host
// and returns the host:port to bind a peer receiver on.
func (c *Client) EnableStreaming(ctx context.Context, uid uint16) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("/objects/%d?streaming-on", uid))
	if err != nil {
		return "", err
	}
	addr := strings.TrimSpace(string(body))
	if addr == "" {
		return "", fmt.Errorf("empty peer address for object %d", uid)
	}
	return addr, nil
}

// DisableStreaming stops streaming an object to this host.
func (c *Client) DisableStreaming(ctx context.Context, uid uint16) error {
	_, err := c.get(ctx, fmt.Sprintf("/objects/%d?streaming-off", uid))
	return err
}

// FetchObject downloads an object in the given interchange format.
func (c *Client) FetchObject(ctx context.Context, uid uint16, format string, hires bool) ([]byte, error) {
	path := fmt.Sprintf("/objects/%d.%s", uid, format)
	if hires {
		path += "?hires"
	}
	return c.get(ctx, path)
}
