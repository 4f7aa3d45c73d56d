// Package client talks to the CDC service's ops HTTP endpoints.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/dispatcher"
)

// ErrNotReady is returned by Ready while the service answers 503.
var ErrNotReady = errors.New("service not ready")

type OpsClient struct {
	baseURL string
	client  *http.Client
}

// VersionInfo is the /version response.
type VersionInfo struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	PolicyVersion string `json:"policy_version"`
}

func NewOpsClient(baseURL string) *OpsClient {
	return &OpsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Status fetches the consumer snapshot.
func (c *OpsClient) Status(ctx context.Context) (dispatcher.Status, error) {
	var st dispatcher.Status
	err := c.get(ctx, "/status", http.StatusOK, &st)
	return st, err
}

func (c *OpsClient) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	err := c.get(ctx, "/version", http.StatusOK, &v)
	return v, err
}

// Ready returns nil when every channel is subscribed and ErrNotReady while
// the service reports 503.
func (c *OpsClient) Ready(ctx context.Context) error {
	err := c.get(ctx, "/ready", http.StatusOK, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s", ErrNotReady, se.Body)
	}
	return err
}

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s failed with status %d: %s", e.Path, e.Code, e.Body)
}

func (c *OpsClient) get(ctx context.Context, path string, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
