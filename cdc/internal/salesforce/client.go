package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leadpulse/leadpulse/cdc/internal/metrics"
)

// APIError is a non-2xx response from Salesforce.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s: status %d: %s", ErrRequest, e.Status, body)
}

func (e *APIError) Unwrap() error { return ErrRequest }

// TokenSource supplies access tokens to the Client.
type TokenSource interface {
	Token(ctx context.Context) (*Token, error)
	Invalidate()
}

// ClientConfig configures the REST client.
type ClientConfig struct {
	// InstanceURL overrides the instance returned with the access token.
	InstanceURL string
	APIVersion  string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client calls the Salesforce REST API.
type Client struct {
	auth        TokenSource
	instanceURL string
	apiVersion  string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient returns a REST client authenticated by auth.
func NewClient(auth TokenSource, cfg ClientConfig) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "59.0"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		auth:        auth,
		instanceURL: strings.TrimRight(cfg.InstanceURL, "/"),
		apiVersion:  strings.TrimPrefix(cfg.APIVersion, "v"),
		http:        cfg.HTTPClient,
		logger:      logger.With(slog.String("component", "salesforce")),
	}
}

func (c *Client) dataPath() string {
	return "/services/data/v" + c.apiVersion
}

// GetRecord fetches one record. fields limits the returned columns.
func (c *Client) GetRecord(ctx context.Context, sobject, id string, fields []string) (Record, error) {
	var params url.Values
	if len(fields) > 0 {
		params = url.Values{"fields": {strings.Join(fields, ",")}}
	}
	var rec Record
	if err := c.do(ctx, http.MethodGet, c.dataPath()+"/sobjects/"+sobject+"/"+url.PathEscape(id), params, nil, &rec); err != nil {
		return nil, err
	}
	delete(rec, "attributes")
	return rec, nil
}

// UpdateRecord applies a partial update in a single PATCH, so every field in
// fields is written together or not at all.
func (c *Client) UpdateRecord(ctx context.Context, sobject, id string, fields map[string]any) error {
	c.logger.InfoContext(ctx, "Updating record",
		slog.String("sobject", sobject),
		slog.String("id", id),
		slog.Int("fields", len(fields)))
	return c.do(ctx, http.MethodPatch, c.dataPath()+"/sobjects/"+sobject+"/"+url.PathEscape(id), nil, fields, nil)
}

// CreateRecord inserts a record and returns its Id.
func (c *Client) CreateRecord(ctx context.Context, sobject string, fields map[string]any) (string, error) {
	var out struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, c.dataPath()+"/sobjects/"+sobject, nil, fields, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type queryResponse struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []Record `json:"records"`
}

// Query runs q and returns every page of results in the requested order.
func (c *Client) Query(ctx context.Context, q Query) ([]Record, error) {
	return c.QuerySOQL(ctx, q.SOQL())
}

// QuerySOQL runs a raw SOQL string.
func (c *Client) QuerySOQL(ctx context.Context, soql string) ([]Record, error) {
	c.logger.DebugContext(ctx, "Executing SOQL", slog.String("query", soql))

	var out []Record
	path := c.dataPath() + "/query"
	params := url.Values{"q": {soql}}
	for {
		var page queryResponse
		if err := c.do(ctx, http.MethodGet, path, params, nil, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Records {
			delete(r, "attributes")
			out = append(out, r)
		}
		if page.Done || page.NextRecordsURL == "" {
			break
		}
		path, params = page.NextRecordsURL, nil
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		status, respBody, err := c.send(ctx, method, path, params, payload)
		if err != nil {
			return err
		}

		switch {
		case status == http.StatusUnauthorized && attempt == 0:
			c.auth.Invalidate()
			continue
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
		case status < 200 || status > 299:
			return &APIError{Status: status, Body: string(respBody)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%w: decode response: %w", ErrRequest, err)
			}
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, payload []byte) (int, []byte, error) {
	tok, err := c.auth.Token(ctx)
	if err != nil {
		return 0, nil, err
	}
	base := c.instanceURL
	if base == "" {
		base = tok.InstanceURL
	}
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.SFAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SFAPIRequests.WithLabelValues(method, "error").Inc()
		c.logger.ErrorContext(ctx, "API request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return 0, nil, fmt.Errorf("%w: %s %s: %w", ErrRequest, method, path, err)
	}
	defer resp.Body.Close()
	metrics.SFAPIRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", ErrRequest, err)
	}
	return resp.StatusCode, respBody, nil
}
