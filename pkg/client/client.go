// Package client talks to the RAG pipeline backend over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tcmartin/pipelinestudio/pkg/models"
)

// Backend endpoints
const (
	QueryPath   = "/api/v1/query"
	StreamPath  = "/api/v1/query/stream"
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// DefaultMaxFrameBytes bounds a single stream event
const DefaultMaxFrameBytes = 1 << 20

// ErrNoStreamBody is returned when the stream endpoint answers without a body
var ErrNoStreamBody = errors.New("stream response has no body")

// StatusError is returned for non-2xx backend responses
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.StatusCode, e.Body)
}

// Client calls the pipeline backend
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	stream        *http.Client
	maxFrameBytes int

	streamFallback bool
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sends key as a bearer token
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout bounds non-streaming requests
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the client used for all requests. Its timeout also
// applies to streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.stream = hc
	}
}

// WithMaxFrameBytes bounds the size of a single stream event
func WithMaxFrameBytes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxFrameBytes = n
		}
	}
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: 60 * time.Second},
		stream:        &http.Client{},
		maxFrameBytes: DefaultMaxFrameBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(text)}
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Query runs a query synchronously
func (c *Client) Query(ctx context.Context, q models.QueryRequest) (*models.QueryResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, QueryPath, q)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline query request failed: %w", err)
	}
	defer resp.Body.Close()

	if !ok(resp) {
		return nil, statusError("pipeline query", resp)
	}

	var out models.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	return &out, nil
}

// Stream opens the streaming endpoint. The caller must Close the returned reader.
func (c *Client) Stream(ctx context.Context, q models.QueryRequest) (*FrameReader, error) {
	req, err := c.newRequest(ctx, http.MethodPost, StreamPath, q)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline stream request failed: %w", err)
	}
	if !ok(resp) {
		defer resp.Body.Close()
		return nil, statusError("pipeline stream", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoStreamBody
	}
	return NewFrameReader(resp.Body, c.maxFrameBytes), nil
}

// Health fetches backend health
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, HealthPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if !ok(resp) {
		return nil, statusError("health check", resp)
	}

	var out models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &out, nil
}

// Metrics fetches and parses the backend's Prometheus metrics
func (c *Client) Metrics(ctx context.Context) (map[string]float64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, MetricsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics request failed: %w", err)
	}
	defer resp.Body.Close()

	if !ok(resp) {
		return nil, statusError("metrics fetch", resp)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}
	return ParsePrometheusText(string(text)), nil
}
