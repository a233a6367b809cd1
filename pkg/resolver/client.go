// Package resolver provides the client for the external command-resolution
// collaborator. Finalized in-scope transcripts go in; the text to speak back
// comes out.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bevpro/voicerelay/internal/httpc"
)

// DefaultTimeout bounds a single resolve round-trip.
const DefaultTimeout = 15 * time.Second

// ErrNoResolver is returned when the client has no endpoint configured.
var ErrNoResolver = errors.New("resolver: no endpoint configured")

// Request is one finalized transcript to resolve.
type Request struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id,omitempty"`
}

// Result is the resolver's reply.
type Result struct {
	// Say is the text to speak back to the user.
	Say string `json:"say"`

	// Action names the resolved intent, if the resolver reports one.
	Action string `json:"action,omitempty"`

	// Data carries action-specific payload for the client UI.
	Data json.RawMessage `json:"data,omitempty"`
}

// APIError is a non-2xx resolver response.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("resolver: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client resolves transcripts against the command-resolution endpoint.
// Safe for concurrent use.
type Client struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithTimeout bounds each resolve call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger.With("component", "resolver") }
}

// NewClient creates a resolver client for the given endpoint URL.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		client:  httpc.Client,
		logger:  slog.Default().With("component", "resolver"),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve sends one transcript and returns the reply. The call is bounded by
// the client timeout on top of any caller deadline.
func (c *Client) Resolve(ctx context.Context, req Request) (*Result, error) {
	if c.url == "" {
		return nil, ErrNoResolver
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("resolver: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("resolver: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Session-ID", req.SessionID)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("resolver: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("resolver: decode response: %w", err)
	}

	c.logger.Debug("resolved command",
		"session_id", req.SessionID,
		"chars", len(req.Text),
		"action", result.Action,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &result, nil
}
