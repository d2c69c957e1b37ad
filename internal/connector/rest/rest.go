// Package rest is a Connector that executes queries over HTTP against an
// xfilter server's POST /query endpoint.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/xfilter/internal/connector"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a non-JSON error body ends up in an error.
const maxErrorBody = 4 << 10

// Connector posts compiled queries to a remote server.
//
// Thread-safety: Connector is safe for concurrent use; it holds no state
// beyond its http.Client.
type Connector struct {
	baseURL    string
	httpClient *http.Client
	header     http.Header
	logger     *slog.Logger
}

// Option configures a Connector.
type Option func(*Connector)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Connector) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// WithHeader adds a header to every request (for example Authorization).
func WithHeader(key, value string) Option {
	return func(r *Connector) { r.header.Add(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Connector) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a connector for the server at baseURL (for example
// "http://localhost:8080").
func New(baseURL string, opts ...Option) *Connector {
	r := &Connector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		header:     http.Header{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute sends the query and decodes the result table.
//
// Errors reported by the server come back as *connector.RemoteError;
// everything else is a transport or decoding failure.
func (r *Connector) Execute(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error) {
	body, err := json.Marshal(connector.NewRequest("", q))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out connector.Response
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &connector.RemoteError{Status: resp.StatusCode, Message: truncate(string(data))}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &connector.RemoteError{Status: resp.StatusCode, Message: msg}
	}

	table, err := out.Result()
	if err != nil {
		return nil, err
	}
	r.logger.Debug("rest query executed", "url", r.baseURL, "rows", table.NumRows())
	return table, nil
}

// Health checks the server's /healthz endpoint.
func (r *Connector) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("server unhealthy: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
