// Package overpass sends query text to an Overpass-style interpreter endpoint
// and returns the raw reply.
package overpass

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/osm-viewport/internal/core/observability"
)

const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// maxBody caps how much of a reply is read into memory.
const maxBody = 256 << 20

// Fetcher returns the raw reply for one query text.
type Fetcher interface {
	Fetch(ctx context.Context, query string) ([]byte, error)
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	endpoint *url.URL
	startNow func() time.Time // for tests
}

var _ Fetcher = (*Client)(nil)

func New(logger *slog.Logger, client *http.Client, endpoint string) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse overpass url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("overpass url must be http(s), got %q", endpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:   logger,
		client:   client,
		endpoint: u,
		startNow: time.Now,
	}, nil
}

func (c *Client) Endpoint() string { return c.endpoint.String() }

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying the same query may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Fetch posts the query text unchanged as the "data" form field.
func (c *Client) Fetch(ctx context.Context, query string) ([]byte, error) {
	form := url.Values{}
	form.Set("data", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := c.startNow()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.ObserveUpstreamLatency("overpass", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("overpass", strconv.Itoa(resp.StatusCode), dur.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.logger.DebugContext(ctx, "overpass fetch done",
		"status", resp.StatusCode,
		"bytes", len(b),
		"duration", dur.String())
	return b, nil
}
