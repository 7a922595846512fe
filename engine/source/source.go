// Package source fetches member messages from the external messages API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/pkg/resilience"
)

// DefaultURL is the public messages endpoint.
const DefaultURL = "https://november7-730026606190.europe-west1.run.app/messages"

// maxBody bounds how much of a response is read.
const maxBody = 32 << 20

// Config configures the messages API client.
type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		URL:       DefaultURL,
		Timeout:   15 * time.Second,
		UserAgent: "member-qa/1.0",
	}
}

// Client fetches the full message list in one request.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *resilience.Breaker
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithBreaker guards fetches with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option { return func(cl *Client) { cl.breaker = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(cl *Client) { cl.logger = l } }

// New creates a Client. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "source")
	return c
}

// envelope is the messages API response. Items is a pointer so a missing
// key can be told apart from an empty list.
type envelope struct {
	Total *int             `json:"total,omitempty"`
	Items *[]domain.Record `json:"items"`
}

// Fetch returns every record in source order. Any failure wraps
// domain.ErrDataSourceUnavailable.
func (c *Client) Fetch(ctx context.Context) ([]domain.Record, error) {
	var records []domain.Record
	call := func(ctx context.Context) error {
		var err error
		records, err = c.fetch(ctx)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("source: fetch: %w: %w", domain.ErrDataSourceUnavailable, err)
	}
	return records, nil
}

func (c *Client) fetch(ctx context.Context) ([]domain.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if env.Items == nil {
		return nil, fmt.Errorf("decode: response has no items field")
	}

	records := *env.Items
	attrs := []any{"records", len(records), "took", time.Since(start)}
	if env.Total != nil && *env.Total != len(records) {
		attrs = append(attrs, "total", *env.Total)
	}
	c.logger.Info("fetched messages", attrs...)
	return records, nil
}
