// Package qaclient is a small HTTP client for the member-qa API.
package qaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/member-qa/engine/domain"
	"github.com/WessleyAI/member-qa/pkg/fn"
)

// Default per-call timeouts.
const (
	DefaultHealthTimeout = 5 * time.Second
	DefaultAskTimeout    = 30 * time.Second
)

var (
	// ErrUnreachable means no HTTP response came back at all.
	ErrUnreachable = errors.New("cannot reach service")
	// ErrTimeout means the call ran past its timeout.
	ErrTimeout = errors.New("request timed out")
)

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("service answered %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("service answered %d: %s", e.Code, e.Detail)
}

// Client talks to a member-qa server.
type Client struct {
	BaseURL       string
	HTTPClient    *http.Client
	HealthTimeout time.Duration
	AskTimeout    time.Duration
	// Retry governs retries of connection failures on Ask. HTTP error
	// statuses are never retried.
	Retry fn.RetryOpts
}

// New creates a Client with default timeouts and three connection attempts.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient:    &http.Client{},
		HealthTimeout: DefaultHealthTimeout,
		AskTimeout:    DefaultAskTimeout,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     2 * time.Second,
		},
	}
}

// Health checks that the service answers GET /health with 200.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("qaclient: health: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("qaclient: health: %w", err)
	}
	return nil
}

// Ask posts a question and decodes the answer.
func (c *Client) Ask(ctx context.Context, question string) (*domain.Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.AskTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, fmt.Errorf("qaclient: ask: %w", err)
	}

	opts := c.Retry
	opts.Retryable = func(err error) bool { return errors.Is(err, ErrUnreachable) }
	res := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[*domain.Answer] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/ask", bytes.NewReader(body))
		if err != nil {
			return fn.Err[*domain.Answer](err)
		}
		req.Header.Set("Content-Type", "application/json")
		var ans domain.Answer
		if err := c.do(req, &ans); err != nil {
			return fn.Err[*domain.Answer](err)
		}
		return fn.Ok(&ans)
	})

	ans, err := res.Unwrap()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, fmt.Errorf("qaclient: ask: %w", err)
	}
	return ans, nil
}

// do sends req, classifies transport failures and decodes a 2xx body into
// out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Detail: e.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
