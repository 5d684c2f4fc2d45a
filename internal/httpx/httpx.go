// Package httpx provides the retrying HTTP transport both platform
// adapters share. Transient failures (429/503/5xx, timeouts, connection
// resets) are retried with exponential backoff and jitter; the final
// outcome is returned to the caller for classification.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alekspetrov/tether/internal/logging"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxElapsed = 2 * time.Minute
	maxRetryAfterWait = 60 * time.Second
	maxBodyBytes      = 10 << 20
)

// Response is a fully read HTTP response. Bodies are buffered so requests
// can be retried and callers never deal with half-consumed streams.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Client wraps http.Client with retry on transient failures. Request
// construction happens per attempt so bodies can be re-sent.
type Client struct {
	http       *http.Client
	maxElapsed time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxElapsed caps the total time spent retrying one logical request.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Client) { c.maxElapsed = d }
}

// New creates a retrying HTTP client.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: defaultTimeout},
		maxElapsed: defaultMaxElapsed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the request produced by newReq, retrying while the response
// status is retryable or the transport fails. When the retry budget runs
// out on a retryable status, the last response is returned as-is so the
// caller keeps ownership of classification. Retry-After headers on 429 and
// 503 responses are honored up to a bound.
func (c *Client) Do(ctx context.Context, newReq func() (*http.Request, error)) (*Response, error) {
	var last *Response

	operation := func() error {
		req, err := newReq()
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.attempt(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		last = resp
		if retryableStatus(resp.StatusCode) {
			if wait := retryAfter(resp); wait > 0 {
				logging.DebugContext(ctx, "honoring Retry-After", "status", resp.StatusCode, "wait", wait)
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return fmt.Errorf("retryable status %d", resp.StatusCode)
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = c.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		if last != nil && retryableStatus(last.StatusCode) {
			return last, nil
		}
		return nil, err
	}

	return last, nil
}

// attempt sends one request and buffers its body.
func (c *Client) attempt(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}

// retryableStatus reports whether the status code warrants a retry.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter extracts a bounded Retry-After wait from a response.
func retryAfter(r *Response) time.Duration {
	header := r.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		wait := time.Duration(secs) * time.Second
		if wait > maxRetryAfterWait {
			wait = maxRetryAfterWait
		}
		return wait
	}

	if at, err := http.ParseTime(header); err == nil {
		wait := time.Until(at)
		if wait < 0 {
			return 0
		}
		if wait > maxRetryAfterWait {
			wait = maxRetryAfterWait
		}
		return wait
	}

	return 0
}
