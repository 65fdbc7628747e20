// Package fetch is the shared upstream HTTP/WS layer. Every adapter call
// goes through one Client, which owns the retry policy, the per-call
// timeout, and a per-host rate limiter.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"fundrate-collector/internal/metrics"
)

const (
	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 30 * time.Second

	retryInitialWait = 1 * time.Second
	retryMaxWait     = 10 * time.Second
	retryBudget      = 60 * time.Second

	hostRatePerSec = 20
	hostRateBurst  = 40
)

// StatusError is a non-2xx upstream response. It is retried like a
// transport error; after the retry budget it reaches the caller.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// Client issues JSON requests with retry and rate limiting.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	budget     time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetryBudget overrides the cumulative retry budget.
func WithRetryBudget(d time.Duration) Option {
	return func(c *Client) { c.budget = d }
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient substitutes the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a Client with the default policy.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		budget:     retryBudget,
		log:        zerolog.Nop(),
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON issues a GET with optional query params and decodes the JSON
// response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	full := rawURL
	if len(params) > 0 {
		full = rawURL + "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, full, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response
// into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, encoded, out)
}

// do runs one request under the retry policy: exponential backoff from
// retryInitialWait, each wait capped at retryMaxWait, aborted once
// retryBudget of cumulative elapsed time is spent. Transport errors and
// non-2xx statuses retry; malformed response bodies do not.
func (c *Client) do(ctx context.Context, method, fullURL string, body []byte, out any) error {
	parsed, err := url.Parse(fullURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", fullURL, err)
	}
	limiter := c.limiterFor(parsed.Host)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialWait
	policy.MaxInterval = retryMaxWait
	policy.MaxElapsedTime = c.budget

	attempt := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, fullURL, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, parsed.Host, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response from %s: %w", parsed.Host, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Status: resp.StatusCode, Body: truncate(data, 256)}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response from %s: %w", parsed.Host, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.HTTPRetries.WithLabelValues(parsed.Host).Inc()
		c.log.Debug().
			Err(err).
			Str("url", parsed.Host+parsed.Path).
			Dur("retry_in", wait).
			Msg("upstream request failed, retrying")
	}

	timer := metrics.NewTimer()
	err = backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify)
	timer.ObserveDuration(metrics.HTTPRequestDuration, parsed.Host)
	if err != nil {
		metrics.HTTPRequestErrors.WithLabelValues(parsed.Host).Inc()
	}
	return err
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(hostRatePerSec, hostRateBurst)
		c.limiters[host] = l
	}
	return l
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
