package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the per-request timeout applied when none is configured.
const DefaultTimeout = 15 * time.Second

// DefaultUserAgent is sent when the caller does not configure one.
const DefaultUserAgent = "Helixir-ReferenceIngestion/1.0"

// DefaultRetryDelay is the base delay between retries when none is configured.
const DefaultRetryDelay = time.Second

// RequestObserver receives one callback per HTTP exchange issued through
// PostForm. statusCode is zero when no response was received.
type RequestObserver interface {
	ObserveRequest(source, endpoint string, statusCode int, err error, duration time.Duration)
}

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source names the upstream service for instrumentation (e.g. "pubmed").
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the number of extra attempts after a 429, a 5xx or a
	// network error. Zero disables retries, so the first failure is final.
	MaxRetries int

	// RetryDelay is the base delay between retries. A Retry-After header
	// overrides it.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Observer is notified of every attempt issued through PostForm.
	Observer RequestObserver
}

// HTTPClient wraps http.Client with rate limiting and optional retries.
// It is safe for concurrent use and read-only after construction.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client with rate limiting.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	// Apply defaults
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// PostForm sends form as an application/x-www-form-urlencoded POST to rawURL.
// endpoint is a short label used for instrumentation. Every attempt waits for
// the rate limiter. When MaxRetries > 0, 429 and 5xx responses and network
// errors are retried with the same body; once retries are exhausted the last
// response is returned so the caller sees its status. The caller owns the
// response body.
func (c *HTTPClient) PostForm(ctx context.Context, rawURL, endpoint string, form url.Values) (*http.Response, error) {
	encoded := form.Encode()

	var (
		lastErr error
		delay   = c.config.RetryDelay
	)
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, delay); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", c.config.UserAgent)

		resp, err := c.send(req, endpoint)
		if err != nil {
			// Caller cancellation is returned as-is; a client timeout is a network error.
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			delay = c.config.RetryDelay
			continue
		}

		if attempt == c.config.MaxRetries || !shouldRetry(resp.StatusCode) {
			return resp, nil
		}

		delay = c.retryDelay(resp)
		// Drain so the connection can be reused by the next attempt.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return nil, lastErr
}

// send waits for the rate limiter, issues one attempt and reports it to the
// observer.
func (c *HTTPClient) send(req *http.Request, endpoint string) (*http.Response, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.config.Observer != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.config.Observer.ObserveRequest(c.config.Source, endpoint, status, err, time.Since(start))
	}
	return resp, err
}

// shouldRetry reports whether a response with statusCode is worth retrying:
// 429 Too Many Requests and any 5xx.
func shouldRetry(statusCode int) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	return statusCode >= 500 && statusCode < 600
}

// retryDelay honours a Retry-After header given in seconds or as an HTTP
// date, and otherwise uses the configured delay.
func (c *HTTPClient) retryDelay(resp *http.Response) time.Duration {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return c.config.RetryDelay
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.config.RetryDelay
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return c.config.RetryDelay
}

// waitForRetry waits for delay, returning early if ctx is done.
func waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
