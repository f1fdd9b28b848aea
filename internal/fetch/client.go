// Package fetch provides the retrying HTTP client used by the static
// extraction path.
package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/machlab/pricewatch/internal/extractor"
)

const maxBodyBytes = 10 << 20 // 10 MiB cap on fetched pages

// Client fetches product pages with exponential backoff on transient
// failures. Safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
	retries   int
	baseDelay time.Duration
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetries sets the total number of attempts (default 3).
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithBaseDelay sets the first backoff interval (default 1s). Tests use a
// short delay to keep retry paths fast.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// WithTransport overrides the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// New builds a fetch client.
func New(timeout time.Duration, userAgent string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
		retries:   3,
		baseDelay: time.Second,
		logger:    logger.With("component", "fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches a URL and returns the response body. Transient failures
// (network errors, timeouts, 5xx, 429, Cloudflare 52x) are retried with
// exponential backoff plus jitter. 4xx other than 429 fail immediately
// with a permanent error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("retrying fetch", "url", url, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, extractor.WrapError(extractor.CategoryCancelled, ctx.Err(), "fetch %s", url)
			}
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		var exErr *extractor.Error
		if errors.As(err, &exErr) && exErr.Category != extractor.CategoryFetchTransient {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, extractor.WrapError(extractor.CategoryFetchPermanent, err, "building request for %s", url)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, extractor.WrapError(extractor.CategoryCancelled, ctx.Err(), "fetch %s", url)
		}
		// Network failures and client timeouts are worth a retry.
		return nil, extractor.WrapError(extractor.CategoryFetchTransient, err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, url); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, extractor.WrapError(extractor.CategoryFetchTransient, err, "reading body of %s", url)
	}
	return body, nil
}

func classifyStatus(code int, url string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return extractor.NewError(extractor.CategoryFetchTransient, "fetch %s: status %d", url, code)
	case code >= 520 && code <= 527:
		// Cloudflare origin errors.
		return extractor.NewError(extractor.CategoryFetchTransient, "fetch %s: status %d", url, code)
	case code >= 500:
		return extractor.NewError(extractor.CategoryFetchTransient, "fetch %s: status %d", url, code)
	case code >= 400:
		return extractor.NewError(extractor.CategoryFetchPermanent, "fetch %s: status %d", url, code)
	default:
		return extractor.NewError(extractor.CategoryFetchPermanent, "fetch %s: unexpected status %d", url, code)
	}
}

// backoff returns baseDelay * 2^(attempt-1) with up to 25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
