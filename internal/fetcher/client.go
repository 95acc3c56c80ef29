// Package fetcher is the single choke point for every outbound call to
// EDGAR. Each request carries the mandatory identification header, passes
// through the shared rate limiter, and is retried with exponential backoff
// on transient failures.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alphaops/edgar-ingest/internal/ratelimit"
	"github.com/alphaops/edgar-ingest/internal/resilience"
)

// PlaceholderUserAgent is the shipped default identification header. SEC
// compliance requires a real contact address; running with this value logs
// a loud warning at construction time.
const PlaceholderUserAgent = "edgar-ingest/0.1 (contact@example.com)"

// Client fetches EDGAR resources through the rate limiter.
type Client interface {
	// FetchText fetches the URL and returns the body as a string.
	FetchText(ctx context.Context, url string) (string, error)

	// FetchBytes fetches the URL and returns the raw body.
	FetchBytes(ctx context.Context, url string) ([]byte, error)

	// FetchFeed fetches the configured live filing feed.
	FetchFeed(ctx context.Context) ([]byte, error)
}

// Options configures the HTTP client.
type Options struct {
	UserAgent  string
	FeedURL    string
	Timeout    time.Duration
	MaxRetries int

	// HTTPClient overrides the underlying transport (tests).
	HTTPClient *http.Client
}

// HTTPClient implements Client using net/http.
type HTTPClient struct {
	client  *http.Client
	opts    Options
	limiter ratelimit.Limiter
	breaker *resilience.CircuitBreaker
}

// NewHTTPClient creates a compliant EDGAR client. Every request acquires a
// slot from the given limiter before dispatch.
func NewHTTPClient(opts Options, limiter ratelimit.Limiter) *HTTPClient {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = PlaceholderUserAgent
	}
	if strings.Contains(opts.UserAgent, "example.com") {
		zap.L().Warn("placeholder SEC User-Agent in use; set sec.user_agent to a real contact address before production use",
			zap.String("user_agent", opts.UserAgent),
		)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	cbCfg := resilience.DefaultCircuitBreakerConfig()
	// Plain 4xx answers (missing index files, bad accessions) are not an
	// EDGAR outage and must not open the circuit.
	cbCfg.ShouldTrip = resilience.IsTransient
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("edgar circuit state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return &HTTPClient{
		client:  client,
		opts:    opts,
		limiter: limiter,
		breaker: resilience.NewCircuitBreaker(cbCfg),
	}
}

// NormalizeURL upgrades plain-http URLs to https. EDGAR feed and index
// entries still carry http:// links that redirect.
func NormalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") {
		return "https://" + strings.TrimPrefix(raw, "http://")
	}
	return raw
}

// StatusError reports a non-success HTTP status for a fetched URL.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return "fetcher: http " + http.StatusText(e.StatusCode) + " (" + e.URL + ")"
}

// IsNotFound reports whether err is a 404 response. The reconciler treats a
// missing daily index as a non-trading day rather than a failure.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// get performs a rate-limited GET with retries on transient failures.
// Non-retryable client errors (4xx other than 429) surface immediately.
// If EDGAR fails repeatedly even after retries, the circuit opens and calls
// are rejected until the reset timeout passes.
func (c *HTTPClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return c.getOnce(ctx, rawURL)
	})
}

func (c *HTTPClient) getOnce(ctx context.Context, rawURL string) ([]byte, error) {
	target := NormalizeURL(rawURL)

	cfg := resilience.RetryConfig{
		MaxAttempts:    c.opts.MaxRetries,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		OnRetry:        resilience.RetryLogger("edgar", "get"),
	}

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: create request for %s", target)
		}
		// No explicit Accept-Encoding: the transport negotiates gzip itself
		// and transparently decompresses the response body.
		req.Header.Set("User-Agent", c.opts.UserAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			// Network-level failures are transient by default.
			return nil, eris.Wrapf(err, "fetcher: get %s", target)
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, resilience.NewTransientError(
					eris.Wrapf(err, "fetcher: read body from %s", target), 0)
			}
			return body, nil

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			te := resilience.NewTransientError(
				&StatusError{StatusCode: resp.StatusCode, URL: target}, resp.StatusCode)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				te.RetryAfter = time.Duration(secs) * time.Second
			}
			return nil, te

		default:
			// Remaining 4xx: not retryable, caller decides what it means.
			return nil, &StatusError{StatusCode: resp.StatusCode, URL: target}
		}
	})
}

// FetchText fetches the URL and returns the body as a string.
func (c *HTTPClient) FetchText(ctx context.Context, url string) (string, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBytes fetches the URL and returns the raw body.
func (c *HTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url)
}

// FetchFeed fetches the configured live filing feed.
func (c *HTTPClient) FetchFeed(ctx context.Context) ([]byte, error) {
	if c.opts.FeedURL == "" {
		return nil, eris.New("fetcher: no feed URL configured")
	}
	zap.L().Debug("polling filing feed", zap.String("url", c.opts.FeedURL))
	return c.get(ctx, c.opts.FeedURL)
}
