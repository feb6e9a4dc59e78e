package overpass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wegman-software/trailgraph/internal/config"
	"github.com/wegman-software/trailgraph/internal/geo"
	"github.com/wegman-software/trailgraph/internal/logger"
)

// Client fetches region documents, trying each mirror in order with retries
// and exponential backoff on transient failures.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a client from the configuration.
func NewClient(cfg *config.Config) *Client {
	interval := cfg.QueryInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		endpoints: cfg.Endpoints,
		httpClient: &http.Client{
			Timeout: cfg.QueryTimeout,
		},
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Fetch downloads the way document for bounds and persists it to destPath
// before returning, so a crash during parsing can resume parsing rather than
// re-download. Returns the number of bytes written.
//
// An error is retryable if it is a network-layer transient or an HTTP 5xx or
// 429. Any other HTTP status is fatal for that endpoint but still allows
// moving on to the next mirror. All mirrors exhausted is an overall failure.
func (c *Client) Fetch(ctx context.Context, bounds geo.Bounds, destPath string) (int64, error) {
	log := logger.Get()
	query := BuildQuery(bounds)

	var lastErr error
	for _, endpoint := range c.endpoints {
		n, err := c.fetchFromEndpoint(ctx, endpoint, query, destPath)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = err
		log.Warn("Endpoint failed, trying next mirror",
			zap.String("endpoint", endpoint),
			zap.Error(err))
	}

	return 0, fmt.Errorf("all endpoints exhausted: %w", lastErr)
}

// fetchFromEndpoint retries a single endpoint with exponential backoff.
func (c *Client) fetchFromEndpoint(ctx context.Context, endpoint, query, destPath string) (int64, error) {
	log := logger.Get()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			log.Debug("Retrying after backoff",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		n, err := c.fetchOnce(ctx, endpoint, query, destPath)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !isRetryable(err) {
			return 0, err
		}
		lastErr = err
	}

	return 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// backoffDelay returns the delay before the given retry attempt: base, 2x
// base, 4x base and so on.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.baseDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// statusError marks a non-2xx HTTP response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (c *Client) fetchOnce(ctx context.Context, endpoint, query, destPath string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "trailgraph/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &statusError{code: resp.StatusCode}
	}

	// Persist via a temp file and rename so destPath is never truncated.
	tmp := destPath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create raw data file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write raw data file: %w", err)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename raw data file: %w", err)
	}

	return n, nil
}

// isRetryable classifies an error as a network-layer transient or a
// server-side condition worth retrying.
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true // timeouts, connection loss, unreachable hosts
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}

	return false
}
