package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "internxt-webdav/0.1"
)

// Endpoints holds the base URLs of the two remote APIs. DriveURL serves
// folder and file metadata; NetworkURL serves shard placement.
type Endpoints struct {
	DriveURL   string
	NetworkURL string
}

// Client is an HTTP client for the remote drive and network APIs.
// It handles request construction, bearer authentication, retry with
// exponential backoff, and error classification.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	tokens     oauth2.TokenSource
	userAgent  string
	maxRetries int
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override this.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxRetries overrides the retry budget for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient creates a remote API client.
func NewClient(endpoints Endpoints, httpClient *http.Client, tokens oauth2.TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		endpoints:  endpoints,
		httpClient: httpClient,
		tokens:     tokens,
		userAgent:  defaultUserAgent,
		maxRetries: defaultMaxRetries,
		logger:     logger,
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do executes an HTTP request against url with retry. For non-nil bodies,
// Content-Type is set to application/json. The body is replayed on every
// attempt. The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			if attempt < c.maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("url", url),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s %s failed after %d retries: %w", method, url, c.maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := newError(resp, errBody)

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, apiErr
	}
}

// doJSON marshals in (when non-nil), executes the request and decodes the
// response into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body []byte

	if in != nil {
		var err error

		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding %s %s body: %w", method, url, err)
		}
	}

	resp, err := c.Do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s %s response: %w", method, url, err)
	}

	return nil
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	tok.SetAuthHeader(req)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
