// Package shard moves ciphertext segments to and from the storage nodes
// named in shard descriptors. It owns the retry budget, request timeouts
// and bandwidth limiting for shard I/O; everything above it treats a shard
// request as a single fallible call.
package shard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/metrics"
)

// Retry defaults.
const (
	defaultMaxRetries  = 5
	defaultBaseBackoff = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
	jitterPercent      = 25
)

// Options configures a Transport. Zero values select defaults.
type Options struct {
	HTTPClient  *http.Client
	Limiter     *BandwidthLimiter
	MaxRetries  int
	BaseBackoff time.Duration
	Metrics     *metrics.Metrics
}

// Transport performs shard GET and PUT requests with retry.
type Transport struct {
	client      *http.Client
	limiter     *BandwidthLimiter
	maxRetries  uint64
	baseBackoff time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewTransport creates a shard transport.
func NewTransport(opts Options, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	base := opts.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}

	return &Transport{
		client:      client,
		limiter:     opts.Limiter,
		maxRetries:  uint64(retries),
		baseBackoff: base,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// statusError is a non-2xx shard response.
type statusError struct {
	op     string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.op, e.status)
}

// Fetch downloads one shard. size is the expected ciphertext length; a body
// of any other length is treated as a transient failure. Exhausting the
// retry budget yields a transport-kind error; context cancellation is
// returned as-is.
func (t *Transport) Fetch(ctx context.Context, url string, size int64) ([]byte, error) {
	data, err := retry.DoValue(ctx, t.backoff(), func(ctx context.Context) ([]byte, error) {
		data, err := t.fetchOnce(ctx, url, size)
		if err != nil {
			return nil, t.classify(ctx, "get", url, err)
		}

		return data, nil
	})
	if err != nil {
		return nil, t.finish(ctx, "get", url, err)
	}

	t.metrics.ShardRequest("get", "ok")

	return data, nil
}

// Put uploads one shard body.
func (t *Transport) Put(ctx context.Context, url string, data []byte) error {
	err := retry.Do(ctx, t.backoff(), func(ctx context.Context) error {
		if err := t.putOnce(ctx, url, data); err != nil {
			return t.classify(ctx, "put", url, err)
		}

		return nil
	})
	if err != nil {
		return t.finish(ctx, "put", url, err)
	}

	t.metrics.ShardRequest("put", "ok")

	return nil
}

func (t *Transport) fetchOnce(ctx context.Context, url string, size int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, &statusError{op: "get shard", status: resp.StatusCode}
	}

	body := t.limiter.WrapReader(ctx, resp.Body)

	// One extra byte detects oversized bodies without reading them fully.
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return nil, fmt.Errorf("reading shard body: %w", err)
	}

	if int64(len(data)) != size {
		return nil, fmt.Errorf("shard body has %d bytes, want %d", len(data), size)
	}

	return data, nil
}

func (t *Transport) putOnce(ctx context.Context, url string, data []byte) error {
	body := t.limiter.WrapReader(ctx, bytes.NewReader(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &statusError{op: "put shard", status: resp.StatusCode}
	}

	return nil
}

// classify marks err retryable unless it is a cancellation or a client error.
func (t *Transport) classify(ctx context.Context, op, url string, err error) error {
	if ctx.Err() != nil {
		return err
	}

	var se *statusError
	if errors.As(err, &se) && !retryableStatus(se.status) {
		return err
	}

	t.metrics.ShardRetry(op)
	t.logger.Warn("shard request failed, will retry",
		slog.String("op", op),
		slog.String("url", url),
		slog.String("error", err.Error()),
	)

	return retry.RetryableError(err)
}

// finish converts a terminal error: cancellations pass through, everything
// else becomes a transport failure.
func (t *Transport) finish(ctx context.Context, op, url string, err error) error {
	if ctx.Err() != nil {
		t.metrics.ShardRequest(op, "canceled")

		return ctx.Err()
	}

	t.metrics.ShardRequest(op, "error")
	t.logger.Error("shard request failed",
		slog.String("op", op),
		slog.String("url", url),
		slog.String("error", err.Error()),
	)

	return fault.Wrap(fault.KindTransport, op+" shard", "", err)
}

func (t *Transport) backoff() retry.Backoff {
	b := retry.NewExponential(t.baseBackoff)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithJitterPercent(jitterPercent, b)

	return retry.WithMaxRetries(t.maxRetries, b)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
