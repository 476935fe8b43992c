package shard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/config"
)

// burstMultiplier controls the token bucket burst size relative to the
// per-second rate.
const burstMultiplier = 2

// BandwidthLimiter provides shared rate limiting across all shard requests,
// keeping aggregate throughput within the configured bandwidth_limit.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter from a bandwidth_limit string such as
// "5MB/s". Returns nil for "0" or empty (unlimited).
func NewBandwidthLimiter(bandwidthLimit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	bytesPerSec, err := parseBandwidthRate(bandwidthLimit)
	if err != nil {
		return nil, fmt.Errorf("shard: parse bandwidth limit %q: %w", bandwidthLimit, err)
	}

	if bytesPerSec == 0 {
		return nil, nil //nolint:nilnil // nil limiter = unlimited
	}

	burst := int(bytesPerSec) * burstMultiplier

	if logger != nil {
		logger.Info("shard: bandwidth limiter created",
			slog.Int64("bytes_per_sec", bytesPerSec),
			slog.Int("burst", burst),
		)
	}

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}, nil
}

// parseBandwidthRate parses "5MB/s", "100KB/s", "0" into bytes/sec.
func parseBandwidthRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	normalized := s
	if strings.HasSuffix(strings.ToLower(normalized), "/s") {
		normalized = normalized[:len(normalized)-len("/s")]
	}

	bytes, err := config.ParseSize(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth rate %q: %w", s, err)
	}

	return bytes, nil
}

// WrapReader returns a rate-limited io.Reader. A nil limiter returns r unchanged.
func (bl *BandwidthLimiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if bl == nil {
		return r
	}

	return &rateLimitedReader{r: r, limiter: bl.limiter, ctx: ctx}
}

// rateLimitedReader blocks after each read until the limiter admits the
// bytes consumed.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a large token request into burst-sized chunks, since
// rate.Limiter.WaitN rejects requests exceeding the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
