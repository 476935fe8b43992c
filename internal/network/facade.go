// Package network turns whole-file reads and writes into encrypted shard
// traffic. It composes the key schedule from filecrypt, the bridge calls
// that allocate and locate shards, and the shard transport that moves the
// bytes. Every call returns a Transfer immediately; the work runs in the
// background and can be cancelled at any time.
//
// The facade never retries. A shard request that fails after the
// transport's own retry budget fails the whole transfer.
package network

import (
	"context"
	"log/slog"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/metrics"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultShardSize = 32 << 20
	DefaultFanout    = 4

	// reorderWindowFactor bounds how far ahead of the next flushable shard
	// downloads may run, as a multiple of the fan-out.
	reorderWindowFactor = 2
)

// Transfer directions, used in logs and metrics.
const (
	directionDownload = "download"
	directionUpload   = "upload"
)

// Bridge is the slice of the network API the facade needs.
type Bridge interface {
	GetDownloadLinks(ctx context.Context, bucket, fileID string) (*api.DownloadLinks, error)
	StartUpload(ctx context.Context, bucket string, parts []api.UploadPart) ([]api.UploadSlot, error)
	FinishUpload(ctx context.Context, bucket string, req api.FinishUploadRequest) (string, error)
}

// ShardTransport moves raw ciphertext to and from shard URLs.
type ShardTransport interface {
	Fetch(ctx context.Context, url string, size int64) ([]byte, error)
	Put(ctx context.Context, url string, data []byte) error
}

// Config tunes a Facade.
type Config struct {
	ShardSize int64 // plaintext bytes per uploaded shard
	Fanout    int   // concurrent shard requests per transfer
	Metrics   *metrics.Metrics
}

// TransferOptions are per-call settings.
type TransferOptions struct {
	// Progress, if set, receives integer percentages. Values never
	// decrease, and a successful transfer ends with exactly one 100.
	Progress func(percent int)
}

// RangeOptions describes a byte range. Ranged downloads are not supported;
// passing a non-nil range fails the transfer.
type RangeOptions struct {
	Start int64
	End   int64
}

// DownloadResult summarizes a finished download.
type DownloadResult struct {
	Bytes  int64
	Shards int
}

// UploadResult identifies stored content.
type UploadResult struct {
	FileID string
	Size   int64
	Index  string
}

// Facade performs encrypted transfers.
type Facade struct {
	bridge    Bridge
	shards    ShardTransport
	shardSize int64
	fanout    int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewFacade creates a facade over the given collaborators.
func NewFacade(bridge Bridge, shards ShardTransport, cfg Config, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}

	f := &Facade{
		bridge:    bridge,
		shards:    shards,
		shardSize: cfg.ShardSize,
		fanout:    cfg.Fanout,
		metrics:   cfg.Metrics,
		logger:    logger,
	}

	if f.shardSize <= 0 {
		f.shardSize = DefaultShardSize
	}

	if f.fanout <= 0 {
		f.fanout = DefaultFanout
	}

	return f
}
