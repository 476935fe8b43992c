package network

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/filecrypt"
)

// closeWithErrorer is implemented by *io.PipeWriter.
type closeWithErrorer interface {
	CloseWithError(err error) error
}

// DownloadToStream decrypts a stored file into output. Shards are fetched
// concurrently but written strictly in index order. On failure or
// cancellation output is closed (with the error when it supports
// CloseWithError) and the transfer settles with the failure's kind.
//
// A non-nil rng fails immediately with an unsupported error, before any
// network call.
func (f *Facade) DownloadToStream(
	ctx context.Context, bucket, mnemonic, fileID string, size int64,
	output io.Writer, rng *RangeOptions, opts TransferOptions,
) *Transfer[DownloadResult] {
	t := newTransfer[DownloadResult](ctx, directionDownload)

	if rng != nil {
		t.settle(DownloadResult{}, fault.Unsupported(directionDownload, "ranged downloads are not supported"))
		return t
	}

	f.metrics.TransferStarted(directionDownload)

	go func() {
		res, err := f.download(t, bucket, mnemonic, fileID, size, output, opts)
		if err != nil {
			closeOutput(output, err)
		}

		t.settle(res, err)
		f.finishTransfer(directionDownload, t.ID, fileID, t.Bytes(), t.err)
	}()

	return t
}

func (f *Facade) download(
	t *Transfer[DownloadResult], bucket, mnemonic, fileID string, size int64,
	output io.Writer, opts TransferOptions,
) (DownloadResult, error) {
	ctx := t.ctx

	links, err := f.bridge.GetDownloadLinks(ctx, bucket, fileID)
	if err != nil {
		return DownloadResult{}, err
	}

	index, err := hex.DecodeString(links.Index)
	if err != nil {
		return DownloadResult{}, fault.New(fault.KindTransport, directionDownload, fileID,
			fmt.Sprintf("remote returned invalid file index %q", links.Index))
	}

	key, iv, err := filecrypt.FileKey(mnemonic, bucket, index)
	if err != nil {
		return DownloadResult{}, fault.Wrap(fault.KindUnauthorized, directionDownload, fileID, err)
	}

	shards := append([]api.Shard(nil), links.Shards...)
	sort.Slice(shards, func(a, b int) bool { return shards[a].Index < shards[b].Index })

	offsets := make([]int64, len(shards))

	var total int64

	for i := range shards {
		offsets[i] = total
		total += shards[i].Size
	}

	if size > 0 && total != size {
		f.logger.Warn("shard sizes disagree with item size",
			slog.String("file_id", fileID),
			slog.Int64("item_size", size),
			slog.Int64("shard_total", total),
		)
	}

	f.logger.Debug("download started",
		slog.String("transfer_id", t.ID),
		slog.String("file_id", fileID),
		slog.Int("shards", len(shards)),
		slog.Int64("bytes", total),
	)

	progress := newProgressReporter(opts.Progress, total)
	buf := newOrderingBuffer(output, f.fanout*reorderWindowFactor, func(written int64) {
		t.bytes.Store(written)
		progress.update(written)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fanout)

	for i := range shards {
		if err := buf.reserve(gctx, i); err != nil {
			break
		}

		g.Go(func() error {
			return f.fetchShard(gctx, buf, i, shards[i], offsets[i], key, iv, fileID)
		})
	}

	if err := g.Wait(); err != nil {
		return DownloadResult{}, err
	}

	// reserve only fails once gctx is done, which g.Wait reports; a
	// cancellation with no failing shard is caught here.
	if err := ctx.Err(); err != nil {
		return DownloadResult{}, context.Cause(ctx)
	}

	progress.complete()

	return DownloadResult{Bytes: t.Bytes(), Shards: buf.flushed()}, nil
}

// fetchShard downloads, verifies and decrypts one shard, then hands it to
// the ordering buffer. The hash is checked on ciphertext before decryption.
func (f *Facade) fetchShard(
	ctx context.Context, buf *orderingBuffer, i int, sh api.Shard, offset int64,
	key, iv []byte, fileID string,
) error {
	data, err := f.shards.Fetch(ctx, sh.URL, sh.Size)
	if err != nil {
		return err
	}

	if got := filecrypt.ShardHash(data); got != sh.Hash {
		return fault.New(fault.KindIntegrity, directionDownload, fileID,
			fmt.Sprintf("shard %d hash mismatch: expected %s, got %s", sh.Index, sh.Hash, got))
	}

	stream, err := filecrypt.NewStreamAt(key, iv, offset)
	if err != nil {
		return err
	}

	stream.XORKeyStream(data, data)

	return buf.put(ctx, i, data)
}

// closeOutput closes a failed transfer's destination if it can be closed.
func closeOutput(output io.Writer, err error) {
	switch w := output.(type) {
	case closeWithErrorer:
		_ = w.CloseWithError(err)
	case io.Closer:
		_ = w.Close()
	}
}

func (f *Facade) finishTransfer(direction, id, fileID string, bytes int64, err error) {
	f.metrics.TransferFinished(direction, outcome(err), bytes)

	if err != nil {
		f.logger.Warn(direction+" failed",
			slog.String("transfer_id", id),
			slog.String("file_id", fileID),
			slog.Int64("bytes", bytes),
			slog.String("error", err.Error()),
		)

		return
	}

	f.logger.Debug(direction+" finished",
		slog.String("transfer_id", id),
		slog.String("file_id", fileID),
		slog.Int64("bytes", bytes),
	)
}
