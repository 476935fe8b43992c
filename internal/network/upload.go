package network

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/api"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
	"github.com/PedroManuelAtienzaHuerta/cli/internal/filecrypt"
)

// UploadFromStream encrypts exactly size bytes from input and stores them
// as shards in bucket. input is read sequentially; shard PUTs run
// concurrently up to the configured fan-out. The first failing PUT cancels
// the others. Input that ends early fails with a malformed error.
//
// Shards already stored when a transfer fails are not removed.
func (f *Facade) UploadFromStream(
	ctx context.Context, bucket, mnemonic string, size int64, input io.Reader, opts TransferOptions,
) *Transfer[UploadResult] {
	t := newTransfer[UploadResult](ctx, directionUpload)

	f.metrics.TransferStarted(directionUpload)

	go func() {
		res, err := f.upload(t, bucket, mnemonic, size, input, opts)
		t.settle(res, err)
		f.finishTransfer(directionUpload, t.ID, res.FileID, t.Bytes(), t.err)
	}()

	return t
}

// planParts splits size bytes into shard-sized parts. An empty file is one
// empty part.
func planParts(size, shardSize int64) []api.UploadPart {
	n := max(1, (size+shardSize-1)/shardSize)
	parts := make([]api.UploadPart, 0, n)

	for i := range n {
		partSize := min(shardSize, size-i*shardSize)
		parts = append(parts, api.UploadPart{Index: int(i), Size: max(partSize, 0)})
	}

	return parts
}

func (f *Facade) upload(
	t *Transfer[UploadResult], bucket, mnemonic string, size int64, input io.Reader, opts TransferOptions,
) (UploadResult, error) {
	ctx := t.ctx

	if size < 0 {
		return UploadResult{}, fault.Malformed(directionUpload, fmt.Sprintf("invalid content length %d", size))
	}

	index, err := filecrypt.NewIndex()
	if err != nil {
		return UploadResult{}, err
	}

	key, iv, err := filecrypt.FileKey(mnemonic, bucket, index)
	if err != nil {
		return UploadResult{}, fault.Wrap(fault.KindUnauthorized, directionUpload, "", err)
	}

	parts := planParts(size, f.shardSize)

	slots, err := f.bridge.StartUpload(ctx, bucket, parts)
	if err != nil {
		return UploadResult{}, err
	}

	f.logger.Debug("upload started",
		slog.String("transfer_id", t.ID),
		slog.String("bucket", bucket),
		slog.Int("shards", len(parts)),
		slog.Int64("bytes", size),
	)

	progress := newProgressReporter(opts.Progress, size)

	hashes, err := f.putShards(t, parts, slots, input, key, iv, progress)
	if err != nil {
		return UploadResult{}, err
	}

	indexHex := hex.EncodeToString(index)
	req := api.FinishUploadRequest{Index: indexHex, Shards: make([]api.UploadedShard, len(parts))}

	for i := range parts {
		req.Shards[i] = api.UploadedShard{Hash: hashes[i], UUID: slots[i].UUID}
	}

	fileID, err := f.bridge.FinishUpload(ctx, bucket, req)
	if err != nil {
		return UploadResult{}, err
	}

	progress.complete()

	return UploadResult{FileID: fileID, Size: size, Index: indexHex}, nil
}

// putShards reads, encrypts and stores every part. Reading stays on this
// goroutine so input is consumed in order; the PUTs fan out.
func (f *Facade) putShards(
	t *Transfer[UploadResult], parts []api.UploadPart, slots []api.UploadSlot,
	input io.Reader, key, iv []byte, progress *progressReporter,
) ([]string, error) {
	readCtx, stopReading := context.WithCancelCause(t.ctx)
	defer stopReading(nil)

	g, gctx := errgroup.WithContext(readCtx)
	g.SetLimit(f.fanout)

	hashes := make([]string, len(parts))

	var (
		offset  int64
		readErr error
	)

	for i, part := range parts {
		if err := gctx.Err(); err != nil {
			break
		}

		data := make([]byte, part.Size)
		if _, err := io.ReadFull(input, data); err != nil {
			readErr = readFailure(err, offset, parts)
			stopReading(readErr)

			break
		}

		stream, err := filecrypt.NewStreamAt(key, iv, offset)
		if err != nil {
			readErr = err
			stopReading(readErr)

			break
		}

		stream.XORKeyStream(data, data)
		hashes[i] = filecrypt.ShardHash(data)
		offset += part.Size
		progress.update(offset)

		url := slots[i].URL
		g.Go(func() error {
			if err := f.shards.Put(gctx, url, data); err != nil {
				return err
			}

			t.bytes.Add(part.Size)

			return nil
		})
	}

	waitErr := g.Wait()

	switch {
	case readErr != nil:
		return nil, readErr
	case waitErr != nil:
		return nil, waitErr
	}

	if err := t.ctx.Err(); err != nil {
		return nil, context.Cause(t.ctx)
	}

	return hashes, nil
}

// readFailure classifies an input read error. Running out of input before
// the declared size is the caller's fault.
func readFailure(err error, offset int64, parts []api.UploadPart) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		var want int64
		for _, p := range parts {
			want += p.Size
		}

		return fault.Malformed(directionUpload,
			fmt.Sprintf("input ended before declared size %d (shard at offset %d incomplete)", want, offset))
	}

	return fmt.Errorf("reading upload input: %w", err)
}
