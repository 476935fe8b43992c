package network

import (
	"context"
	"io"
	"sync"
)

// orderingBuffer writes shards to out strictly in index order. Shards that
// arrive early wait in pending until every lower index has been written.
// reserve bounds how far past the next unwritten index callers may start,
// so pending never holds more than window shards.
type orderingBuffer struct {
	out     io.Writer
	window  int
	onFlush func(written int64)

	mu       sync.Mutex
	next     int
	written  int64
	pending  map[int][]byte
	advanced chan struct{}
}

func newOrderingBuffer(out io.Writer, window int, onFlush func(written int64)) *orderingBuffer {
	return &orderingBuffer{
		out:      out,
		window:   max(window, 1),
		onFlush:  onFlush,
		pending:  make(map[int][]byte),
		advanced: make(chan struct{}),
	}
}

// reserve blocks until shard i falls inside the reorder window.
func (b *orderingBuffer) reserve(ctx context.Context, i int) error {
	for {
		b.mu.Lock()
		if i < b.next+b.window {
			b.mu.Unlock()
			return nil
		}

		ch := b.advanced
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ch:
		}
	}
}

// put hands over shard i and writes out the contiguous prefix now
// available. ctx is checked before every write, so nothing is written once
// the transfer has been cancelled.
func (b *orderingBuffer) put(ctx context.Context, i int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[i] = data

	for {
		chunk, ok := b.pending[b.next]
		if !ok {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		delete(b.pending, b.next)

		n, err := b.out.Write(chunk)
		b.written += int64(n)

		if err != nil {
			return err
		}

		b.next++

		if b.onFlush != nil {
			b.onFlush(b.written)
		}

		close(b.advanced)
		b.advanced = make(chan struct{})
	}
}

// flushed reports how many shards have been written.
func (b *orderingBuffer) flushed() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.next
}
