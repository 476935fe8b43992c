package network

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/PedroManuelAtienzaHuerta/cli/internal/fault"
)

var errCancelled = errors.New("transfer cancelled")

// Transfer is a handle on one background upload or download.
type Transfer[T any] struct {
	ID string

	op      string
	ctx     context.Context
	cancel  context.CancelCauseFunc
	aborted atomic.Bool
	bytes   atomic.Int64
	done    chan struct{}

	result T
	err    error
}

func newTransfer[T any](parent context.Context, op string) *Transfer[T] {
	ctx, cancel := context.WithCancelCause(parent)

	return &Transfer[T]{
		ID:     uuid.NewString(),
		op:     op,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Cancel aborts the transfer. Work in flight observes the cancellation at
// its next shard request, buffer wait or destination write. Safe to call
// more than once and after completion.
func (t *Transfer[T]) Cancel() {
	t.aborted.Store(true)
	t.cancel(errCancelled)
}

// Wait blocks until the transfer settles.
func (t *Transfer[T]) Wait() (T, error) {
	<-t.done
	return t.result, t.err
}

// Done is closed once the transfer settles.
func (t *Transfer[T]) Done() <-chan struct{} {
	return t.done
}

// Bytes reports plaintext bytes moved so far.
func (t *Transfer[T]) Bytes() int64 {
	return t.bytes.Load()
}

// settle records the outcome. Failures observed after cancellation (by
// Cancel or by the parent context) become aborted errors; integrity and
// other tagged failures keep their kind.
func (t *Transfer[T]) settle(result T, err error) {
	if err != nil {
		switch {
		case t.aborted.Load():
			err = fault.Aborted(t.op)
		case t.ctx.Err() != nil && fault.KindOf(err) == fault.KindUnknown:
			err = fault.Aborted(t.op)
		case errors.Is(err, context.Canceled):
			err = fault.Aborted(t.op)
		}
	}

	t.result = result
	t.err = err
	t.cancel(nil)
	close(t.done)
}

// outcome labels a settled error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case fault.Is(err, fault.KindAborted):
		return "aborted"
	default:
		return "error"
	}
}
