package partition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ResponseIterator is the consumer-visible streaming view of a
// dispatch's sub-request results.
//
// Invariants: remaining is monotonically non-increasing except via
// resize (DynamicIterator.AddAndGet); Next returns exactly one result
// per expected sub-request; Close is idempotent; no response is
// delivered twice unless the dispatch's RoutingConfigs.DuplicatesOK is
// true.
type ResponseIterator[R any] interface {
	// HasNext reports whether a result may still arrive: either the
	// expected-count hasn't been exhausted, or the queue already holds
	// an undelivered result.
	HasNext() bool
	// Next blocks for the next result. If timeout is zero, Next blocks
	// without a deadline (beyond ctx). Returns ErrCancelled after
	// Close, ErrIteratorTimeout if timeout elapses first.
	Next(ctx context.Context, timeout time.Duration) (R, error)
	// Close releases waiters with ErrCancelled. Idempotent.
	Close() error
}

// FixedIterator expects exactly `expected` results and never resizes.
type FixedIterator[R any] struct {
	queue     *ResponseQueue[R]
	remaining atomic.Int64
	closeOnce sync.Once
}

// NewFixedIterator creates an iterator expecting `expected` results
// from queue.
func NewFixedIterator[R any](expected int, queue *ResponseQueue[R]) *FixedIterator[R] {
	it := &FixedIterator[R]{queue: queue}
	it.remaining.Store(int64(expected))
	return it
}

func (it *FixedIterator[R]) HasNext() bool {
	return it.remaining.Load() > 0 || it.queue.Len() > 0
}

func (it *FixedIterator[R]) Next(ctx context.Context, timeout time.Duration) (R, error) {
	return takeNext(ctx, it.queue, timeout, &it.remaining)
}

func (it *FixedIterator[R]) Close() error {
	it.closeOnce.Do(it.queue.Close)
	return nil
}

// DynamicIterator starts expecting `expected` results but allows the
// retry engine to grow (or shrink) the expected count via AddAndGet.
// Callers of AddAndGet must invoke it before submitting the additional
// sub-requests it accounts for, so a consumer never observes HasNext
// go false while a retry's replacement sub-request is still in flight.
type DynamicIterator[R any] struct {
	queue     *ResponseQueue[R]
	remaining atomic.Int64
	closeOnce sync.Once
}

// NewDynamicIterator creates a resizable iterator expecting `expected`
// results from queue.
func NewDynamicIterator[R any](expected int, queue *ResponseQueue[R]) *DynamicIterator[R] {
	it := &DynamicIterator[R]{queue: queue}
	it.remaining.Store(int64(expected))
	return it
}

// AddAndGet atomically adjusts the expected count by delta (which may
// be negative, e.g. when a retry reuses the failed sub-request's slot)
// and returns the new value.
func (it *DynamicIterator[R]) AddAndGet(delta int) int64 {
	return it.remaining.Add(int64(delta))
}

func (it *DynamicIterator[R]) HasNext() bool {
	return it.remaining.Load() > 0 || it.queue.Len() > 0
}

func (it *DynamicIterator[R]) Next(ctx context.Context, timeout time.Duration) (R, error) {
	return takeNext(ctx, it.queue, timeout, &it.remaining)
}

func (it *DynamicIterator[R]) Close() error {
	it.closeOnce.Do(it.queue.Close)
	return nil
}

// takeNext is the shared Next implementation for Fixed and Dynamic
// iterators: apply an optional deadline, take from the queue, and
// decrement remaining on delivery.
func takeNext[R any](ctx context.Context, queue *ResponseQueue[R], timeout time.Duration, remaining *atomic.Int64) (R, error) {
	var zero R

	callerCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := queue.Take(ctx)
	if err != nil {
		switch {
		case errors.Is(err, errQueueClosed):
			return zero, ErrCancelled
		case timeout > 0 && callerCtx.Err() == nil:
			// our own deadline fired, not the caller's context
			return zero, ErrIteratorTimeout
		default:
			return zero, err
		}
	}
	remaining.Add(-1)
	if res.Err != nil {
		return zero, res.Err
	}
	return res.Response, nil
}
