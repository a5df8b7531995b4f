package partition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseQueue_PushThenTake(t *testing.T) {
	q := NewResponseQueue[string]()
	q.Push(SuccessResult("hello"))

	res, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Response)
}

func TestResponseQueue_TakeBlocksUntilPush(t *testing.T) {
	q := NewResponseQueue[string]()

	done := make(chan Result[string], 1)
	go func() {
		res, err := q.Take(context.Background())
		require.NoError(t, err)
		done <- res
	}()

	select {
	case <-done:
		t.Fatal("Take returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(SuccessResult("late"))

	select {
	case res := <-done:
		assert.Equal(t, "late", res.Response)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up after Push")
	}
}

func TestResponseQueue_TakeRespectsContextCancellation(t *testing.T) {
	q := NewResponseQueue[string]()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Take did not observe cancellation")
	}
}

func TestResponseQueue_CloseWakesWaitersAndDrops(t *testing.T) {
	q := NewResponseQueue[string]()

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background())
		errCh <- err
	}()

	q.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, errQueueClosed))
	case <-time.After(time.Second):
		t.Fatal("Take did not observe Close")
	}

	// Push after Close is a silent no-op, not a panic or block.
	q.Push(SuccessResult("dropped"))
	assert.Equal(t, 0, q.Len())
}

func TestResponseQueue_Close_Idempotent(t *testing.T) {
	q := NewResponseQueue[string]()
	q.Close()
	q.Close()
}

func TestResponseQueue_DrainsRemainingAfterClose(t *testing.T) {
	q := NewResponseQueue[string]()
	q.Push(SuccessResult("a"))
	q.Close()

	res, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", res.Response)

	_, err = q.Take(context.Background())
	assert.ErrorIs(t, err, errQueueClosed)
}
