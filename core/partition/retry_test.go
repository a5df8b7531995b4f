package partition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryCallback_MaxRetryZero_PropagatesDirect(t *testing.T) {
	cfg := RetryEngineConfig[string, string]{MaxRetry: 0}
	var got Result[string]
	cb := RetryCallback(cfg, func(r Result[string]) { got = r })

	cb(FailureResult[string](errors.New("boom")))
	assert.Error(t, got.Err)
}

func TestRetryCallback_SuccessForwardsDirect(t *testing.T) {
	cfg := RetryEngineConfig[string, string]{MaxRetry: 3}
	var got Result[string]
	cb := RetryCallback(cfg, func(r Result[string]) { got = r })

	cb(SuccessResult("ok"))
	assert.True(t, got.Ok())
	assert.Equal(t, "ok", got.Response)
}

func TestRetryCallback_FailureWithoutRequestAccess_PropagatesDirect(t *testing.T) {
	cfg := RetryEngineConfig[string, string]{MaxRetry: 3}
	var got Result[string]
	cb := RetryCallback(cfg, func(r Result[string]) { got = r })

	cb(FailureResult[string](errors.New("no request access here")))
	require.Error(t, got.Err)
	var access RequestAccess[string, string]
	assert.False(t, errors.As(got.Err, &access))
}

func TestRetryCallback_ReroutesToAlternateNode(t *testing.T) {
	n1 := Node{ID: "n1"}
	n2 := Node{ID: "n2"}

	lb := newFakeBalancer()
	lb.nextSeq["a"] = []Node{n2}
	router := NewRouter[string](lb)

	transport := newFakeTransport()
	transport.responses[n2] = "pong-from-n2"

	queue := NewResponseQueue[string]()
	dynamic := NewDynamicIterator[string](1, queue)

	cfg := RetryEngineConfig[string, string]{
		Router:    router,
		Transport: transport,
		Iterator:  dynamic,
		MaxRetry:  1,
	}

	underlying := func(res Result[string]) { queue.Push(res) }
	cb := RetryCallback(cfg, underlying)

	// Build the originally-failed request as Dispatcher.submit would.
	build := func(Node, *IDSet[string]) (any, error) { return "payload", nil }
	var failed *PartitionedRequest[string, string]
	failed = NewPartitionedRequest[string, string](n1, NewIDSet("a"), "payload", build, func(res Result[string]) {
		if !res.Ok() {
			res.Err = &RequestFailure[string, string]{Req: failed, Cause: res.Err}
		}
		cb(res)
	}, 0)

	failed.Complete(FailureResult[string](errors.New("n1 unreachable")))

	res, err := queue.Take(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Ok())
	assert.Equal(t, "pong-from-n2", res.Response)

	// The original slot is reused for the single replacement node, so
	// no net growth.
	assert.Equal(t, int64(1), dynamic.remaining.Load())
}

func TestRetryCallback_RerouteFailure_SurfacesOriginalFailure(t *testing.T) {
	n1 := Node{ID: "n1"}

	lb := newFakeBalancer()
	// No entry for "a": Router.Retry will fail with NoNodesAvailable.
	router := NewRouter[string](lb)

	transport := newFakeTransport()
	queue := NewResponseQueue[string]()
	dynamic := NewDynamicIterator[string](1, queue)

	cfg := RetryEngineConfig[string, string]{
		Router:    router,
		Transport: transport,
		Iterator:  dynamic,
		MaxRetry:  1,
	}

	originalErr := errors.New("original failure")
	build := func(Node, *IDSet[string]) (any, error) { return "payload", nil }
	var failed *PartitionedRequest[string, string]
	underlying := func(res Result[string]) { queue.Push(res) }
	cb := RetryCallback(cfg, underlying)
	failed = NewPartitionedRequest[string, string](n1, NewIDSet("a"), "payload", build, func(res Result[string]) {
		if !res.Ok() {
			res.Err = &RequestFailure[string, string]{Req: failed, Cause: res.Err}
		}
		cb(res)
	}, 0)

	failed.Complete(FailureResult[string](originalErr))

	res, err := queue.Take(context.Background())
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, originalErr)
}

func TestRetryCallback_AttemptAtMaxRetry_PropagatesDirect(t *testing.T) {
	n1 := Node{ID: "n1"}
	router := NewRouter[string](newFakeBalancer())
	dynamic := NewDynamicIterator[string](1, NewResponseQueue[string]())

	cfg := RetryEngineConfig[string, string]{Router: router, MaxRetry: 1}
	var got Result[string]
	cb := RetryCallback(cfg, func(r Result[string]) { got = r })

	build := func(Node, *IDSet[string]) (any, error) { return "payload", nil }
	var failed *PartitionedRequest[string, string]
	failed = NewPartitionedRequest[string, string](n1, NewIDSet("a"), "payload", build, func(res Result[string]) {
		if !res.Ok() {
			res.Err = &RequestFailure[string, string]{Req: failed, Cause: res.Err}
		}
		cb(res)
	}, 1) // attempt already == MaxRetry

	_ = dynamic
	failed.Complete(FailureResult[string](errors.New("still failing")))
	require.Error(t, got.Err)
}
