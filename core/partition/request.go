package partition

import (
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/partd/core/ds"
)

// Serializer is the is/os encode/decode pair a transport adapter uses
// for wire bytes. The core never inspects payload bytes, and a
// PartitionedRequest does not carry a Serializer: each transport is
// configured with its own (see adapters/nats TransportConfig).
type Serializer[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte, v *T) error
}

// BuildRequestFunc constructs the payload for a sub-request addressed
// to node, covering ids. It is called once per node during initial
// fan-out and again, with a different node, whenever that sub-request
// is retried.
type BuildRequestFunc[ID comparable, Q any] func(node Node, ids *IDSet[ID]) (Q, error)

// BuildPartitionsRequestFunc constructs the payload for a sub-request
// addressed to node, covering a subset of partition numbers belonging
// to a single partitioned id. Used by the partition-number-granularity
// dispatch paths (SendToOneReplica, SendToPartitions), which route by
// fixed partition assignment rather than by a set of partitioned ids.
type BuildPartitionsRequestFunc[ID comparable, Q any] func(node Node, id ID, partitions *ds.Set[int]) (Q, error)

// CompletionFunc is invoked exactly once when a sub-request's result is
// known, either directly (maxRetry == 0) or after the retry engine has
// exhausted its attempts.
type CompletionFunc[R any] func(Result[R])

// Result is either a successful response or a failure, mirroring the
// source's Either/Left-Right sub-request outcome.
type Result[R any] struct {
	Response R
	Err      error
}

// Ok reports whether the result carries a successful response.
func (r Result[R]) Ok() bool { return r.Err == nil }

// SuccessResult builds a successful Result.
func SuccessResult[R any](r R) Result[R] { return Result[R]{Response: r} }

// FailureResult builds a failed Result.
func FailureResult[R any](err error) Result[R] { return Result[R]{Err: err} }

// PartitionedRequest is an immutable value carrying everything the
// transport needs to deliver one sub-request and everything the retry
// engine needs to rebuild it against a fresh node. Instances are
// constructed once per sub-request and never mutated.
type PartitionedRequest[ID comparable, R any] struct {
	id      string
	node    Node
	ids     *IDSet[ID]
	payload any
	build   BuildRequestFunc[ID, any]
	onDone  CompletionFunc[R]
	attempt int
}

// NewPartitionedRequest constructs a sub-request. payload is the
// already-built request value for node/ids; build is retained so a
// retry can rebuild the payload against a different node.
func NewPartitionedRequest[ID comparable, R any](
	node Node,
	ids *IDSet[ID],
	payload any,
	build BuildRequestFunc[ID, any],
	onDone CompletionFunc[R],
	attempt int,
) *PartitionedRequest[ID, R] {
	return &PartitionedRequest[ID, R]{
		id:      gonanoid.Must(10),
		node:    node,
		ids:     ids,
		payload: payload,
		build:   build,
		onDone:  onDone,
		attempt: attempt,
	}
}

// ID is the correlation id assigned to this sub-request at construction.
func (r *PartitionedRequest[ID, R]) ID() string { return r.id }

// Node is the target node for this sub-request.
func (r *PartitionedRequest[ID, R]) Node() Node { return r.node }

// IDs is the partition id subset this sub-request covers.
func (r *PartitionedRequest[ID, R]) IDs() *IDSet[ID] { return r.ids }

// Payload is the built request value the transport should serialize.
func (r *PartitionedRequest[ID, R]) Payload() any { return r.payload }

// Attempt is the retry attempt counter, starting at 0.
func (r *PartitionedRequest[ID, R]) Attempt() int { return r.attempt }

// Complete invokes the completion callback exactly once. Transports
// must call this (directly, or via the retry engine's wrapped
// callback) exactly once per sub-request.
func (r *PartitionedRequest[ID, R]) Complete(res Result[R]) {
	if r.onDone != nil {
		r.onDone(res)
	}
}

// rebuild constructs a new PartitionedRequest covering the same ids but
// addressed to a different node and a later attempt, reusing the
// original builder. Used by the retry engine.
func (r *PartitionedRequest[ID, R]) rebuild(node Node, ids *IDSet[ID], onDone CompletionFunc[R]) (*PartitionedRequest[ID, R], error) {
	payload, err := r.build(node, ids)
	if err != nil {
		return nil, err
	}
	next := NewPartitionedRequest[ID, R](node, ids, payload, r.build, onDone, r.attempt+1)
	return next, nil
}
