package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when no load balancer has been
	// published to the cache yet.
	ErrNotConnected = errors.New("partition: not connected")

	// ErrNullArgument is a programmer error from the public dispatch
	// surface: ids or a request builder was nil.
	ErrNullArgument = errors.New("partition: required argument is nil")

	// ErrIllegalArgument is a programmer error, e.g. maxAttempts <= 0
	// passed to the retry router path.
	ErrIllegalArgument = errors.New("partition: illegal argument")

	// ErrCancelled is returned from ResponseIterator.Next after Close.
	ErrCancelled = errors.New("partition: iterator closed")

	// ErrIteratorTimeout is returned from ResponseIterator.Next when a
	// caller-supplied deadline elapses before a result arrives.
	ErrIteratorTimeout = errors.New("partition: next timed out")
)

// NoNodesAvailableError reports that the router could not place one or
// more partition ids on any node (or any unexcluded node, on retry).
type NoNodesAvailableError[ID comparable] struct {
	IDs []ID
}

func (e *NoNodesAvailableError[ID]) Error() string {
	return fmt.Sprintf("partition: no nodes available for ids %v", e.IDs)
}

// InvalidClusterError wraps the error a LoadBalancerFactory produced
// while building a balancer from an endpoint set. It is cached by
// LoadBalancerCache and rethrown on every Read until the next
// successful Update.
type InvalidClusterError struct {
	Cause error
}

func (e *InvalidClusterError) Error() string {
	return fmt.Sprintf("partition: invalid cluster: %s", e.Cause)
}

func (e *InvalidClusterError) Unwrap() error { return e.Cause }

// RequestAccess is implemented by failures that expose the
// PartitionedRequest that produced them. The retry engine type-asserts
// a sub-request failure against this interface to decide whether a
// whole-sub-request retry is possible.
type RequestAccess[ID comparable, R any] interface {
	error
	FailedRequest() *PartitionedRequest[ID, R]
}

// RequestFailure is the RequestAccess implementation the core attaches
// to a sub-request's failure before it is handed to the retry callback.
// Transports are not required to produce it directly; Dispatcher wraps
// whatever error the transport callback reports.
type RequestFailure[ID comparable, R any] struct {
	Req   *PartitionedRequest[ID, R]
	Cause error
}

func (e *RequestFailure[ID, R]) Error() string {
	return fmt.Sprintf("partition: request to %s failed: %s", e.Req.Node(), e.Cause)
}

func (e *RequestFailure[ID, R]) Unwrap() error { return e.Cause }

func (e *RequestFailure[ID, R]) FailedRequest() *PartitionedRequest[ID, R] { return e.Req }

var _ RequestAccess[string, any] = (*RequestFailure[string, any])(nil)
