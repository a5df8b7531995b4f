package partition

import (
	"fmt"
	"time"

	"github.com/codewandler/partd/core/ds"
)

// Node identifies a cluster node the dispatch core can route to. It is
// opaque to the core except for equality and hashing, so it is a plain
// comparable struct usable as a map key.
type Node struct {
	ID   string
	Addr string
}

func (n Node) String() string {
	if n.Addr == "" {
		return n.ID
	}
	return fmt.Sprintf("%s(%s)", n.ID, n.Addr)
}

// Endpoint is a node plus a liveness flag, as supplied by the cluster
// membership collaborator.
type Endpoint struct {
	Node  Node
	Alive bool
}

// IDSet is an ordered set of partition ids. It is a thin alias over
// [ds.Set] so routing code can group ids by node without re-deriving
// set semantics.
type IDSet[ID comparable] = ds.Set[ID]

// NewIDSet builds an [IDSet] from the given ids.
func NewIDSet[ID comparable](ids ...ID) *IDSet[ID] {
	return ds.NewSet(ids...)
}

// NodeSet is an ordered set of nodes, used to track nodes excluded from
// a retry attempt.
type NodeSet = ds.Set[Node]

// NewNodeSet builds a [NodeSet] from the given nodes.
func NewNodeSet(nodes ...Node) *NodeSet {
	return ds.NewSet(nodes...)
}

// Capability is an opaque constraint narrowing which nodes may serve a
// request. The core never interprets its value, only forwards it to the
// [LoadBalancer]. A nil Capability means "no constraint".
type Capability *uint64

// NewCapability wraps a raw 64-bit tag as a [Capability].
func NewCapability(v uint64) Capability { return &v }

// RoutingConfigs governs retry discipline and response deduplication
// for a single dispatch operation.
type RoutingConfigs struct {
	// SelectiveRetry, when true and a RetryStrategy is supplied, makes
	// Dispatcher use a SelectiveRetryIterator instead of a plain
	// FixedIterator or DynamicIterator whenever more than one node is
	// addressed.
	SelectiveRetry bool
	// DuplicatesOK allows the same partition id to be covered by more
	// than one delivered response (default: false, i.e. dedupe).
	DuplicatesOK bool
}

// RetryStrategy is the timing policy consumed by the selective-retry
// iterator. NextTimeout returns the timeout to arm for the given
// attempt (0 = the initial timeout armed at dispatch, n = the n-th
// retry) and whether that attempt is permitted at all.
type RetryStrategy interface {
	NextTimeout(attempt int) (timeout time.Duration, ok bool)
}

// FixedRetryStrategy arms the same timeout for every attempt, up to
// MaxAttempts.
type FixedRetryStrategy struct {
	InitialTimeout time.Duration
	MaxAttempts    int
}

func (s FixedRetryStrategy) NextTimeout(attempt int) (time.Duration, bool) {
	if attempt >= s.MaxAttempts {
		return 0, false
	}
	return s.InitialTimeout, true
}

// BackoffRetryStrategy doubles the timeout on each successive attempt,
// up to MaxAttempts.
type BackoffRetryStrategy struct {
	InitialTimeout time.Duration
	MaxAttempts    int
}

func (s BackoffRetryStrategy) NextTimeout(attempt int) (time.Duration, bool) {
	if attempt >= s.MaxAttempts {
		return 0, false
	}
	return s.InitialTimeout << attempt, true
}
