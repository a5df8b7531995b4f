package partition

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewandler/partd/core/perkey"
)

// idStatus is the state-machine discriminant for one still-tracked
// partition id within a SelectiveRetryIterator.
type idStatus int

const (
	idAwaiting idStatus = iota
	idRetrying
	idSatisfied
	idExhausted
)

type idState struct {
	status   idStatus
	attempt  int
	excluded *NodeSet
	timer    *time.Timer
}

// SelectiveRetryIteratorConfig bundles the collaborators a
// SelectiveRetryIterator needs to reroute a still-outstanding id on its
// own, independent of the sub-request that originally carried it.
type SelectiveRetryIteratorConfig[ID comparable, R any] struct {
	Queue        *ResponseQueue[R]
	IDToNode     map[ID]Node
	Router       *Router[ID]
	BuildRequest BuildRequestFunc[ID, any]
	Transport    Transport[ID, R]
	Strategy     RetryStrategy
	DuplicatesOK bool
	Cap, PCap    Capability
	Log          *slog.Logger
	Metrics      DispatchMetrics
}

// SelectiveRetryIterator retries only the partition ids whose responses
// are still outstanding after a per-id timeout, rather than retrying
// whole sub-requests. Each partition id owns an independent state
// machine (Awaiting -> Retrying(attempt) -> Satisfied|Exhausted);
// transitions for a given id are serialized via a per-key scheduler so
// concurrent timer fires and response arrivals for the *same* id never
// race, while different ids progress fully in parallel.
//
// Because a single sub-request's response type R cannot be split per
// id, "remaining" is tracked at id granularity here (one id resolving,
// successfully or exhausted, consumes exactly one slot), not at
// sub-request granularity: a sub-request covering several ids may
// satisfy several slots at once, or none at all if every id it covers
// was already satisfied by an earlier, faster reply.
type SelectiveRetryIterator[ID comparable, R any] struct {
	cfg       SelectiveRetryIteratorConfig[ID, R]
	scheduler *perkey.Scheduler[ID]

	mu     sync.Mutex
	states map[ID]*idState

	remaining atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewSelectiveRetryIterator arms an Awaiting timer for every id in
// cfg.IDToNode and returns the iterator.
func NewSelectiveRetryIterator[ID comparable, R any](cfg SelectiveRetryIteratorConfig[ID, R]) *SelectiveRetryIterator[ID, R] {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopDispatchMetrics{}
	}
	it := &SelectiveRetryIterator[ID, R]{
		cfg:       cfg,
		scheduler: perkey.New[ID](),
		states:    make(map[ID]*idState, len(cfg.IDToNode)),
	}
	it.remaining.Store(int64(len(cfg.IDToNode)))

	timeout, ok := cfg.Strategy.NextTimeout(0)
	for id, node := range cfg.IDToNode {
		st := &idState{status: idAwaiting, excluded: NewNodeSet(node)}
		it.states[id] = st
		if ok {
			st.timer = time.AfterFunc(timeout, func() { it.onTimeout(id) })
		}
	}
	return it
}

func (it *SelectiveRetryIterator[ID, R]) HasNext() bool {
	return it.remaining.Load() > 0 || it.cfg.Queue.Len() > 0
}

func (it *SelectiveRetryIterator[ID, R]) Next(ctx context.Context, timeout time.Duration) (R, error) {
	// it.remaining is decremented by the per-id state transitions, not
	// per delivered result, so takeNext gets a throwaway counter here.
	var delivered atomic.Int64
	return takeNext(ctx, it.cfg.Queue, timeout, &delivered)
}

func (it *SelectiveRetryIterator[ID, R]) Close() error {
	it.closeOnce.Do(func() {
		it.closed.Store(true)
		it.mu.Lock()
		for _, st := range it.states {
			if st.timer != nil {
				st.timer.Stop()
			}
		}
		it.mu.Unlock()
		it.cfg.Queue.Close()
	})
	return nil
}

// OnSubRequestComplete is invoked by the dispatcher's sub-request
// callback (for both the original fan-out and any retry sub-request
// this iterator spawned) with the result and the ids that sub-request
// covered. Each covered id's transition runs on that id's perkey
// worker, and the calling goroutine blocks until all of them have
// finished.
func (it *SelectiveRetryIterator[ID, R]) OnSubRequestComplete(ids *IDSet[ID], node Node, res Result[R]) {
	if it.closed.Load() {
		return
	}
	// One network round trip, one queue delivery: pushOnce is shared
	// across every id this sub-request covers so a multi-id response
	// is never pushed more than once, while each id's own state
	// transition and remaining-count bookkeeping still happens
	// independently on its own perkey worker.
	var pushOnce sync.Once
	ids.ForEach(func(id ID) {
		_ = it.scheduler.Do(id, func() error {
			if res.Ok() {
				it.handleSuccess(id, res, &pushOnce)
			} else {
				it.handleFailure(id, node, res.Err)
			}
			return nil
		})
	})
}

func (it *SelectiveRetryIterator[ID, R]) onTimeout(id ID) {
	if it.closed.Load() {
		return
	}
	_ = it.scheduler.Do(id, func() error {
		it.handleTimeout(id)
		return nil
	})
}

// handleSuccess, handleFailure and handleTimeout all run on id's
// perkey worker goroutine: no two of them ever execute concurrently
// for the same id.

func (it *SelectiveRetryIterator[ID, R]) handleSuccess(id ID, res Result[R], pushOnce *sync.Once) {
	it.mu.Lock()
	st, ok := it.states[id]
	it.mu.Unlock()
	if !ok {
		return
	}

	alreadySatisfied := st.status == idSatisfied
	if alreadySatisfied && !it.cfg.DuplicatesOK {
		return // dropped duplicate, no queue push, no accounting change
	}

	if st.timer != nil {
		st.timer.Stop()
	}

	firstTime := st.status != idSatisfied
	st.status = idSatisfied

	pushOnce.Do(func() { it.cfg.Queue.Push(res) })
	if firstTime {
		it.remaining.Add(-1)
	}
}

func (it *SelectiveRetryIterator[ID, R]) handleFailure(id ID, node Node, err error) {
	it.mu.Lock()
	st, ok := it.states[id]
	it.mu.Unlock()
	if !ok || st.status == idSatisfied || st.status == idExhausted {
		return
	}
	it.reroute(id, st, node)
}

func (it *SelectiveRetryIterator[ID, R]) handleTimeout(id ID) {
	it.mu.Lock()
	st, ok := it.states[id]
	it.mu.Unlock()
	if !ok || st.status == idSatisfied || st.status == idExhausted {
		return
	}
	it.reroute(id, st, Node{})
}

// reroute attempts to move id to a fresh node, excluding every node
// already contacted for it. failedNode, if non-zero, is added to the
// exclusion set before rerouting.
func (it *SelectiveRetryIterator[ID, R]) reroute(id ID, st *idState, failedNode Node) {
	if failedNode != (Node{}) {
		st.excluded.Add(failedNode)
	}

	timeout, ok := it.cfg.Strategy.NextTimeout(st.attempt + 1)
	if !ok {
		it.exhaust(id, st, &NoNodesAvailableError[ID]{IDs: []ID{id}})
		return
	}

	assignment, err := it.cfg.Router.Retry(NewIDSet(id), st.excluded, 3, it.cfg.Cap, it.cfg.PCap)
	if err != nil {
		it.exhaust(id, st, err)
		return
	}

	var node Node
	for n := range assignment {
		node = n
		break
	}

	payload, err := it.cfg.BuildRequest(node, NewIDSet(id))
	if err != nil {
		it.exhaust(id, st, err)
		return
	}

	st.status = idRetrying
	st.attempt++
	st.excluded.Add(node)
	st.timer = time.AfterFunc(timeout, func() { it.onTimeout(id) })

	start := time.Now()
	req := NewPartitionedRequest[ID, R](node, NewIDSet(id), payload, it.cfg.BuildRequest, func(res Result[R]) {
		it.cfg.Metrics.InFlight(-1)
		it.cfg.Metrics.SubRequestDuration(time.Since(start).Seconds(), res.Ok())
		it.OnSubRequestComplete(NewIDSet(id), node, res)
	}, st.attempt)

	it.cfg.Metrics.SubRequestSent(true)
	it.cfg.Metrics.InFlight(1)
	if sendErr := it.cfg.Transport.DoSendRequest(req); sendErr != nil {
		it.cfg.Metrics.InFlight(-1)
		it.exhaust(id, st, sendErr)
		return
	}
	it.cfg.Metrics.Rerouted()

	it.cfg.Log.Debug("selective retry dispatched",
		slog.Any("id", id), slog.Any("node", node), slog.Int("attempt", st.attempt))
}

func (it *SelectiveRetryIterator[ID, R]) exhaust(id ID, st *idState, cause error) {
	st.status = idExhausted
	it.cfg.Metrics.Exhausted()
	it.cfg.Queue.Push(FailureResult[R](cause))
	it.remaining.Add(-1)
}
