package partition

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/codewandler/partd/core/ds"
)

// DispatcherOptions bundles a Dispatcher's collaborators. Cache and
// Transport are required; Metrics and Log default to no-ops.
type DispatcherOptions[ID comparable, R any] struct {
	Cache       *LoadBalancerCache[ID]
	Transport   Transport[ID, R]
	Metrics     DispatchMetrics
	Log         *slog.Logger
	Consistency *ReplicaConsistency
}

// Dispatcher orchestrates routing, fan-out, response aggregation and
// retry for one logical request type. One Dispatcher is typically
// shared by every call site that sends requests of a given (ID, R)
// shape, since it is safe for concurrent use.
type Dispatcher[ID comparable, R any] struct {
	cache       *LoadBalancerCache[ID]
	transport   Transport[ID, R]
	metrics     DispatchMetrics
	log         *slog.Logger
	consistency *ReplicaConsistency
}

// NewDispatcher builds a Dispatcher from opts.
func NewDispatcher[ID comparable, R any](opts DispatcherOptions[ID, R]) *Dispatcher[ID, R] {
	if opts.Metrics == nil {
		opts.Metrics = NopDispatchMetrics{}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Consistency == nil {
		opts.Consistency = NewReplicaConsistency(opts.Log, rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	opts.Consistency.metrics = opts.Metrics
	return &Dispatcher[ID, R]{
		cache:       opts.Cache,
		transport:   opts.Transport,
		metrics:     opts.Metrics,
		log:         opts.Log,
		consistency: opts.Consistency,
	}
}

// Consistency returns the ReplicaConsistency this Dispatcher was built
// with (or defaulted to). LoadBalancerFactory implementations that need
// to resolve duplicate replica assignments during construction should
// take it as a collaborator rather than building their own PRNG.
func (d *Dispatcher[ID, R]) Consistency() *ReplicaConsistency {
	return d.consistency
}

// SendRequest describes one dispatch: which partition ids to address,
// how many replicas to fan out to (or which cluster to pin to), how to
// build each sub-request's payload, and what retry discipline to apply.
//
// Exactly one of ReplicaCount and ClusterID should be set; ReplicaCount
// <= 1 and an empty ClusterID both mean "one replica per id, standard
// routing". Setting both is a programmer error (ClusterID wins).
type SendRequest[ID comparable, R any] struct {
	IDs          *IDSet[ID]
	ReplicaCount int
	ClusterID    string
	BuildRequest BuildRequestFunc[ID, any]
	Cap, PCap    Capability
	Config       RoutingConfigs
	// Strategy arms per-id timeouts for selective retry. The selective
	// path is taken only when Config.SelectiveRetry is true, Strategy is
	// non-nil and more than one node is addressed; Strategy is ignored
	// otherwise.
	Strategy RetryStrategy
	// MaxRetry bounds whole-sub-request retry attempts on the
	// non-selective path. Ignored when the selective path is taken.
	MaxRetry int
}

// Send computes node assignments for req.IDs, fans a sub-request out to
// each assigned node, and returns an iterator that yields one result per
// expected reply as they arrive. The returned iterator must be Closed by
// the caller once consumption is done, including on early abandonment.
func (d *Dispatcher[ID, R]) Send(ctx context.Context, req SendRequest[ID, R]) (ResponseIterator[R], error) {
	if req.IDs == nil || req.IDs.IsEmpty() || req.BuildRequest == nil {
		return nil, ErrNullArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	balancer, err := d.cache.Read()
	if err != nil {
		return nil, err
	}
	router := NewRouter[ID](balancer)

	assignment, err := d.route(router, req)
	if err != nil {
		return nil, err
	}

	if len(assignment) > 1 && req.Config.SelectiveRetry && req.Strategy != nil {
		return d.sendSelectiveRetry(router, req, assignment)
	}
	return d.sendFanOut(router, req, assignment)
}

func (d *Dispatcher[ID, R]) route(router *Router[ID], req SendRequest[ID, R]) (map[Node]*IDSet[ID], error) {
	switch {
	case req.ClusterID != "":
		return router.ClusterPinned(req.IDs, req.ClusterID, req.Cap, req.PCap)
	case req.ReplicaCount > 1:
		return router.NReplica(req.IDs, req.ReplicaCount, req.Cap, req.PCap)
	default:
		return router.Standard(req.IDs, req.Cap, req.PCap)
	}
}

// sendFanOut handles the plain Fixed/Dynamic path: one sub-request per
// assigned node, with whole-sub-request retry when req.MaxRetry > 0.
func (d *Dispatcher[ID, R]) sendFanOut(router *Router[ID], req SendRequest[ID, R], assignment map[Node]*IDSet[ID]) (ResponseIterator[R], error) {
	queue := NewResponseQueue[R]()
	underlying := func(res Result[R]) { queue.Push(res) }

	var it ResponseIterator[R]
	var dynamic *DynamicIterator[R]
	if req.MaxRetry > 0 {
		dynamic = NewDynamicIterator[R](len(assignment), queue)
		it = dynamic
	} else {
		it = NewFixedIterator[R](len(assignment), queue)
	}

	retryCfg := RetryEngineConfig[ID, R]{
		Router:    router,
		Transport: d.transport,
		Iterator:  dynamic,
		MaxRetry:  req.MaxRetry,
		Cap:       req.Cap,
		PCap:      req.PCap,
		Log:       d.log,
		Metrics:   d.metrics,
	}

	for node, ids := range assignment {
		node, ids := node, ids
		if err := d.submit(retryCfg, node, ids, req.BuildRequest, underlying); err != nil {
			it.Close()
			return nil, err
		}
	}
	return it, nil
}

// submit builds and transports one sub-request, wrapping a transport
// failure as a RequestAccess-bearing error so the retry callback can
// find its way back to the failed request, then sends.
func (d *Dispatcher[ID, R]) submit(
	cfg RetryEngineConfig[ID, R],
	node Node,
	ids *IDSet[ID],
	build BuildRequestFunc[ID, any],
	underlying CompletionFunc[R],
) error {
	payload, err := build(node, ids)
	if err != nil {
		return err
	}

	cb := underlying
	if cfg.MaxRetry > 0 {
		cb = RetryCallback(cfg, underlying)
	}

	var sub *PartitionedRequest[ID, R]
	start := time.Now()
	onDone := func(res Result[R]) {
		d.metrics.InFlight(-1)
		d.metrics.SubRequestDuration(time.Since(start).Seconds(), res.Ok())
		if !res.Ok() {
			res.Err = &RequestFailure[ID, R]{Req: sub, Cause: res.Err}
		}
		cb(res)
	}
	sub = NewPartitionedRequest[ID, R](node, ids, payload, build, onDone, 0)

	d.metrics.SubRequestSent(false)
	d.metrics.InFlight(1)
	if sendErr := d.transport.DoSendRequest(sub); sendErr != nil {
		d.metrics.InFlight(-1)
		return sendErr
	}
	return nil
}

// sendSelectiveRetry handles the per-id retry path.
func (d *Dispatcher[ID, R]) sendSelectiveRetry(router *Router[ID], req SendRequest[ID, R], assignment map[Node]*IDSet[ID]) (ResponseIterator[R], error) {
	queue := NewResponseQueue[R]()
	idToNode := map[ID]Node{}
	for node, ids := range assignment {
		ids.ForEach(func(id ID) { idToNode[id] = node })
	}

	cfg := SelectiveRetryIteratorConfig[ID, R]{
		Queue:        queue,
		IDToNode:     idToNode,
		Router:       router,
		BuildRequest: req.BuildRequest,
		Transport:    d.transport,
		Strategy:     req.Strategy,
		DuplicatesOK: req.Config.DuplicatesOK,
		Cap:          req.Cap,
		PCap:         req.PCap,
		Log:          d.log,
		Metrics:      d.metrics,
	}
	it := NewSelectiveRetryIterator[ID, R](cfg)

	for node, ids := range assignment {
		node, ids := node, ids
		payload, err := req.BuildRequest(node, ids)
		if err != nil {
			it.Close()
			return nil, err
		}
		start := time.Now()
		onDone := func(res Result[R]) {
			d.metrics.InFlight(-1)
			d.metrics.SubRequestDuration(time.Since(start).Seconds(), res.Ok())
			it.OnSubRequestComplete(ids, node, res)
		}
		sub := NewPartitionedRequest[ID, R](node, ids, payload, req.BuildRequest, onDone, 0)

		d.metrics.SubRequestSent(false)
		d.metrics.InFlight(1)
		if sendErr := d.transport.DoSendRequest(sub); sendErr != nil {
			d.metrics.InFlight(-1)
			it.Close()
			return nil, sendErr
		}
	}
	return it, nil
}

// Aggregate blocks until it is exhausted, collecting every successful
// response. It stops at the first error from Next (a failed result, a
// timeout on a single Next, or ctx ending) and returns that error with
// the responses collected so far. it is Closed before returning.
func (d *Dispatcher[ID, R]) Aggregate(ctx context.Context, it ResponseIterator[R], timeout time.Duration) ([]R, error) {
	defer it.Close()

	var out []R
	for it.HasNext() {
		res, err := it.Next(ctx, timeout)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// SendOne is the single-id convenience variant: it dispatches req with
// IDs pinned to {id} and, since routing a single id yields at most one
// sub-request, returns a future of the one response instead of an
// iterator the caller would have to drain and close.
func (d *Dispatcher[ID, R]) SendOne(ctx context.Context, id ID, buildRequest BuildRequestFunc[ID, any], maxRetry int, cap, pcap Capability) (R, error) {
	var zero R
	it, err := d.Send(ctx, SendRequest[ID, R]{
		IDs:          NewIDSet(id),
		BuildRequest: buildRequest,
		MaxRetry:     maxRetry,
		Cap:          cap,
		PCap:         pcap,
	})
	if err != nil {
		return zero, err
	}
	defer it.Close()
	return it.Next(ctx, 0)
}

// SendFixed is the "one fixed request applied to all nodes" convenience
// variant: unlike BuildRequestFunc, request does not vary per node.
func (d *Dispatcher[ID, R]) SendFixed(ctx context.Context, ids *IDSet[ID], request any, maxRetry int, cap, pcap Capability, cfg RoutingConfigs) (ResponseIterator[R], error) {
	return d.Send(ctx, SendRequest[ID, R]{
		IDs:          ids,
		BuildRequest: func(Node, *IDSet[ID]) (any, error) { return request, nil },
		MaxRetry:     maxRetry,
		Cap:          cap,
		PCap:         pcap,
		Config:       cfg,
	})
}

// SendToOneReplica dispatches a single-replica read for id: the
// balancer's NodesForOneReplica query names which node serves which
// partition numbers, ReplicaConsistency repairs any partition claimed
// by more than one node, and one sub-request per surviving
// (node, partitions) pair is sent. The returned iterator is fixed-size:
// len(repaired-assignment).
func (d *Dispatcher[ID, R]) SendToOneReplica(ctx context.Context, id ID, build BuildPartitionsRequestFunc[ID, any], cap, pcap Capability) (ResponseIterator[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if build == nil {
		return nil, ErrNullArgument
	}

	balancer, err := d.cache.Read()
	if err != nil {
		return nil, err
	}

	assignment := balancer.NodesForOneReplica(id, cap, pcap)
	if len(assignment) == 0 {
		return nil, &NoNodesAvailableError[ID]{IDs: []ID{id}}
	}
	assignment = d.consistency.Repair(assignment)

	return d.sendPartitionsFanOut(id, assignment, build)
}

// SendToPartitions dispatches a request for a caller-chosen subset of
// id's partition numbers, again subject to ReplicaConsistency repair.
func (d *Dispatcher[ID, R]) SendToPartitions(ctx context.Context, id ID, partitions *ds.Set[int], build BuildPartitionsRequestFunc[ID, any], cap, pcap Capability) (ResponseIterator[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if build == nil || partitions == nil || partitions.IsEmpty() {
		return nil, ErrNullArgument
	}

	balancer, err := d.cache.Read()
	if err != nil {
		return nil, err
	}

	assignment := balancer.NodesForPartitions(id, partitions, cap, pcap)
	if len(assignment) == 0 {
		return nil, &NoNodesAvailableError[ID]{IDs: []ID{id}}
	}
	assignment = d.consistency.Repair(assignment)

	return d.sendPartitionsFanOut(id, assignment, build)
}

// sendPartitionsFanOut builds and submits one sub-request per
// (node, partitions) pair in assignment and returns a fixed-size
// iterator over the results. Used by both SendToOneReplica and
// SendToPartitions, which differ only in how assignment was computed.
func (d *Dispatcher[ID, R]) sendPartitionsFanOut(id ID, assignment map[Node]*ds.Set[int], build BuildPartitionsRequestFunc[ID, any]) (ResponseIterator[R], error) {
	queue := NewResponseQueue[R]()
	it := NewFixedIterator[R](len(assignment), queue)

	for node, partitions := range assignment {
		node, partitions := node, partitions
		payload, err := build(node, id, partitions)
		if err != nil {
			it.Close()
			return nil, err
		}
		ids := NewIDSet(id)
		start := time.Now()
		sub := NewPartitionedRequest[ID, R](node, ids, payload, nil, func(res Result[R]) {
			d.metrics.InFlight(-1)
			d.metrics.SubRequestDuration(time.Since(start).Seconds(), res.Ok())
			queue.Push(res)
		}, 0)

		d.metrics.SubRequestSent(false)
		d.metrics.InFlight(1)
		if sendErr := d.transport.DoSendRequest(sub); sendErr != nil {
			d.metrics.InFlight(-1)
			it.Close()
			return nil, sendErr
		}
	}
	return it, nil
}

// SendToReplicas dispatches the same fixed request to every replica
// currently serving id (per the balancer's NodesForPartitionedID
// query), with per-node whole-sub-request retry when maxRetry > 0.
func (d *Dispatcher[ID, R]) SendToReplicas(ctx context.Context, id ID, request any, maxRetry int, cap, pcap Capability) (ResponseIterator[R], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	balancer, err := d.cache.Read()
	if err != nil {
		return nil, err
	}
	router := NewRouter[ID](balancer)

	nodes := balancer.NodesForPartitionedID(id, cap, pcap)
	if nodes == nil || nodes.IsEmpty() {
		return nil, &NoNodesAvailableError[ID]{IDs: []ID{id}}
	}

	build := func(Node, *IDSet[ID]) (any, error) { return request, nil }
	ids := NewIDSet(id)

	queue := NewResponseQueue[R]()
	underlying := func(res Result[R]) { queue.Push(res) }

	var it ResponseIterator[R]
	var dynamic *DynamicIterator[R]
	if maxRetry > 0 {
		dynamic = NewDynamicIterator[R](nodes.Len(), queue)
		it = dynamic
	} else {
		it = NewFixedIterator[R](nodes.Len(), queue)
	}

	retryCfg := RetryEngineConfig[ID, R]{
		Router:    router,
		Transport: d.transport,
		Iterator:  dynamic,
		MaxRetry:  maxRetry,
		Cap:       cap,
		PCap:      pcap,
		Log:       d.log,
		Metrics:   d.metrics,
	}

	var submitErr error
	nodes.ForEach(func(node Node) {
		if submitErr != nil {
			return
		}
		submitErr = d.submit(retryCfg, node, ids, build, underlying)
	})
	if submitErr != nil {
		it.Close()
		return nil, submitErr
	}
	return it, nil
}
