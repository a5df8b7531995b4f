package partition

import (
	"sync"

	"github.com/codewandler/partd/core/ds"
)

// fakeBalancer is a minimal, fully scriptable LoadBalancer[string] used
// across this package's unit tests. NextNode and NextNodeExcluding defer
// to an optional injected function before falling back to a static
// table; the other query methods read static tables only, so a test
// only wires what it needs.
type fakeBalancer struct {
	mu sync.Mutex

	next        map[string]Node
	nextSeq     map[string][]Node // NextNode returns successive entries per call, for retry tests
	nextNodeFn  func(id string, cap, pcap Capability) (Node, bool)
	nextExclFn  func(id string, excluded *NodeSet, maxAttempts int, cap, pcap Capability) (Node, bool)
	oneReplica  map[string]map[Node]*ds.Set[int]
	allReplicas map[string]*NodeSet
	partitions  map[string]map[Node]*ds.Set[int]
	nReplicas   map[string]map[Node]*IDSet[string]
	oneCluster  map[string]map[Node]*IDSet[string]
}

func newFakeBalancer() *fakeBalancer {
	return &fakeBalancer{
		next:        map[string]Node{},
		nextSeq:     map[string][]Node{},
		oneReplica:  map[string]map[Node]*ds.Set[int]{},
		allReplicas: map[string]*NodeSet{},
		partitions:  map[string]map[Node]*ds.Set[int]{},
		nReplicas:   map[string]map[Node]*IDSet[string]{},
		oneCluster:  map[string]map[Node]*IDSet[string]{},
	}
}

func (b *fakeBalancer) NextNode(id string, cap, pcap Capability) (Node, bool) {
	if b.nextNodeFn != nil {
		return b.nextNodeFn(id, cap, pcap)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq, ok := b.nextSeq[id]; ok && len(seq) > 0 {
		n := seq[0]
		b.nextSeq[id] = seq[1:]
		return n, true
	}
	n, ok := b.next[id]
	return n, ok
}

func (b *fakeBalancer) NodesForOneReplica(id string, _, _ Capability) map[Node]*ds.Set[int] {
	return b.oneReplica[id]
}

func (b *fakeBalancer) NodesForPartitionedID(id string, _, _ Capability) *NodeSet {
	if n, ok := b.allReplicas[id]; ok {
		return n
	}
	return NewNodeSet()
}

func (b *fakeBalancer) NodesForPartitions(id string, partitions *ds.Set[int], _, _ Capability) map[Node]*ds.Set[int] {
	if m, ok := b.partitions[id]; ok {
		return m
	}
	if node, ok := b.next[id]; ok {
		return map[Node]*ds.Set[int]{node: partitions.Copy()}
	}
	return nil
}

func (b *fakeBalancer) NodesForPartitionedIDsInNReplicas(ids *IDSet[string], n int, cap, pcap Capability) map[Node]*IDSet[string] {
	out := map[Node]*IDSet[string]{}
	ids.ForEach(func(id string) {
		if m, ok := b.nReplicas[id]; ok {
			for node, set := range m {
				bucket, exists := out[node]
				if !exists {
					bucket = NewIDSet[string]()
					out[node] = bucket
				}
				bucket.Merge(set)
			}
		}
	})
	return out
}

func (b *fakeBalancer) NodesForPartitionedIDsInOneCluster(ids *IDSet[string], clusterID string, cap, pcap Capability) map[Node]*IDSet[string] {
	out := map[Node]*IDSet[string]{}
	ids.ForEach(func(id string) {
		if m, ok := b.oneCluster[id]; ok {
			for node, set := range m {
				bucket, exists := out[node]
				if !exists {
					bucket = NewIDSet[string]()
					out[node] = bucket
				}
				bucket.Merge(set)
			}
		}
	})
	return out
}

// NextNodeExcluding implements the optional retryNodePicker extension.
// When nextExclFn is set it is used directly; otherwise this falls back
// to the same "ask NextNode repeatedly, skip excluded" loop Router.Retry
// would apply anyway, so fakeBalancer can unconditionally satisfy the
// interface without changing behavior for tests that don't care about it.
func (b *fakeBalancer) NextNodeExcluding(id string, excluded *NodeSet, maxAttempts int, cap, pcap Capability) (Node, bool) {
	if b.nextExclFn != nil {
		return b.nextExclFn(id, excluded, maxAttempts, cap, pcap)
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		n, ok := b.NextNode(id, cap, pcap)
		if !ok {
			return Node{}, false
		}
		if !excluded.Contains(n) {
			return n, true
		}
	}
	return Node{}, false
}

var _ LoadBalancer[string] = (*fakeBalancer)(nil)

// fakeFactory builds a canned LoadBalancer (or fails) regardless of the
// endpoint set it is given, for LoadBalancerCache tests.
type fakeFactory struct {
	lb  LoadBalancer[string]
	err error
}

func (f *fakeFactory) NewLoadBalancer(*ds.Set[Endpoint]) (LoadBalancer[string], error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lb, nil
}

var _ LoadBalancerFactory[string] = (*fakeFactory)(nil)

// fakeTransport records every submitted sub-request and completes it
// according to a scripted per-node outcome, either synchronously
// (inline) or from a background goroutine (async), mirroring a real
// transport's "non-blocking submit, exactly-once callback" contract.
type fakeTransport struct {
	mu   sync.Mutex
	sent []*PartitionedRequest[string, string]

	// outcomeFor, when set, decides what happens to a request instead
	// of the static fields below.
	outcomeFor func(req *PartitionedRequest[string, string])

	// fail marks nodes whose sub-requests should fail, rather than
	// succeed with response Responses[node] (or node.ID if absent).
	fail      map[Node]error
	responses map[Node]string
	// submitErr, when set for a node, makes DoSendRequest itself return
	// an error without ever invoking the request's callback.
	submitErr map[Node]error
	async     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		fail:      map[Node]error{},
		responses: map[Node]string{},
		submitErr: map[Node]error{},
	}
}

func (t *fakeTransport) DoSendRequest(req *PartitionedRequest[string, string]) error {
	t.mu.Lock()
	t.sent = append(t.sent, req)
	t.mu.Unlock()

	if err, ok := t.submitErr[req.Node()]; ok {
		return err
	}

	complete := func() {
		if t.outcomeFor != nil {
			t.outcomeFor(req)
			return
		}
		if err, ok := t.fail[req.Node()]; ok {
			req.Complete(FailureResult[string](err))
			return
		}
		resp, ok := t.responses[req.Node()]
		if !ok {
			resp = req.Node().ID
		}
		req.Complete(SuccessResult(resp))
	}

	if t.async {
		go complete()
	} else {
		complete()
	}
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

var _ Transport[string, string] = (*fakeTransport)(nil)
