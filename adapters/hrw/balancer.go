// Package hrw is a reference partition.LoadBalancer built on rendezvous
// (highest random weight) hashing: the node whose hash of a partition
// key is largest wins. HRW gives every client an identical placement
// from an identical membership view without any coordination, and
// degrades gracefully as nodes join or leave (only the ids owned by the
// joining/leaving node move).
package hrw

import (
	"errors"
	"sort"

	"github.com/codewandler/partd/core/ds"
	"github.com/codewandler/partd/core/partition"
	"github.com/codewandler/partd/internal/hrw"
	"github.com/codewandler/partd/internal/shard"
)

// ErrNoAliveNodes is returned by Factory.NewLoadBalancer when every
// endpoint in the snapshot is marked dead.
var ErrNoAliveNodes = errors.New("hrw: no alive nodes in endpoint set")

// KeyFunc renders a partition id as the string HRW hashes against node
// addresses.
type KeyFunc[ID comparable] func(id ID) string

// PartitionFunc maps a partition id to the fixed partition number used
// by the partition-number-granularity queries (NodesForOneReplica,
// NodesForPartitions). A reference implementation that does not
// distinguish sub-id partitions can return a constant.
type PartitionFunc[ID comparable] func(id ID) int

// FNVPartitionFunc builds a PartitionFunc that hashes an id's string
// form into one of count fixed-size buckets, for callers who want a
// stable partition number without maintaining their own assignment
// table.
func FNVPartitionFunc[ID comparable](key KeyFunc[ID], count int) PartitionFunc[ID] {
	return func(id ID) int {
		return shard.ForKey(key(id), count)
	}
}

// Factory builds Balancer instances from membership snapshots.
type Factory[ID comparable] struct {
	Key         KeyFunc[ID]
	PartitionOf PartitionFunc[ID]
	// Seed personalizes the hash, e.g. with a deployment or ring name, so
	// two independent rings over overlapping node sets don't place ids
	// identically.
	Seed string
	// Replicas is how many distinct nodes NodesForPartitionedID reports
	// as currently serving a given id. Defaults to 1.
	Replicas int
}

func (f Factory[ID]) NewLoadBalancer(endpoints *ds.Set[partition.Endpoint]) (partition.LoadBalancer[ID], error) {
	var nodeStrs []string
	nodeByStr := map[string]partition.Node{}
	endpoints.ForEach(func(e partition.Endpoint) {
		if !e.Alive {
			return
		}
		s := e.Node.String()
		nodeStrs = append(nodeStrs, s)
		nodeByStr[s] = e.Node
	})
	if len(nodeStrs) == 0 {
		return nil, ErrNoAliveNodes
	}
	sort.Strings(nodeStrs)

	replicas := f.Replicas
	if replicas <= 0 {
		replicas = 1
	}

	return &Balancer[ID]{
		nodeStrs:  nodeStrs,
		nodeByStr: nodeByStr,
		key:       f.Key,
		partOf:    f.PartitionOf,
		seed:      f.Seed,
		replicas:  replicas,
	}, nil
}

var _ partition.LoadBalancerFactory[string] = Factory[string]{}

// Balancer is one immutable membership snapshot's worth of routing
// decisions. It holds no mutable state and is safe for concurrent use.
type Balancer[ID comparable] struct {
	nodeStrs  []string
	nodeByStr map[string]partition.Node
	key       KeyFunc[ID]
	partOf    PartitionFunc[ID]
	seed      string
	replicas  int
}

func (b *Balancer[ID]) NextNode(id ID, _, _ partition.Capability) (partition.Node, bool) {
	best, ok := hrw.Best(b.key(id), b.nodeStrs, b.seed)
	if !ok {
		return partition.Node{}, false
	}
	return b.nodeByStr[best], true
}

// NextNodeExcluding implements the optional retry-node-picker extension:
// it walks the full HRW ranking for id and returns the highest-ranked
// node not in excluded, ignoring maxAttempts (the full ranking is
// already exhaustive, so there is nothing attempt-limited about it).
func (b *Balancer[ID]) NextNodeExcluding(id ID, excluded *partition.NodeSet, _ int, _, _ partition.Capability) (partition.Node, bool) {
	ranked := hrw.TopK(b.key(id), b.nodeStrs, len(b.nodeStrs), b.seed)
	for _, s := range ranked {
		node := b.nodeByStr[s]
		if !excluded.Contains(node) {
			return node, true
		}
	}
	return partition.Node{}, false
}

func (b *Balancer[ID]) NodesForOneReplica(id ID, cap, pcap partition.Capability) map[partition.Node]*ds.Set[int] {
	node, ok := b.NextNode(id, cap, pcap)
	if !ok {
		return nil
	}
	return map[partition.Node]*ds.Set[int]{node: ds.NewSet(b.partOf(id))}
}

func (b *Balancer[ID]) NodesForPartitionedID(id ID, _, _ partition.Capability) *partition.NodeSet {
	ranked := hrw.TopK(b.key(id), b.nodeStrs, b.replicas, b.seed)
	out := partition.NewNodeSet()
	for _, s := range ranked {
		out.Add(b.nodeByStr[s])
	}
	return out
}

func (b *Balancer[ID]) NodesForPartitions(id ID, partitions *ds.Set[int], cap, pcap partition.Capability) map[partition.Node]*ds.Set[int] {
	node, ok := b.NextNode(id, cap, pcap)
	if !ok {
		return nil
	}
	return map[partition.Node]*ds.Set[int]{node: partitions.Copy()}
}

func (b *Balancer[ID]) NodesForPartitionedIDsInNReplicas(ids *partition.IDSet[ID], n int, cap, pcap partition.Capability) map[partition.Node]*partition.IDSet[ID] {
	out := map[partition.Node]*partition.IDSet[ID]{}
	ids.ForEach(func(id ID) {
		ranked := hrw.TopK(b.key(id), b.nodeStrs, n, b.seed)
		for _, s := range ranked {
			node := b.nodeByStr[s]
			bucket, exists := out[node]
			if !exists {
				bucket = partition.NewIDSet[ID]()
				out[node] = bucket
			}
			bucket.Add(id)
		}
	})
	return out
}

// NodesForPartitionedIDsInOneCluster has no cluster concept of its own
// (a single Balancer already represents one cluster's worth of
// membership), so clusterID is accepted but ignored and this degenerates
// to single-replica-per-id placement.
func (b *Balancer[ID]) NodesForPartitionedIDsInOneCluster(ids *partition.IDSet[ID], _ string, cap, pcap partition.Capability) map[partition.Node]*partition.IDSet[ID] {
	return b.NodesForPartitionedIDsInNReplicas(ids, 1, cap, pcap)
}

var _ partition.LoadBalancer[string] = (*Balancer[string])(nil)
