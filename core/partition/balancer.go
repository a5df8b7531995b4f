package partition

import "github.com/codewandler/partd/core/ds"

// LoadBalancer maps partition ids to nodes. Construction policy (how a
// balancer is built from an endpoint set) is out of scope for this
// package; see adapters/hrw for a concrete reference implementation.
//
// Implementations may be non-deterministic across calls (e.g. under
// concurrent membership changes); the Router only relies on the
// balancer's observations within a single call.
type LoadBalancer[ID comparable] interface {
	// NextNode returns the node a single partition id should be routed
	// to, or ok=false if no node is available.
	NextNode(id ID, cap, pcap Capability) (node Node, ok bool)

	// NodesForOneReplica returns, for id, a map of node to the set of
	// partition numbers (not ids) that node should serve for a
	// single-replica read.
	NodesForOneReplica(id ID, cap, pcap Capability) map[Node]*ds.Set[int]

	// NodesForPartitionedID returns every replica node currently
	// serving id.
	NodesForPartitionedID(id ID, cap, pcap Capability) *NodeSet

	// NodesForPartitions returns, for id, a map of node to the subset
	// of the requested partition numbers that node serves.
	NodesForPartitions(id ID, partitions *ds.Set[int], cap, pcap Capability) map[Node]*ds.Set[int]

	// NodesForPartitionedIDsInNReplicas places each id on up to n
	// distinct replicas, subject to availability, returning node to
	// id-subset assignments.
	NodesForPartitionedIDsInNReplicas(ids *IDSet[ID], n int, cap, pcap Capability) map[Node]*IDSet[ID]

	// NodesForPartitionedIDsInOneCluster restricts placement to the
	// given cluster id.
	NodesForPartitionedIDsInOneCluster(ids *IDSet[ID], clusterID string, cap, pcap Capability) map[Node]*IDSet[ID]
}

// LoadBalancerFactory builds a LoadBalancer from a membership snapshot.
// Construction may fail, e.g. if the snapshot cannot form a valid
// routing table.
type LoadBalancerFactory[ID comparable] interface {
	NewLoadBalancer(endpoints *ds.Set[Endpoint]) (LoadBalancer[ID], error)
}
