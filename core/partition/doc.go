// Package partition implements the client-side dispatch core of a
// partitioned RPC framework.
//
// Given a request addressed to a set of partition ids, the core decides
// which nodes must receive copies of the request, fans the request out
// concurrently, aggregates responses into an asynchronous iterator, and
// transparently retries failed sub-requests against alternate replicas.
//
// # Architecture
//
// The core consists of:
//
//   - [LoadBalancer]: pluggable mapping from a partition id to a node.
//   - [Router]: turns a set of partition ids into node -> id-subset
//     assignments under several routing policies.
//   - [ReplicaConsistency]: detects and repairs routing tables where a
//     partition was assigned to more than one node.
//   - The [ResponseIterator] family: [FixedIterator], [DynamicIterator]
//     and [SelectiveRetryIterator] multiplex responses arriving
//     asynchronously from many nodes.
//   - The retry engine ([RetryCallback]): whole-sub-request retry
//     against a fresh node.
//   - [LoadBalancerCache]: holds the current load balancer (or a cached
//     construction failure), updated atomically on membership change.
//   - [Dispatcher]: orchestrates all of the above.
//
// Deliberately out of scope (external collaborators, only their Go
// contracts are specified): the transport that writes bytes
// ([Transport]), cluster membership, request/response serialization
// wire shape, load-balancer construction policy, and the concrete pool
// that runs callbacks. The server-side message executor is external
// too — this package is a client only.
//
// # Usage
//
//	d := partition.NewDispatcher[string, *Pong](partition.DispatcherOptions[string, *Pong]{
//	    Cache:     cache,
//	    Transport: transport,
//	})
//	it, err := d.Send(ctx, partition.SendRequest[string, *Pong]{
//	    IDs:          partition.NewIDSet("tenant-1", "tenant-2"),
//	    ReplicaCount: 1,
//	    BuildRequest: func(node partition.Node, ids *partition.IDSet[string]) (any, error) {
//	        return &Ping{IDs: ids.Values()}, nil
//	    },
//	})
package partition
