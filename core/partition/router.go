package partition

// Router turns a set of partition ids into node -> id-subset
// assignments under several policies, all backed by a single
// LoadBalancer observed within one call.
type Router[ID comparable] struct {
	balancer LoadBalancer[ID]
}

// NewRouter wraps balancer for routing.
func NewRouter[ID comparable](balancer LoadBalancer[ID]) *Router[ID] {
	return &Router[ID]{balancer: balancer}
}

// Standard folds over ids, consulting NextNode for each, and groups ids
// by assigned node. A missing assignment for any id fails the whole
// call with NoNodesAvailableError.
func (r *Router[ID]) Standard(ids *IDSet[ID], cap, pcap Capability) (map[Node]*IDSet[ID], error) {
	out := map[Node]*IDSet[ID]{}
	var missing []ID
	ids.ForEach(func(id ID) {
		node, ok := r.balancer.NextNode(id, cap, pcap)
		if !ok {
			missing = append(missing, id)
			return
		}
		bucket, exists := out[node]
		if !exists {
			bucket = NewIDSet[ID]()
			out[node] = bucket
		}
		bucket.Add(id)
	})
	if len(missing) > 0 {
		return nil, &NoNodesAvailableError[ID]{IDs: missing}
	}
	return out, nil
}

// NReplica delegates to the balancer's N-replica query: each id is
// placed on up to n distinct replicas, subject to availability.
func (r *Router[ID]) NReplica(ids *IDSet[ID], n int, cap, pcap Capability) (map[Node]*IDSet[ID], error) {
	if n <= 0 {
		return nil, ErrIllegalArgument
	}
	out := r.balancer.NodesForPartitionedIDsInNReplicas(ids, n, cap, pcap)
	if len(out) == 0 && !ids.IsEmpty() {
		return nil, &NoNodesAvailableError[ID]{IDs: ids.Values()}
	}
	return out, nil
}

// ClusterPinned delegates to the balancer's cluster-restricted query.
func (r *Router[ID]) ClusterPinned(ids *IDSet[ID], clusterID string, cap, pcap Capability) (map[Node]*IDSet[ID], error) {
	out := r.balancer.NodesForPartitionedIDsInOneCluster(ids, clusterID, cap, pcap)
	if len(out) == 0 && !ids.IsEmpty() {
		return nil, &NoNodesAvailableError[ID]{IDs: ids.Values()}
	}
	return out, nil
}

// Retry recomputes placement for ids excluding any node in excluded,
// trying up to maxAttempts candidate assignments per id before giving
// up on that id. maxAttempts <= 0 is a programmer error.
//
// When the balancer implements the optional retryNodePicker extension,
// Retry delegates each id to its NextNodeExcluding. Otherwise it
// repeatedly asks NextNode and discards candidates in excluded; for a
// balancer whose NextNode always returns the same node for the same id,
// that degenerates to "the node, unless excluded".
func (r *Router[ID]) Retry(ids *IDSet[ID], excluded *NodeSet, maxAttempts int, cap, pcap Capability) (map[Node]*IDSet[ID], error) {
	if maxAttempts <= 0 {
		return nil, ErrIllegalArgument
	}

	picker, hasPicker := r.balancer.(retryNodePicker[ID])

	out := map[Node]*IDSet[ID]{}
	var missing []ID
	ids.ForEach(func(id ID) {
		var (
			node  Node
			found bool
		)
		if hasPicker {
			node, found = picker.NextNodeExcluding(id, excluded, maxAttempts, cap, pcap)
		} else {
			for attempt := 0; attempt < maxAttempts; attempt++ {
				n, ok := r.balancer.NextNode(id, cap, pcap)
				if !ok {
					break
				}
				if !excluded.Contains(n) {
					node, found = n, true
					break
				}
			}
		}
		if !found {
			missing = append(missing, id)
			return
		}
		bucket, exists := out[node]
		if !exists {
			bucket = NewIDSet[ID]()
			out[node] = bucket
		}
		bucket.Add(id)
	})

	if len(missing) > 0 {
		return nil, &NoNodesAvailableError[ID]{IDs: missing}
	}
	return out, nil
}

// retryNodePicker is an optional LoadBalancer extension that can offer
// a different candidate node per attempt (e.g. consulting a ranked
// replica list) rather than the single answer NextNode gives.
// Implementing it is not required; see adapters/hrw for one that does.
type retryNodePicker[ID comparable] interface {
	NextNodeExcluding(id ID, excluded *NodeSet, maxAttempts int, cap, pcap Capability) (Node, bool)
}
