package partition

import (
	"sync"

	"github.com/codewandler/partd/core/cache"
	"github.com/codewandler/partd/core/ds"
)

// ClusterRegistry holds one LoadBalancerCache per cluster id, bounded by
// an LRU so a client that talks to many clusters over its lifetime (e.g.
// routing by a ClusterID pulled from request metadata) does not
// accumulate an unbounded number of stale caches.
type ClusterRegistry[ID comparable] struct {
	factory LoadBalancerFactory[ID]
	caches  cache.TypedCache[*LoadBalancerCache[ID]]
	mu      sync.Mutex
}

// NewClusterRegistry creates a registry backed by an LRU of the given
// size (default 128 when size <= 0). Every cluster's cache is built
// lazily, on first Get or Update, from factory.
func NewClusterRegistry[ID comparable](factory LoadBalancerFactory[ID], size int) *ClusterRegistry[ID] {
	if size <= 0 {
		size = 128
	}
	return &ClusterRegistry[ID]{
		factory: factory,
		caches:  cache.NewTyped[*LoadBalancerCache[ID]](cache.NewLRU(cache.LRUOpts{Size: size})),
	}
}

// Get returns the LoadBalancerCache for clusterID, creating an absent one
// on first access. The returned cache is safe to Read before any Update
// has arrived; Read reports ErrNotConnected until then.
func (r *ClusterRegistry[ID]) Get(clusterID string) *LoadBalancerCache[ID] {
	if c, ok := r.caches.Get(clusterID); ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches.Get(clusterID); ok {
		return c
	}
	c := NewLoadBalancerCache[ID](r.factory)
	r.caches.Put(clusterID, c)
	return c
}

// Update publishes a fresh endpoint snapshot for clusterID, creating its
// cache first if this is the first snapshot seen for that cluster.
func (r *ClusterRegistry[ID]) Update(clusterID string, endpoints *ds.Set[Endpoint]) error {
	return r.Get(clusterID).Update(endpoints)
}
