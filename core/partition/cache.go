package partition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/codewandler/partd/core/ds"
	"github.com/codewandler/partd/core/sf"
)

// cellState is the discriminant of a loadBalancerCell: absent (no
// Update has published a non-empty endpoint set yet), invalid (the
// factory rejected the last endpoint set), or valid.
type cellState int

const (
	cellAbsent cellState = iota
	cellInvalid
	cellValid
)

type loadBalancerCell[ID comparable] struct {
	state cellState
	lb    LoadBalancer[ID]
	err   error
}

// LoadBalancerCache holds the current load balancer, or a cached
// construction failure, behind a single atomically-replaced cell.
// Readers always observe the most recently published snapshot;
// concurrent builds for the same endpoint set are de-duplicated via
// singleflight.
type LoadBalancerCache[ID comparable] struct {
	factory LoadBalancerFactory[ID]
	cell    atomic.Pointer[loadBalancerCell[ID]]
	group   *sf.Singleflight[loadBalancerCell[ID]]
}

// NewLoadBalancerCache creates a cache backed by factory. The cache
// starts absent until the first Update.
func NewLoadBalancerCache[ID comparable](factory LoadBalancerFactory[ID]) *LoadBalancerCache[ID] {
	c := &LoadBalancerCache[ID]{
		factory: factory,
		group:   sf.New[loadBalancerCell[ID]](),
	}
	c.cell.Store(&loadBalancerCell[ID]{state: cellAbsent})
	return c
}

// Update publishes a new balancer snapshot built from endpoints. An
// empty set publishes "absent". A factory error is cached as
// InvalidClusterError and rethrown by Read until the next successful
// Update.
func (c *LoadBalancerCache[ID]) Update(endpoints *ds.Set[Endpoint]) error {
	if endpoints == nil || endpoints.IsEmpty() {
		c.cell.Store(&loadBalancerCell[ID]{state: cellAbsent})
		return nil
	}

	key := endpointSetKey(endpoints)
	cell, err := c.group.Do(key, func() (*loadBalancerCell[ID], error) {
		lb, buildErr := c.factory.NewLoadBalancer(endpoints)
		if buildErr != nil {
			ic := &InvalidClusterError{Cause: buildErr}
			return &loadBalancerCell[ID]{state: cellInvalid, err: ic}, nil
		}
		return &loadBalancerCell[ID]{state: cellValid, lb: lb}, nil
	})
	if err != nil {
		// fn above never returns a non-nil error; kept for symmetry
		// with sf.Singleflight's general contract.
		return err
	}

	c.cell.Store(cell)
	return nil
}

// Read returns the currently published balancer, ErrNotConnected if no
// endpoints have ever been published, or the cached InvalidClusterError
// if the last build failed.
func (c *LoadBalancerCache[ID]) Read() (LoadBalancer[ID], error) {
	cell := c.cell.Load()
	switch cell.state {
	case cellAbsent:
		return nil, ErrNotConnected
	case cellInvalid:
		return nil, cell.err
	default:
		return cell.lb, nil
	}
}

// endpointSetKey derives a stable dedup key for a snapshot so
// concurrent Update calls carrying the same membership view coalesce
// into a single factory invocation.
func endpointSetKey(endpoints *ds.Set[Endpoint]) string {
	vals := endpoints.Values()
	strs := make([]string, len(vals))
	for i, e := range vals {
		strs[i] = fmt.Sprintf("%s|%s|%t", e.Node.ID, e.Node.Addr, e.Alive)
	}
	sort.Strings(strs)
	h := sha256.Sum256([]byte(fmt.Sprint(strs)))
	return fmt.Sprintf("%x", h)
}
