package partition

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/codewandler/partd/core/ds"
)

// ReplicaConsistency detects and deterministically repairs routing
// tables where the same partition number was assigned to more than one
// node (e.g. because two balancer queries raced a membership change).
type ReplicaConsistency struct {
	log     *slog.Logger
	rngMu   sync.Mutex
	rng     *rand.Rand
	metrics DispatchMetrics
}

// NewReplicaConsistency builds a checker. rng is injected rather than
// using the global source so repair is deterministic under test; pass
// rand.New(rand.NewSource(seed)) for reproducible runs. Concurrent
// callers share rng safely: access is serialized internally, matching
// the process-wide-PRNG requirement on this component.
func NewReplicaConsistency(log *slog.Logger, rng *rand.Rand) *ReplicaConsistency {
	if log == nil {
		log = slog.Default()
	}
	return &ReplicaConsistency{log: log, rng: rng, metrics: NopDispatchMetrics{}}
}

func (c *ReplicaConsistency) randIntn(n int) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return c.rng.Intn(n)
}

// Repair takes a node -> partition-numbers assignment and returns a
// fresh assignment where each partition appears under exactly one
// node. Partitions claimed by a single node are kept as-is; partitions
// claimed by more than one node have one candidate chosen uniformly at
// random. The union of partitions in the output equals the union in
// the input.
func (c *ReplicaConsistency) Repair(assignment map[Node]*ds.Set[int]) map[Node]*ds.Set[int] {
	// invert: partition -> candidate nodes, in a deterministic order
	// so repeated repairs over the same conflict are reproducible given
	// the same rng stream.
	byPartition := map[int][]Node{}
	var partitions []int
	for node, parts := range assignment {
		parts.ForEach(func(p int) {
			if _, seen := byPartition[p]; !seen {
				partitions = append(partitions, p)
			}
			byPartition[p] = append(byPartition[p], node)
		})
	}
	sort.Ints(partitions)
	for _, p := range partitions {
		sort.Slice(byPartition[p], func(i, j int) bool {
			return byPartition[p][i].ID < byPartition[p][j].ID
		})
	}

	out := map[Node]*ds.Set[int]{}
	for _, p := range partitions {
		candidates := byPartition[p]
		var winner Node
		if len(candidates) == 1 {
			winner = candidates[0]
		} else {
			c.log.Warn("replica consistency conflict",
				slog.Int("partition", p),
				slog.Any("candidates", candidates),
			)
			c.metrics.ConsistencyConflict()
			winner = candidates[c.randIntn(len(candidates))]
		}
		bucket, ok := out[winner]
		if !ok {
			bucket = ds.NewSet[int]()
			out[winner] = bucket
		}
		bucket.Add(p)
	}
	return out
}
