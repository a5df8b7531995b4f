package partition

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/partd/core/ds"
)

func TestReplicaConsistency_Repair(t *testing.T) {
	n1 := Node{ID: "n1"}
	n2 := Node{ID: "n2"}

	c := NewReplicaConsistency(nil, rand.New(rand.NewSource(1)))
	input := map[Node]*ds.Set[int]{
		n1: ds.NewSet(0, 1),
		n2: ds.NewSet(1, 2),
	}

	out := c.Repair(input)

	// Each partition maps to exactly one node.
	owner := map[int]int{}
	union := ds.NewSet[int]()
	for _, parts := range out {
		parts.ForEach(func(p int) {
			owner[p]++
			union.Add(p)
		})
	}
	for p, count := range owner {
		assert.Equal(t, 1, count, "partition %d assigned to more than one node", p)
	}

	// Union of partitions is preserved.
	assert.True(t, union.EqValues(0, 1, 2))

	// Unconflicted partitions keep their sole candidate.
	foundZeroOnN1 := false
	for node, parts := range out {
		if parts.Contains(0) {
			assert.Equal(t, n1, node)
			foundZeroOnN1 = true
		}
	}
	assert.True(t, foundZeroOnN1)
}

func TestReplicaConsistency_NoConflict_IsUnchanged(t *testing.T) {
	n1 := Node{ID: "n1"}
	n2 := Node{ID: "n2"}

	c := NewReplicaConsistency(nil, rand.New(rand.NewSource(1)))
	input := map[Node]*ds.Set[int]{
		n1: ds.NewSet(0),
		n2: ds.NewSet(1),
	}

	out := c.Repair(input)
	require.Len(t, out, 2)
	assert.True(t, out[n1].EqValues(0))
	assert.True(t, out[n2].EqValues(1))
}

func TestReplicaConsistency_Repair_DeterministicGivenSeed(t *testing.T) {
	n1 := Node{ID: "n1"}
	n2 := Node{ID: "n2"}
	input := func() map[Node]*ds.Set[int] {
		return map[Node]*ds.Set[int]{
			n1: ds.NewSet(5),
			n2: ds.NewSet(5),
		}
	}

	c1 := NewReplicaConsistency(nil, rand.New(rand.NewSource(42)))
	c2 := NewReplicaConsistency(nil, rand.New(rand.NewSource(42)))

	out1 := c1.Repair(input())
	out2 := c2.Repair(input())

	var winner1, winner2 Node
	for node, parts := range out1 {
		if parts.Contains(5) {
			winner1 = node
		}
	}
	for node, parts := range out2 {
		if parts.Contains(5) {
			winner2 = node
		}
	}
	assert.Equal(t, winner1, winner2)
}
