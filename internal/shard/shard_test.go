package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForKey_Deterministic(t *testing.T) {
	a := ForKey("tenant-1", 16)
	b := ForKey("tenant-1", 16)
	assert.Equal(t, a, b)
}

func TestForKey_WithinBounds(t *testing.T) {
	for _, key := range []string{"a", "b", "tenant-42", ""} {
		s := ForKey(key, 8)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
	}
}

func TestDistributed_MatchesForKey(t *testing.T) {
	sharder := Distributed(4)
	for _, key := range []string{"x", "y", "z"} {
		assert.Equal(t, ForKey(key, 4), sharder.GetShardForKey(key))
	}
}

func TestConst_AlwaysReturnsSameShard(t *testing.T) {
	sharder := Const(3)
	assert.Equal(t, 3, sharder.GetShardForKey("anything"))
	assert.Equal(t, 3, sharder.GetShardForKey("something-else"))
}
