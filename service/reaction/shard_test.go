package reaction

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardForDeterministic(t *testing.T) {
	for _, id := range []string{"note-1", "note-2", "a", "", "长实体"} {
		first := ShardFor(id, 8)
		for i := 0; i < 50; i++ {
			assert.Equal(t, first, ShardFor(id, 8), "shard must be stable for %q", id)
		}
	}
}

func TestShardForRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		s := ShardFor(fmt.Sprintf("entity-%d", i), 8)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 8)
	}
}

func TestShardForSpread(t *testing.T) {
	hit := make(map[int]int)
	for i := 0; i < 1000; i++ {
		hit[ShardFor(fmt.Sprintf("entity-%d", i), 8)]++
	}
	// FNV over a thousand distinct ids should touch every shard.
	assert.Len(t, hit, 8)
}

func TestShardForDegenerateCount(t *testing.T) {
	assert.Equal(t, 0, ShardFor("anything", 0))
	assert.Equal(t, 0, ShardFor("anything", -3))
	assert.Equal(t, 0, ShardFor("anything", 1))
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "reaction.shard-00", TopicFor("reaction.shard-%02d", 0))
	assert.Equal(t, "reaction.shard-07", TopicFor("reaction.shard-%02d", 7))
}

func TestWorkerID(t *testing.T) {
	assert.Equal(t, "reaction-3-4242", WorkerID(3, 4242))
}
