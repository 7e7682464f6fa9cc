package reaction

import (
	"fmt"

	"NProject/tools"
)

// ShardFor routes an entity to its shard: stableHash(entityId) mod
// shardCount. Deterministic and stable across process restarts, so the same
// entity always lands in the same shard log as long as the shard count is
// unchanged. Ordering is only guaranteed within a shard.
func ShardFor(entityID string, shardCount int) int {
	if shardCount <= 0 {
		return 0
	}
	return int(tools.StableHash(entityID) % uint32(shardCount))
}

// TopicFor names the shard's log topic.
func TopicFor(pattern string, shard int) string {
	return fmt.Sprintf(pattern, shard)
}

// WorkerID embeds shard index and process id for observability.
func WorkerID(shard, pid int) string {
	return fmt.Sprintf("reaction-%d-%d", shard, pid)
}
