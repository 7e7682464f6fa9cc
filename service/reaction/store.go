package reaction

import (
	"context"
	"strconv"

	redis2 "NProject/service/storage/redis"
	"NProject/tools/errs"
)

// ===== Redis-backed reaction storage =====

// RedisRepository keeps per-entity reaction tallies in a hash and the
// per-user reaction set alongside it, so toggles and counts are both O(1).
//
//	rcount:<entity>        hash  reactionType -> count
//	rusers:<entity>:<type> set   userIDs
type RedisRepository struct {
	countPrefix string
	usersPrefix string
}

func NewRedisRepository() *RedisRepository {
	return &RedisRepository{countPrefix: "rcount", usersPrefix: "rusers"}
}

func (r *RedisRepository) countKey(entityID string) string {
	return r.countPrefix + ":" + entityID
}

func (r *RedisRepository) usersKey(entityID, reactionType string) string {
	return r.usersPrefix + ":" + entityID + ":" + reactionType
}

// ApplyReaction records one reaction. The user set makes the write
// idempotent at the storage level too: a user already in the set does
// not bump the count again.
func (r *RedisRepository) ApplyReaction(ctx context.Context, ev *ReactionEvent) error {
	rdb := redis2.GetRedis()
	added, err := rdb.SAdd(ctx, r.usersKey(ev.EntityID, ev.ReactionType), ev.UserID).Result()
	if err != nil {
		return errs.Wrap(err, "sadd reaction user")
	}
	if added == 0 {
		return nil
	}
	if err := rdb.HIncrBy(ctx, r.countKey(ev.EntityID), ev.ReactionType, 1).Err(); err != nil {
		return errs.Wrap(err, "hincrby reaction count")
	}
	return nil
}

// Counts returns the tally per reaction type for one entity.
func (r *RedisRepository) Counts(ctx context.Context, entityID string) (map[string]int64, error) {
	raw, err := redis2.GetRedis().HGetAll(ctx, r.countKey(entityID)).Result()
	if err != nil {
		return nil, errs.Wrap(err, "hgetall reaction counts")
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// HasReacted reports whether the user already holds this reaction.
func (r *RedisRepository) HasReacted(ctx context.Context, entityID, userID, reactionType string) (bool, error) {
	return redis2.GetRedis().SIsMember(ctx, r.usersKey(entityID, reactionType), userID).Result()
}

// ===== Cache invalidation =====

// RedisCache drops the denormalized read-model entry for an entity after
// its tallies change.
type RedisCache struct {
	prefix string
}

func NewRedisCache(prefix string) *RedisCache {
	if prefix == "" {
		prefix = "rview"
	}
	return &RedisCache{prefix: prefix}
}

func (c *RedisCache) InvalidateEntity(ctx context.Context, entityID string) error {
	return redis2.GetRedis().Del(ctx, c.prefix+":"+entityID).Err()
}
