package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis2 "NProject/service/storage/redis"

	"github.com/redis/go-redis/v9"
)

// ===== Config =====

type PresenceConfig struct {
	Prefix      string        // member set prefix, e.g. "pv" / "pt" / "po"
	IndexPrefix string        // per-entity userID index prefix; "" disables it
	TTL         time.Duration // per-key TTL so a crashed gateway's state converges; <=0 disables
}

func (c *PresenceConfig) norm() {
	if c.Prefix == "" {
		c.Prefix = "pv"
	}
	if c.TTL < 0 {
		c.TTL = 0
	}
}

// ===== Lua scripts =====

// Atomic add-and-signal.
// KEYS[1] = member set    (e.g. pv:<entity>:u:<user>)
// KEYS[2] = entity index  (e.g. pti:<entity>; only touched when ARGV[4]==1)
// ARGV[1] = connID
// ARGV[2] = userID
// ARGV[3] = ttlSeconds (0 = no expiry)
// ARGV[4] = useIndex (0/1)
// Returns 1 only when this add made the set's cardinality become 1,
// i.e. the user just started viewing/typing on this entity.
const luaAddMember = `
local added = redis.call("SADD", KEYS[1], ARGV[1])
local card  = redis.call("SCARD", KEYS[1])
local ttl   = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("EXPIRE", KEYS[1], ttl)
end
if tonumber(ARGV[4]) == 1 then
  redis.call("SADD", KEYS[2], ARGV[2])
  if ttl > 0 then
    redis.call("EXPIRE", KEYS[2], ttl)
  end
end
if added == 1 and card == 1 then
  return 1
end
return 0
`

// Atomic remove-and-signal.
// KEYS[1] = member set
// KEYS[2] = entity index (only touched when ARGV[3]==1)
// ARGV[1] = connID
// ARGV[2] = userID
// ARGV[3] = useIndex (0/1)
// Returns 1 only when this remove emptied the set (user fully left).
// The key is deleted once empty; no dangling empty sets.
const luaRemoveMember = `
local removed = redis.call("SREM", KEYS[1], ARGV[1])
local card    = redis.call("SCARD", KEYS[1])
if card == 0 then
  redis.call("DEL", KEYS[1])
  if tonumber(ARGV[3]) == 1 then
    redis.call("SREM", KEYS[2], ARGV[2])
  end
end
if removed == 1 and card == 0 then
  return 1
end
return 0
`

// PresenceStore tracks per-(entity,user) connection sets in redis. A user is
// "present" on an entity iff their connection set is non-empty. The
// first/last signals are computed inside the store so the add+check pair is
// a single round trip and cannot misfire under concurrent connections.
type PresenceStore struct {
	conf      PresenceConfig
	luaAdd    *redis.Script
	luaRemove *redis.Script
}

func NewPresenceStore(conf PresenceConfig) *PresenceStore {
	conf.norm()
	return &PresenceStore{
		conf:      conf,
		luaAdd:    redis.NewScript(luaAddMember),
		luaRemove: redis.NewScript(luaRemoveMember),
	}
}

// NewViewerStore tracks who is viewing a note.
func NewViewerStore(ttl time.Duration) *PresenceStore {
	return NewPresenceStore(PresenceConfig{Prefix: "pv", TTL: ttl})
}

// NewTypingStore tracks who is typing on a note, with a secondary per-entity
// userID index kept consistent with the primary set's emptiness.
func NewTypingStore(ttl time.Duration) *PresenceStore {
	return NewPresenceStore(PresenceConfig{Prefix: "pt", IndexPrefix: "pti", TTL: ttl})
}

// NewOnlineStore tracks online users process-wide; the entity is the fixed
// "online" bucket and the per-user set holds that user's connections.
func NewOnlineStore(ttl time.Duration) *PresenceStore {
	return NewPresenceStore(PresenceConfig{Prefix: "po", TTL: ttl})
}

// ===== Key layout =====

// member set: <prefix>:<entity>:u:<user>
func (s *PresenceStore) memberKey(entity, user string) string {
	return fmt.Sprintf("%s:%s:u:%s", s.conf.Prefix, entity, user)
}

// entity index: <indexPrefix>:<entity>
func (s *PresenceStore) indexKey(entity string) string {
	p := s.conf.IndexPrefix
	if p == "" {
		// never touched by the scripts, but KEYS entries must be non-empty
		p = s.conf.Prefix + "x"
	}
	return fmt.Sprintf("%s:%s", p, entity)
}

func (s *PresenceStore) scanPattern(entity string) string {
	return fmt.Sprintf("%s:%s:u:*", s.conf.Prefix, entity)
}

func (s *PresenceStore) useIndex() int {
	if s.conf.IndexPrefix != "" {
		return 1
	}
	return 0
}

func (s *PresenceStore) ttlSeconds() int64 {
	if s.conf.TTL <= 0 {
		return 0
	}
	return int64(s.conf.TTL / time.Second)
}

// ===== Membership ops =====

// AddMember adds conn to the (entity,user) set. Returns true only if this
// was the user's first connection on the entity.
func (s *PresenceStore) AddMember(ctx context.Context, entity, user, conn string) (bool, error) {
	rc, err := s.luaAdd.Run(ctx, redis2.GetRedis(),
		[]string{s.memberKey(entity, user), s.indexKey(entity)},
		conn, user, s.ttlSeconds(), s.useIndex(),
	).Int64()
	if err != nil {
		return false, err
	}
	return rc == 1, nil
}

// RemoveMember removes conn from the (entity,user) set. Returns true only if
// this removal emptied the set (the user fully left the entity).
func (s *PresenceStore) RemoveMember(ctx context.Context, entity, user, conn string) (bool, error) {
	rc, err := s.luaRemove.Run(ctx, redis2.GetRedis(),
		[]string{s.memberKey(entity, user), s.indexKey(entity)},
		conn, user, s.useIndex(),
	).Int64()
	if err != nil {
		return false, err
	}
	return rc == 1, nil
}

// IsMember reports whether user currently has at least one connection on
// entity.
func (s *PresenceStore) IsMember(ctx context.Context, entity, user string) (bool, error) {
	n, err := redis2.GetRedis().Exists(ctx, s.memberKey(entity, user)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMembers enumerates the distinct userIDs present on entity. This is a
// SCAN, not atomic against concurrent writes; eventual consistency only.
func (s *PresenceStore) ListMembers(ctx context.Context, entity string) ([]string, error) {
	seen := make(map[string]struct{})
	iter := redis2.GetRedis().Scan(ctx, 0, s.scanPattern(entity), 100).Iterator()
	for iter.Next(ctx) {
		if u := extractUser(iter.Val()); u != "" {
			seen[u] = struct{}{}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	return users, nil
}

// IndexMembers returns the secondary per-entity userID index (typing list).
func (s *PresenceStore) IndexMembers(ctx context.Context, entity string) ([]string, error) {
	if s.conf.IndexPrefix == "" {
		return s.ListMembers(ctx, entity)
	}
	return redis2.GetRedis().SMembers(ctx, s.indexKey(entity)).Result()
}

// Touch refreshes the TTL on the (entity,user) set, heartbeat style.
func (s *PresenceStore) Touch(ctx context.Context, entity, user string) error {
	if s.conf.TTL <= 0 {
		return nil
	}
	pipe := redis2.GetRedis().Pipeline()
	pipe.Expire(ctx, s.memberKey(entity, user), s.conf.TTL)
	if s.conf.IndexPrefix != "" {
		pipe.Expire(ctx, s.indexKey(entity), s.conf.TTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ClearEntity deletes all membership under one entity.
func (s *PresenceStore) ClearEntity(ctx context.Context, entity string) error {
	rdb := redis2.GetRedis()
	iter := rdb.Scan(ctx, 0, s.scanPattern(entity), 100).Iterator()
	for iter.Next(ctx) {
		if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if s.conf.IndexPrefix != "" {
		return rdb.Del(ctx, s.indexKey(entity)).Err()
	}
	return nil
}

// ClearAll deletes every key owned by this store's prefix.
func (s *PresenceStore) ClearAll(ctx context.Context) error {
	rdb := redis2.GetRedis()
	patterns := []string{s.conf.Prefix + ":*"}
	if s.conf.IndexPrefix != "" {
		patterns = append(patterns, s.conf.IndexPrefix+":*")
	}
	for _, p := range patterns {
		iter := rdb.Scan(ctx, 0, p, 100).Iterator()
		for iter.Next(ctx) {
			if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}

// extractUser pulls the userID out of a member-set key.
// e.g. "pv:n1:u:user_10001" -> "user_10001"
func extractUser(key string) string {
	i := strings.LastIndex(key, ":u:")
	if i == -1 {
		return ""
	}
	return key[i+len(":u:"):]
}
