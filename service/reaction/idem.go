package reaction

import (
	"context"
	"sync"
	"time"

	redis2 "NProject/service/storage/redis"
)

// IdemStore answers "have I processed this key before" with a TTL window.
// Because the shard log is at-least-once, redelivered records must collapse
// to no-ops downstream. Seen and Mark are split on purpose: a key is marked
// only after its side effect landed, so a failed apply is replayed rather
// than swallowed as a duplicate.
type IdemStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// ----- in-memory implementation (single process) -----

type memIdem struct {
	mu  sync.Mutex
	m   map[string]int64 // key -> expireUnix
	ttl time.Duration
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]int64), ttl: defaultTTL}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now().Unix()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if exp <= now {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}()
	return mi
}

func (mi *memIdem) Seen(_ context.Context, key string) (bool, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	exp, ok := mi.m[key]
	return ok && exp > time.Now().Unix(), nil
}

func (mi *memIdem) Mark(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	mi.mu.Lock()
	mi.m[key] = time.Now().Add(ttl).Unix()
	mi.mu.Unlock()
	return nil
}

// ----- redis implementation (shared across workers) -----

type redisIdem struct {
	prefix string
	ttl    time.Duration
}

func NewRedisIdem(prefix string, defaultTTL time.Duration) IdemStore {
	if prefix == "" {
		prefix = "ridem"
	}
	return &redisIdem{prefix: prefix, ttl: defaultTTL}
}

func (ri *redisIdem) Seen(ctx context.Context, key string) (bool, error) {
	n, err := redis2.GetRedis().Exists(ctx, ri.prefix+":"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (ri *redisIdem) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ri.ttl
	}
	return redis2.GetRedis().Set(ctx, ri.prefix+":"+key, "1", ttl).Err()
}
