// Package index maintains the coordinator-side secondary indices for a
// cache namespace: the per-key size map, the access-time ordered set,
// the running byte total, the discovery set of published keys, and the
// purger mutex.
//
// Mutations are issued as individual commands rather than transactions;
// interleavings between processes can leave momentary drift, which the
// eviction path reconciles toward the on-disk truth. All index keys are
// documented read paths: operators may inspect them with ordinary Redis
// commands.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Engine issues index mutations and queries for one namespace.
type Engine struct {
	rdb redis.Cmdable

	lruKey   string // ZSET: key -> last access ms
	sizesKey string // HASH: key -> byte size
	keysKey  string // SET: published keys (discovery)
	totalKey string // STRING: sum of sizes
	purgeKey string // STRING: purger mutex
}

// NewEngine creates an Engine for namespace ns on rdb.
func NewEngine(rdb redis.Cmdable, ns string) *Engine {
	return &Engine{
		rdb:      rdb,
		lruKey:   ns + ":idx:lru",
		sizesKey: ns + ":idx:size",
		keysKey:  ns + ":keys:set",
		totalKey: ns + ":idx:total",
		purgeKey: ns + ":purge:mutex",
	}
}

// AddOnPublish records a freshly published key: size map entry, total
// increment, discovery set membership, and access-time score.
func (e *Engine) AddOnPublish(ctx context.Context, key string, size, ts int64) error {
	if err := e.rdb.HSet(ctx, e.sizesKey, key, size).Err(); err != nil {
		return fmt.Errorf("index size %q: %w", key, err)
	}
	if err := e.rdb.IncrBy(ctx, e.totalKey, size).Err(); err != nil {
		return fmt.Errorf("index total %q: %w", key, err)
	}
	if err := e.rdb.SAdd(ctx, e.keysKey, key).Err(); err != nil {
		return fmt.Errorf("index keys %q: %w", key, err)
	}
	return e.Touch(ctx, key, ts)
}

// Touch upserts key's access-time score.
func (e *Engine) Touch(ctx context.Context, key string, ts int64) error {
	err := e.rdb.ZAdd(ctx, e.lruKey, redis.Z{Score: float64(ts), Member: key}).Err()
	if err != nil {
		return fmt.Errorf("index touch %q: %w", key, err)
	}
	return nil
}

// RemoveOnDelete drops every index entry for an evicted key of the
// recorded size.
func (e *Engine) RemoveOnDelete(ctx context.Context, key string, size int64) error {
	if err := e.rdb.HDel(ctx, e.sizesKey, key).Err(); err != nil {
		return fmt.Errorf("index size del %q: %w", key, err)
	}
	if err := e.rdb.IncrBy(ctx, e.totalKey, -size).Err(); err != nil {
		return fmt.Errorf("index total del %q: %w", key, err)
	}
	if err := e.rdb.ZRem(ctx, e.lruKey, key).Err(); err != nil {
		return fmt.Errorf("index lru del %q: %w", key, err)
	}
	if err := e.rdb.SRem(ctx, e.keysKey, key).Err(); err != nil {
		return fmt.Errorf("index keys del %q: %w", key, err)
	}
	return nil
}

// DropStale removes the order and discovery entries for a key whose size
// record has already vanished (index drift).
func (e *Engine) DropStale(ctx context.Context, key string) error {
	if err := e.rdb.ZRem(ctx, e.lruKey, key).Err(); err != nil {
		return fmt.Errorf("index lru drop %q: %w", key, err)
	}
	if err := e.rdb.SRem(ctx, e.keysKey, key).Err(); err != nil {
		return fmt.Errorf("index keys drop %q: %w", key, err)
	}
	return nil
}

// TotalBytes returns the recorded byte total. An absent or unparsable
// counter reads as zero.
func (e *Engine) TotalBytes(ctx context.Context) (int64, error) {
	s, err := e.rdb.Get(ctx, e.totalKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index total: %w", err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Oldest returns the key with the lowest access-time score, if any.
func (e *Engine) Oldest(ctx context.Context) (string, bool, error) {
	members, err := e.rdb.ZRange(ctx, e.lruKey, 0, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("index oldest: %w", err)
	}
	if len(members) == 0 {
		return "", false, nil
	}
	return members[0], true, nil
}

// Size returns the recorded size for key, with ok=false when the size
// map has no entry.
func (e *Engine) Size(ctx context.Context, key string) (int64, bool, error) {
	s, err := e.rdb.HGet(ctx, e.sizesKey, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("index size %q: %w", key, err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("index size %q: bad record %q", key, s)
	}
	return n, true, nil
}

// TryLockPurge attempts the at-most-one purger mutex with an exclusive
// short-TTL set. The mutex is never released explicitly; expiry bounds
// how long one holder keeps other purgers out.
func (e *Engine) TryLockPurge(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := e.rdb.SetNX(ctx, e.purgeKey, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("purge mutex: %w", err)
	}
	return ok, nil
}

// Keys returns the discovery set members.
func (e *Engine) Keys(ctx context.Context) ([]string, error) {
	members, err := e.rdb.SMembers(ctx, e.keysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("index keys: %w", err)
	}
	return members, nil
}

// Coordinator key names, exposed as supported operator read paths.

func (e *Engine) LRUKey() string        { return e.lruKey }
func (e *Engine) SizesKey() string      { return e.sizesKey }
func (e *Engine) KeysSetKey() string    { return e.keysKey }
func (e *Engine) TotalKey() string      { return e.totalKey }
func (e *Engine) PurgeMutexKey() string { return e.purgeKey }
