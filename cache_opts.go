package redstash

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Option configures a Cache.
type Option func(*Cache) error

// WithRedisAddr sets the coordinator address as host:port.
// Defaults to DefaultRedisAddr.
func WithRedisAddr(addr string) Option {
	return func(c *Cache) error {
		if addr == "" {
			return errors.New("redis addr is empty")
		}
		c.addr = addr
		return nil
	}
}

// WithRedisDB selects the coordinator's logical database. Defaults to 0.
func WithRedisDB(db int) Option {
	return func(c *Cache) error {
		if db < 0 {
			return errors.New("redis db must be >= 0")
		}
		c.db = db
		return nil
	}
}

// WithClient adopts an existing Redis client instead of dialing one. The
// caller owns the client's lifecycle; Close becomes a no-op.
func WithClient(rdb *redis.Client) Option {
	return func(c *Cache) error {
		if rdb == nil {
			return errors.New("redis client is nil")
		}
		c.rdb = rdb
		return nil
	}
}

// WithNamespace sets the coordinator key prefix. Caches sharing a
// directory must share a namespace. Defaults to DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(c *Cache) error {
		if ns == "" {
			return errors.New("namespace is empty")
		}
		c.ns = ns
		return nil
	}
}

// WithLockTTL bounds the lifetime of read and write leases. The TTL is a
// liveness guard against crashed holders, not a correctness tool:
// operations must complete well within it. Defaults to DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Cache) error {
		if ttl <= 0 {
			return errors.New("lock TTL must be positive")
		}
		c.lockTTL = ttl
		return nil
	}
}

// WithMaxBytes bounds the total recorded size of the cache. Zero (the
// default) disables eviction entirely.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) error {
		if n < 0 {
			return errors.New("max bytes must be >= 0")
		}
		c.maxBytes = n
		return nil
	}
}

// WithPurgeMutexTTL sets the lifetime of the purge mutex. The mutex is
// released only by expiry, so the TTL bounds how often passes can start
// across the cluster; a pass still running when it expires is not
// stopped. Defaults to DefaultPurgeMutexTTL.
func WithPurgeMutexTTL(ttl time.Duration) Option {
	return func(c *Cache) error {
		if ttl <= 0 {
			return errors.New("purge mutex TTL must be positive")
		}
		c.purgeMutexTTL = ttl
		return nil
	}
}

// WithPurgeFactor sets the fraction of capacity the eviction loop
// undershoots once purging begins, avoiding oscillation around the
// limit. Must be within [0.0, 1.0]. Defaults to DefaultPurgeFactor.
func WithPurgeFactor(f float64) Option {
	return func(c *Cache) error {
		if f < 0.0 || f > 1.0 {
			return errors.New("purge factor must be within [0.0, 1.0]")
		}
		c.purgeFactor = f
		return nil
	}
}

// WithLogger sets a logger for the cache. If nil, a discard logger is
// used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
