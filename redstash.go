package redstash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redstash/redstash/index"
	"github.com/redstash/redstash/lock"
	"github.com/redstash/redstash/script"
)

// Defaults for construction parameters. See the matching With* options.
const (
	DefaultRedisAddr     = "127.0.0.1:6379"
	DefaultNamespace     = "poc-cache"
	DefaultLockTTL       = 60 * time.Second
	DefaultPurgeMutexTTL = 2 * time.Second
	DefaultPurgeFactor   = 0.2
	DefaultBackoff       = 10 * time.Millisecond
)

// evictFenceTTL bounds the window between a positive can-evict check and
// the unlink it fences.
const evictFenceTTL = 1500 * time.Millisecond

const dirPerm = 0o755

// Cache is a handle onto a shared on-disk cache. All durable state lives
// in the cache directory and the Redis coordinator; handles in other
// processes or hosts see the same cache.
//
// A Cache is not safe for simultaneous use by multiple goroutines.
type Cache struct {
	dir string
	ns  string

	lockTTL       time.Duration
	maxBytes      int64
	purgeMutexTTL time.Duration
	purgeFactor   float64

	addr       string
	db         int
	rdb        *redis.Client
	ownsClient bool

	scripts *script.Manager
	locks   *lock.Manager
	idx     *index.Engine
	logger  *slog.Logger
}

// New creates a cache handle rooted at dir, creating the directory if
// needed, dialing the coordinator, and loading the lock scripts. The
// connection is verified with a PING so a bad address fails here rather
// than on first use.
func New(ctx context.Context, dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:           dir,
		ns:            DefaultNamespace,
		lockTTL:       DefaultLockTTL,
		purgeMutexTTL: DefaultPurgeMutexTTL,
		purgeFactor:   DefaultPurgeFactor,
		addr:          DefaultRedisAddr,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}

	if c.rdb == nil {
		c.rdb = redis.NewClient(&redis.Options{Addr: c.addr, DB: c.db})
		c.ownsClient = true
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		if c.ownsClient {
			_ = c.rdb.Close()
		}
		return nil, fmt.Errorf("coordinator ping: %w", err)
	}

	c.scripts = script.NewManager(c.rdb)
	locks, err := lock.NewManager(ctx, c.scripts, c.ns, c.lockTTL)
	if err != nil {
		if c.ownsClient {
			_ = c.rdb.Close()
		}
		return nil, err
	}
	c.locks = locks
	c.idx = index.NewEngine(c.rdb, c.ns)
	return c, nil
}

// Close releases the coordinator connection when the handle owns it.
// Handles built with WithClient leave the client to its owner.
func (c *Cache) Close() error {
	if c.ownsClient {
		return c.rdb.Close()
	}
	return nil
}

// Namespace returns the coordinator key prefix.
func (c *Cache) Namespace() string { return c.ns }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Index exposes the index engine's coordinator keys and read paths for
// operators and test harnesses.
func (c *Cache) Index() *index.Engine { return c.idx }

// Exists reports whether a value is published under key. It consults the
// filesystem only; no coordinator round-trip.
func (c *Cache) Exists(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return c.fileExists(c.pathFor(key)), nil
}

// Read returns the value published under key. It holds a read lease for
// the duration of the file read, then updates the key's access time.
// Returns ErrBusy while a writer holds the key and ErrNotFound when no
// value is published.
func (c *Cache) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := c.locks.AcquireRead(ctx, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.pathFor(key))
	c.locks.ReleaseRead(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	if err := c.idx.Touch(ctx, key, nowMillis()); err != nil {
		return nil, err
	}
	return data, nil
}

// Create publishes data under key. Publication is create-only and
// atomic: data lands in a hidden temp file, is flushed to durable
// storage, and is renamed into place while a write lease excludes other
// writers and readers. Returns ErrExists if key already holds a value
// and ErrBusy while a conflicting lease is present.
//
// When a capacity is configured, a successful Create triggers the
// best-effort eviction loop.
func (c *Cache) Create(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if c.fileExists(c.pathFor(key)) {
		return fmt.Errorf("%w: %q", ErrExists, key)
	}

	token, err := c.locks.AcquireWrite(ctx, key)
	if err != nil {
		return err
	}
	if err := c.publish(ctx, key, data, token); err != nil {
		return err
	}

	if err := c.idx.AddOnPublish(ctx, key, int64(len(data)), nowMillis()); err != nil {
		return err
	}
	if c.maxBytes > 0 {
		c.ensureCapacity(ctx)
	}
	return nil
}

// publish writes data to a hidden temp file in the cache directory and
// renames it over the final name. The write lease is released and the
// temp file removed on every exit path; only a successful rename leaves
// the value behind.
func (c *Cache) publish(ctx context.Context, key string, data []byte, token string) error {
	defer c.locks.ReleaseWrite(ctx, key, token)

	tmp, err := os.CreateTemp(c.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("create temp for %q: %w", key, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %q: %w", key, err)
	}

	// Re-check under the lease: another host may have published between
	// the fast pre-check and acquire.
	final := c.pathFor(key)
	if c.fileExists(final) {
		return fmt.Errorf("%w: %q", ErrExists, key)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("publish %q: %w", key, err)
	}
	committed = true
	return nil
}

func (c *Cache) fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
