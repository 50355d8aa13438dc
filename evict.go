package redstash

import (
	"context"
	"errors"
	"io/fs"
	"os"
)

// ensureCapacity runs the LRU eviction loop after a successful publish.
// Every call takes the purge mutex before checking the total, so losing
// it means another handle took it within the last purge-mutex TTL (it
// may or may not have found anything to purge), and the loop returns
// silently. Once the recorded total exceeds the capacity, victims are
// evicted until the total drops to maxBytes*(1-purgeFactor), so back-to-
// back publishes do not oscillate around the limit.
//
// Eviction is best effort end to end. Any failure exits the loop; the
// next successful publish retries.
func (c *Cache) ensureCapacity(ctx context.Context) {
	if c.maxBytes <= 0 {
		return
	}
	ok, err := c.idx.TryLockPurge(ctx, c.purgeMutexTTL)
	if err != nil || !ok {
		return
	}
	// The purge mutex is released by TTL expiry, never explicitly.

	total, err := c.idx.TotalBytes(ctx)
	if err != nil || total <= c.maxBytes {
		return
	}
	target := c.maxBytes - int64(float64(c.maxBytes)*c.purgeFactor)

	for total > target {
		victim, freed, ok := c.tryEvictOne(ctx)
		if !ok {
			return
		}
		c.logger.Debug("evicted cache entry", "key", victim, "freed", freed, "total", total-freed)
		total, err = c.idx.TotalBytes(ctx)
		if err != nil {
			return
		}
	}
}

// tryEvictOne removes at most one victim: the key with the oldest
// access time. Reports ok=false when there is no victim this attempt —
// the order is empty, the indices drifted, the key is held by a reader
// or writer, or the file was already gone. Drift is always reconciled
// toward the on-disk truth before returning.
func (c *Cache) tryEvictOne(ctx context.Context) (victim string, freed int64, ok bool) {
	key, found, err := c.idx.Oldest(ctx)
	if err != nil || !found {
		return "", 0, false
	}

	size, found, err := c.idx.Size(ctx, key)
	if err != nil {
		return "", 0, false
	}
	if !found {
		// Size record vanished: stale order/discovery entries remain.
		_ = c.idx.DropStale(ctx, key)
		return "", 0, false
	}

	ok, err = c.locks.CanEvict(ctx, key, evictFenceTTL)
	if err != nil {
		return "", 0, false
	}
	if !ok {
		// In use. Promote so the next pass picks a different victim
		// instead of hammering this one.
		_ = c.idx.Touch(ctx, key, nowMillis())
		return "", 0, false
	}

	if err := os.Remove(c.pathFor(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// File already gone: the indices lag the disk. Clean up as
			// if the eviction had happened.
			_ = c.idx.RemoveOnDelete(ctx, key, size)
		}
		return "", 0, false
	}

	if err := c.idx.RemoveOnDelete(ctx, key, size); err != nil {
		return "", 0, false
	}
	return key, size, true
}
