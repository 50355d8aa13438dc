// Package redstash provides a cluster-wide on-disk file cache
// coordinated through Redis.
//
// Worker processes on any number of hosts share a cache directory on a
// network filesystem. Each cached value is an opaque byte string stored
// as a single file named by its key. A Redis instance acts as the
// out-of-band lock manager and index store: per-key writer exclusion and
// reader counting run as atomic server-side scripts, and secondary
// indices (size map, access-time order, byte total) drive bounded-size
// LRU eviction that never races a live reader or writer.
//
// Values publish create-only: a successful Create is atomic (temp file
// plus rename) and the value is immutable for its lifetime.
//
// # Quick start
//
//	c, err := redstash.New(ctx, "/mnt/shared/cache",
//	    redstash.WithRedisAddr("10.0.0.5:6379"),
//	    redstash.WithMaxBytes(1<<30),
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.Create(ctx, "report-2026.bin", data); err != nil {
//	    return err
//	}
//	got, err := c.Read(ctx, "report-2026.bin")
//
// Non-blocking operations fail fast with [ErrBusy] when a conflicting
// lease is held; [Cache.ReadBlocking] and [Cache.CreateBlocking] retry
// with a fixed backoff until a deadline.
//
// A Cache handle owns one coordinator connection and is not safe for
// simultaneous use by multiple goroutines; create one handle per
// goroutine or serialize access. Handles in different goroutines,
// processes, or hosts coordinate correctly through Redis.
package redstash
