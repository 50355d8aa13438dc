//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redstash/redstash"
)

func TestCreateRead_Basic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ns := testNamespace(t)
	c := newTestCache(t, ns)
	rdb := newRedisClient(t)

	content := []byte("hello world")
	require.NoError(t, c.Create(ctx, "k-AAA.bin", content))

	ok, err := c.Exists("k-AAA.bin")
	require.NoError(t, err)
	assert.True(t, ok, "Exists after Create")

	got, err := c.Read(ctx, "k-AAA.bin")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Coordinator state after publish: size map, total, discovery set,
	// access-time order.
	idx := c.Index()
	size, err := rdb.HGet(ctx, idx.SizesKey(), "k-AAA.bin").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)

	total, err := rdb.Get(ctx, idx.TotalKey()).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(11), total)

	member, err := rdb.SIsMember(ctx, idx.KeysSetKey(), "k-AAA.bin").Result()
	require.NoError(t, err)
	assert.True(t, member, "discovery set membership")

	score, err := rdb.ZScore(ctx, idx.LRUKey(), "k-AAA.bin").Result()
	require.NoError(t, err)
	assert.Positive(t, score, "access-time score")
}

func TestCreate_Duplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, testNamespace(t))

	require.NoError(t, c.Create(ctx, "dup.bin", []byte("abc")))

	err := c.Create(ctx, "dup.bin", []byte("xyz"))
	require.ErrorIs(t, err, redstash.ErrExists)

	got, err := c.Read(ctx, "dup.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got, "first publish wins")
}

func TestRead_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, testNamespace(t))

	_, err := c.Read(ctx, "never-written.bin")
	require.ErrorIs(t, err, redstash.ErrNotFound)
}

func TestRead_ExternallyDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, testNamespace(t))

	require.NoError(t, c.Create(ctx, "gone.bin", []byte("data")))
	require.NoError(t, os.Remove(filepath.Join(c.Dir(), "gone.bin")))

	_, err := c.Read(ctx, "gone.bin")
	require.ErrorIs(t, err, redstash.ErrNotFound)

	// The discovery set still lists the key; removal is caller policy.
	keys, err := c.Index().Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "gone.bin")
}

func TestKeyValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, testNamespace(t))

	for _, key := range []string{"", ".foo", "a/b"} {
		_, err := c.Read(ctx, key)
		assert.ErrorIs(t, err, redstash.ErrInvalidKey, "Read(%q)", key)

		err = c.Create(ctx, key, []byte("x"))
		assert.ErrorIs(t, err, redstash.ErrInvalidKey, "Create(%q)", key)

		_, err = c.Exists(key)
		assert.ErrorIs(t, err, redstash.ErrInvalidKey, "Exists(%q)", key)
	}
}

func TestCreate_NoTempLeftBehind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCache(t, testNamespace(t))

	require.NoError(t, c.Create(ctx, "clean.bin", []byte("payload")))

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "clean.bin", entries[0].Name())
}

func TestCreate_LeaseReleasedAfterPublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ns := testNamespace(t)
	c := newTestCache(t, ns)
	rdb := newRedisClient(t)

	require.NoError(t, c.Create(ctx, "released.bin", []byte("v")))

	n, err := rdb.Exists(ctx, ns+":lock:write:released.bin").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "write lock should be released after Create")

	_, err = c.Read(ctx, "released.bin")
	require.NoError(t, err)

	n, err = rdb.Exists(ctx, ns+":lock:readers:released.bin").Result()
	require.NoError(t, err)
	assert.Zero(t, n, "readers counter should be gone after Read")
}

func TestSharedDirectory_TwoHandles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ns := testNamespace(t)
	dir := t.TempDir()
	writer := newTestCacheAt(t, dir, ns)
	reader := newTestCacheAt(t, dir, ns)

	content := makeRandomContent(t, 2048)
	require.NoError(t, writer.Create(ctx, "shared.bin", content))

	got, err := reader.Read(ctx, "shared.bin")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
