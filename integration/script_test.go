//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redstash/redstash/script"
)

func TestScriptManager_RegisterAndEval(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newRedisClient(t)
	m := script.NewManager(rdb)

	sha, err := m.Register(ctx, "add", `return tonumber(ARGV[1]) + tonumber(ARGV[2])`)
	require.NoError(t, err)
	assert.Len(t, sha, 40, "SCRIPT LOAD returns a SHA1")

	got, ok := m.SHA("add")
	require.True(t, ok)
	assert.Equal(t, sha, got)

	n, err := m.EvalInt(ctx, "add", nil, 19, 23)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestScriptManager_ReplyShapes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rdb := newRedisClient(t)
	m := script.NewManager(rdb)

	cases := []struct {
		name string
		body string
		want int64
	}{
		{"integer", `return 7`, 7},
		{"status ok", `return redis.status_reply('OK')`, 1},
		{"nil", `return nil`, 0},
		{"numeric string", `return '123'`, 123},
		{"false", `return false`, 0},
	}
	for _, tc := range cases {
		_, err := m.Register(ctx, tc.name, tc.body)
		require.NoError(t, err)

		n, err := m.EvalInt(ctx, tc.name, nil)
		require.NoError(t, err, "script %q", tc.name)
		assert.Equal(t, tc.want, n, "script %q", tc.name)
	}
}

func TestScriptManager_UnknownName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := script.NewManager(newRedisClient(t))

	_, err := m.EvalInt(ctx, "never-registered", nil)
	require.ErrorIs(t, err, script.ErrUnknownScript)
}

func TestScriptManager_RecoversFromScriptFlush(t *testing.T) {
	// Not parallel: SCRIPT FLUSH clears the whole server cache and
	// would race other tests' EVALSHA calls.
	ctx := context.Background()
	rdb := newRedisClient(t)
	m := script.NewManager(rdb)

	_, err := m.Register(ctx, "answer", `return 42`)
	require.NoError(t, err)

	require.NoError(t, rdb.ScriptFlush(ctx).Err())

	n, err := m.EvalInt(ctx, "answer", nil)
	require.NoError(t, err, "EvalInt should reload after a flush")
	assert.Equal(t, int64(42), n)
}

func TestScriptManager_UnexpectedReplyShape(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := script.NewManager(newRedisClient(t))

	_, err := m.Register(ctx, "table", `return {1, 2, 3}`)
	require.NoError(t, err)

	_, err = m.EvalInt(ctx, "table", nil)
	require.Error(t, err, "array replies are not integers")
}
