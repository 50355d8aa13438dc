//go:build integration

package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/redstash/redstash"
)

// --- Redis Container Setup ---

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error
)

// getRedis returns the shared coordinator address, starting the
// container if needed. The container is shared across all tests for
// performance; tests isolate through unique namespaces.
func getRedis(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	redisOnce.Do(func() {
		ctx := context.Background()
		redisAddr, redisErr = startRedisContainer(ctx)
	})

	if redisErr != nil {
		tb.Fatalf("start redis container: %v", redisErr)
	}

	return redisAddr
}

// startRedisContainer starts a redis:7 container and returns the
// host:port address.
func startRedisContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start redis container: %w", err)
	}

	// Container cleanup is handled by the testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve redis host: %w", err)
	}

	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve redis port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

// --- Test Cache Factory ---

// testNamespace generates a unique namespace so tests sharing the
// container never see each other's coordinator keys.
func testNamespace(tb testing.TB) string {
	tb.Helper()

	var b [6]byte
	_, err := rand.Read(b[:])
	require.NoError(tb, err)
	return "redstash-test-" + hex.EncodeToString(b[:])
}

// newTestCache creates a cache against the shared container with a
// fresh directory and namespace. Additional options are appended so
// they may override the defaults.
func newTestCache(tb testing.TB, ns string, opts ...redstash.Option) *redstash.Cache {
	tb.Helper()

	allOpts := append([]redstash.Option{
		redstash.WithRedisAddr(getRedis(tb)),
		redstash.WithNamespace(ns),
	}, opts...)

	c, err := redstash.New(context.Background(), tb.TempDir(), allOpts...)
	require.NoError(tb, err, "create test cache")
	tb.Cleanup(func() { _ = c.Close() })

	return c
}

// newTestCacheAt is newTestCache with an explicit directory, for tests
// that need several handles over the same files.
func newTestCacheAt(tb testing.TB, dir, ns string, opts ...redstash.Option) *redstash.Cache {
	tb.Helper()

	allOpts := append([]redstash.Option{
		redstash.WithRedisAddr(getRedis(tb)),
		redstash.WithNamespace(ns),
	}, opts...)

	c, err := redstash.New(context.Background(), dir, allOpts...)
	require.NoError(tb, err, "create test cache")
	tb.Cleanup(func() { _ = c.Close() })

	return c
}

// newRedisClient returns a raw client for out-of-band coordinator
// checks and interference.
func newRedisClient(tb testing.TB) *redis.Client {
	tb.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: getRedis(tb)})
	tb.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// makeRandomContent creates random binary content.
func makeRandomContent(tb testing.TB, size int) []byte {
	tb.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(tb, err)
	return data
}
