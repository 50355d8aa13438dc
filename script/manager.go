// Package script manages server-side Lua scripts on a Redis connection.
//
// A Manager loads each registered script once, remembers its SHA1 digest,
// and dispatches invocations by name. When the server's script cache has
// been flushed (restart, SCRIPT FLUSH), dispatch reloads the body and
// retries once before giving up.
package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrUnknownScript is returned when a script name was never registered.
// This indicates a programming error, not a server condition.
var ErrUnknownScript = errors.New("unknown script")

type entry struct {
	body string
	sha  string
}

// Manager tracks registered scripts for a single Redis client.
//
// A Manager is not safe for concurrent use; it belongs to exactly one
// cache handle and shares that handle's single-goroutine contract.
type Manager struct {
	rdb     redis.Scripter
	entries map[string]*entry
}

// NewManager creates a Manager bound to rdb.
func NewManager(rdb redis.Scripter) *Manager {
	return &Manager{
		rdb:     rdb,
		entries: make(map[string]*entry),
	}
}

// Register loads body onto the server via SCRIPT LOAD and associates the
// resulting SHA1 with name. Registering the same name again replaces the
// previous body. Returns the SHA1.
func (m *Manager) Register(ctx context.Context, name, body string) (string, error) {
	sha, err := m.rdb.ScriptLoad(ctx, body).Result()
	if err != nil {
		return "", fmt.Errorf("script load %q: %w", name, err)
	}
	m.entries[name] = &entry{body: body, sha: sha}
	return sha, nil
}

// SHA returns the current SHA1 for a registered script name.
func (m *Manager) SHA(name string) (string, bool) {
	e, ok := m.entries[name]
	if !ok {
		return "", false
	}
	return e.sha, true
}

// EvalInt invokes the named script via EVALSHA and coerces the reply to
// an int64. A NOSCRIPT reply (server script cache flushed) triggers one
// reload-and-retry before the error propagates.
func (m *Manager) EvalInt(ctx context.Context, name string, keys []string, args ...any) (int64, error) {
	e, ok := m.entries[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}

	v, err := m.rdb.EvalSha(ctx, e.sha, keys, args...).Result()
	if redis.HasErrorPrefix(err, "NOSCRIPT") {
		e.sha, err = m.rdb.ScriptLoad(ctx, e.body).Result()
		if err != nil {
			return 0, fmt.Errorf("script reload %q: %w", name, err)
		}
		v, err = m.rdb.EvalSha(ctx, e.sha, keys, args...).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("evalsha %q: %w", name, err)
	}
	n, err := coerceInt(v)
	if err != nil {
		return 0, fmt.Errorf("evalsha %q: %w", name, err)
	}
	return n, nil
}

// coerceInt normalizes the reply shapes Redis produces across protocol
// versions: integers, booleans, status strings ("OK"), and numeric
// strings. A nil reply is handled by the caller via redis.Nil.
func coerceInt(v any) (int64, error) {
	switch r := v.(type) {
	case int64:
		return r, nil
	case bool:
		if r {
			return 1, nil
		}
		return 0, nil
	case string:
		if r == "OK" {
			return 1, nil
		}
		n, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric string reply %q", r)
		}
		return n, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected reply type %T", v)
	}
}
