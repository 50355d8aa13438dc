// Package lock provides per-key reader/writer leases backed by atomic
// Redis scripts.
//
// Writers exclude each other and any reader; readers exclude writers but
// not each other. Every lease carries a TTL so that a crashed holder
// cannot block a key forever. Write leases are tokenized: release is a
// compare-and-delete against the token handed out at acquire, so a
// TTL-expired writer can never delete a successor's lock.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redstash/redstash/script"
)

// ErrBusy is returned when a lease cannot be granted because a
// conflicting holder is present. Callers may retry.
var ErrBusy = errors.New("cache busy")

// Script names registered with the script manager.
const (
	scriptReadAcquire  = "read_lock_acquire"
	scriptReadRelease  = "read_lock_release"
	scriptWriteAcquire = "write_lock_acquire"
	scriptWriteRelease = "write_lock_release"
	scriptCanEvict     = "can_evict"
)

// Each script is one atomic check-and-set in the server. KEYS and ARGV
// orders are part of the contract with Manager below.
const (
	luaReadAcquire = `
local wl = KEYS[1]
local rd = KEYS[2]
local ttl = tonumber(ARGV[1])
if redis.call('EXISTS', wl) == 1 then return 0 end
redis.call('INCR', rd)
redis.call('PEXPIRE', rd, ttl)
return 1
`

	luaReadRelease = `
local rd = KEYS[1]
local c = redis.call('DECR', rd)
if c <= 0 then redis.call('DEL', rd) end
return 1
`

	luaWriteAcquire = `
local wl = KEYS[1]
local rd = KEYS[2]
local token = ARGV[1]
local ttl = tonumber(ARGV[2])
if redis.call('EXISTS', wl) == 1 then return 0 end
local rc = tonumber(redis.call('GET', rd) or "0")
if rc > 0 then return -1 end
local ok = redis.call('SET', wl, token, 'NX', 'PX', ttl)
if ok then return 1 else return 0 end
`

	luaWriteRelease = `
local wl = KEYS[1]
local token = ARGV[1]
local cur = redis.call('GET', wl)
if cur and cur == token then
  redis.call('DEL', wl)
  return 1
end
return 0
`

	luaCanEvict = `
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
local rc = tonumber(redis.call('GET', KEYS[2]) or "0")
if rc > 0 then return 0 end
local ok = redis.call('SET', KEYS[3], '1', 'NX', 'PX', tonumber(ARGV[1]))
if ok then return 1 else return 0 end
`
)

// Manager grants and releases per-key leases within one namespace.
type Manager struct {
	scripts *script.Manager
	ns      string
	ttl     time.Duration
}

// NewManager registers the lock scripts on the coordinator and returns a
// Manager scoped to namespace ns. ttl bounds every lease's lifetime.
func NewManager(ctx context.Context, scripts *script.Manager, ns string, ttl time.Duration) (*Manager, error) {
	m := &Manager{scripts: scripts, ns: ns, ttl: ttl}
	for name, body := range map[string]string{
		scriptReadAcquire:  luaReadAcquire,
		scriptReadRelease:  luaReadRelease,
		scriptWriteAcquire: luaWriteAcquire,
		scriptWriteRelease: luaWriteRelease,
		scriptCanEvict:     luaCanEvict,
	} {
		if _, err := scripts.Register(ctx, name, body); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WriteLockKey returns the coordinator key holding the writer token for key.
func (m *Manager) WriteLockKey(key string) string {
	return m.ns + ":lock:write:" + key
}

// ReadersKey returns the coordinator key counting active readers of key.
func (m *Manager) ReadersKey(key string) string {
	return m.ns + ":lock:readers:" + key
}

// EvictFenceKey returns the coordinator key fencing eviction of key.
func (m *Manager) EvictFenceKey(key string) string {
	return m.ns + ":lock:evict:" + key
}

// AcquireRead grants a read lease on key, incrementing the readers
// counter. Returns ErrBusy while a writer holds the key.
func (m *Manager) AcquireRead(ctx context.Context, key string) error {
	res, err := m.scripts.EvalInt(ctx, scriptReadAcquire,
		[]string{m.WriteLockKey(key), m.ReadersKey(key)},
		m.ttl.Milliseconds())
	if err != nil {
		return err
	}
	if res != 1 {
		return fmt.Errorf("%w: writer holds %q", ErrBusy, key)
	}
	return nil
}

// ReleaseRead decrements the readers counter for key. Best effort: any
// coordinator failure is swallowed because the counter's TTL guarantees
// liveness.
func (m *Manager) ReleaseRead(ctx context.Context, key string) {
	_, _ = m.scripts.EvalInt(ctx, scriptReadRelease, []string{m.ReadersKey(key)})
}

// AcquireWrite grants an exclusive write lease on key and returns the
// release token. Returns ErrBusy while another writer or any reader is
// present.
func (m *Manager) AcquireWrite(ctx context.Context, key string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	res, err := m.scripts.EvalInt(ctx, scriptWriteAcquire,
		[]string{m.WriteLockKey(key), m.ReadersKey(key)},
		token, m.ttl.Milliseconds())
	if err != nil {
		return "", err
	}
	switch res {
	case 1:
		return token, nil
	case -1:
		return "", fmt.Errorf("%w: readers present on %q", ErrBusy, key)
	default:
		return "", fmt.Errorf("%w: writer holds %q", ErrBusy, key)
	}
}

// ReleaseWrite deletes the write lock for key if it still carries token.
// Best effort: failures are swallowed, TTL expiry is the backstop.
func (m *Manager) ReleaseWrite(ctx context.Context, key, token string) {
	_, _ = m.scripts.EvalInt(ctx, scriptWriteRelease, []string{m.WriteLockKey(key)}, token)
}

// CanEvict reports whether key has no writer and no readers, and if so
// plants the eviction fence with the given TTL. At most one caller wins
// the fence per TTL window.
func (m *Manager) CanEvict(ctx context.Context, key string, fenceTTL time.Duration) (bool, error) {
	res, err := m.scripts.EvalInt(ctx, scriptCanEvict,
		[]string{m.WriteLockKey(key), m.ReadersKey(key), m.EvictFenceKey(key)},
		fenceTTL.Milliseconds())
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// newToken returns 128 bits of randomness as 32 hex characters. The
// token is known only to the acquirer.
func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
