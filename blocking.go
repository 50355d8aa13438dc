package redstash

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// ReadBlocking repeatedly attempts Read until it succeeds or timeout
// elapses, sleeping backoff between attempts (DefaultBackoff when
// backoff <= 0). Both ErrBusy and ErrNotFound are retried: a key absent
// now may be mid-publication by another worker. Any other error
// propagates immediately.
//
// At least one attempt is made even when timeout is zero or negative.
// On timeout the return is (nil, false, nil).
func (c *Cache) ReadBlocking(ctx context.Context, key string, timeout, backoff time.Duration) ([]byte, bool, error) {
	var out []byte
	attempt := func() error {
		data, err := c.Read(ctx, key)
		if err != nil {
			return err
		}
		out = data
		return nil
	}
	retriable := func(err error) bool {
		return errors.Is(err, ErrBusy) || errors.Is(err, ErrNotFound)
	}
	ok, err := c.block(ctx, attempt, retriable, timeout, backoff)
	if !ok || err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// CreateBlocking repeatedly attempts Create until it succeeds or timeout
// elapses, sleeping backoff between attempts (DefaultBackoff when
// backoff <= 0). Only ErrBusy is retried; ErrExists is a permanent
// failure and propagates immediately.
//
// At least one attempt is made even when timeout is zero or negative.
// On timeout the return is (false, nil) and no file is created.
func (c *Cache) CreateBlocking(ctx context.Context, key string, data []byte, timeout, backoff time.Duration) (bool, error) {
	attempt := func() error {
		return c.Create(ctx, key, data)
	}
	retriable := func(err error) bool {
		return errors.Is(err, ErrBusy)
	}
	return c.block(ctx, attempt, retriable, timeout, backoff)
}

// block drives one blocking wrapper: attempt once immediately, then let
// retry-go pace further attempts against the deadline. The deadline
// context only paces retries; attempts themselves run under the
// caller's ctx so an expired timeout never poisons the first try.
func (c *Cache) block(ctx context.Context, attempt func() error, retriable func(error) bool, timeout, backoff time.Duration) (bool, error) {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	err := attempt()
	if err == nil {
		return true, nil
	}
	if !retriable(err) {
		return false, err
	}
	if timeout <= 0 {
		return false, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// retry.Do makes its first call at once; wait one backoff first so
	// the second attempt is spaced like every later one.
	select {
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	case <-time.After(backoff):
	}

	err = retry.Do(attempt,
		retry.Context(waitCtx),
		retry.Attempts(0),
		retry.Delay(backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retriable),
	)
	switch {
	case err == nil:
		return true, nil
	case retriable(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// Deadline reached mid-retry; report cancellation of the
		// caller's own context as an error, a timeout as false.
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	default:
		return false, err
	}
}
