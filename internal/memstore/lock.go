package memstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lumenlabs/lumen/internal/logging"
	"github.com/lumenlabs/lumen/internal/metrics"
)

// ErrLockTimeout is returned when the lock could not be acquired within the
// wait timeout. Callers surface it as an "operation in progress, try again"
// message.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// releaseScript deletes the lock key only when it still holds the caller's
// token. Anything else means the lock expired or was stolen; returns 0.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// trackingKeyPrefix is the namespace for debug ownership records.
const trackingKeyPrefix = "lock:tracking:"

// LockOptions tune one acquisition.
type LockOptions struct {
	// Timeout is the maximum hold time; the key auto-expires after it.
	Timeout time.Duration
	// WaitTimeout bounds how long to wait for a contended lock. Zero means
	// exactly one attempt.
	WaitTimeout time.Duration
	// RetryInterval is the sleep between attempts.
	RetryInterval time.Duration
	// Track writes a debug ownership record alongside the lock.
	Track bool
	// Operation and OwnerID annotate the ownership record.
	Operation string
	OwnerID   string
}

func (o *LockOptions) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.WaitTimeout < 0 {
		o.WaitTimeout = 5 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
}

// Lock is a held distributed lock. Presence of the key is the lock; its
// value is a cryptographically random token that only the holder knows.
type Lock struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	Timeout    time.Duration

	client  *Client
	tracked bool
}

// AcquireLock takes the distributed lock named key, retrying every
// RetryInterval until WaitTimeout elapses. The returned lock must be
// released by the same holder; release after expiry is a no-op.
func (c *Client) AcquireLock(ctx context.Context, key string, opts LockOptions) (*Lock, error) {
	opts.applyDefaults()
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(opts.WaitTimeout)

	for {
		var acquired bool
		err := c.do(ctx, "lock_acquire", func(ctx context.Context) error {
			ok, err := c.rdb.SetNX(ctx, key, token, opts.Timeout).Result()
			if err != nil {
				return err
			}
			acquired = ok
			return nil
		})
		if err != nil {
			return nil, err
		}
		if acquired {
			break
		}
		// One attempt only when WaitTimeout is zero.
		if time.Now().Add(opts.RetryInterval).After(deadline) {
			metrics.LockTimeouts.Inc()
			return nil, fmt.Errorf("lock %s: %w after %s", key, ErrLockTimeout, opts.WaitTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}

	wait := time.Since(start)
	metrics.LockAcquireWait.Observe(wait.Seconds())

	lock := &Lock{
		Key:        key,
		Token:      token,
		AcquiredAt: time.Now(),
		Timeout:    opts.Timeout,
		client:     c,
		tracked:    opts.Track,
	}
	if opts.Track {
		c.writeOwnershipRecord(ctx, lock, opts)
	}
	return lock, nil
}

// Release gives up the lock via compare-and-delete: the key is removed only
// when it still carries this holder's token. When it does not (the lock
// expired or was stolen) a warning is logged and Release returns nil.
func (l *Lock) Release(ctx context.Context) error {
	var deleted int64
	err := l.client.do(ctx, "lock_release", func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.Key}, l.Token).Int64()
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return err
	}

	metrics.LockHoldDuration.Observe(time.Since(l.AcquiredAt).Seconds())
	if l.tracked {
		_, _ = l.client.Delete(ctx, trackingKeyPrefix+l.Key)
	}
	if deleted == 0 {
		logging.Ctx(ctx, l.client.log).Warn().
			Str("lock", l.Key).
			Dur("held", time.Since(l.AcquiredAt)).
			Msg("lock already expired or stolen at release")
	}
	return nil
}

// writeOwnershipRecord stores the debug hash for this lock. Failures are
// logged and dropped; the record is advisory.
func (c *Client) writeOwnershipRecord(ctx context.Context, lock *Lock, opts LockOptions) {
	key := trackingKeyPrefix + lock.Key
	fields := map[string]any{
		"token":       lock.Token,
		"acquired_at": lock.AcquiredAt.UTC().Format(time.RFC3339Nano),
		"expires_at":  lock.AcquiredAt.Add(lock.Timeout).UTC().Format(time.RFC3339Nano),
		"timeout":     lock.Timeout.Seconds(),
	}
	if opts.Operation != "" {
		fields["operation"] = opts.Operation
	}
	if opts.OwnerID != "" {
		fields["owner_id"] = opts.OwnerID
	}

	err := c.do(ctx, "lock_track", func(ctx context.Context) error {
		if err := c.rdb.HSet(ctx, key, fields).Err(); err != nil {
			return err
		}
		// Outlive the lock slightly so stale holds remain inspectable.
		return c.rdb.Expire(ctx, key, lock.Timeout+5*time.Second).Err()
	})
	if err != nil {
		logging.Ctx(ctx, c.log).Warn().Str("lock", lock.Key).Err(err).Msg("failed to write lock ownership record")
	}
}
