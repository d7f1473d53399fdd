package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultTTL is the lease lifetime when Options.TTL is unset. Passes on a
// large corpus outlive it; the renew loop keeps the lease alive.
const DefaultTTL = 5 * time.Minute

const (
	defaultPollInterval = 250 * time.Millisecond
	renewAttempts       = 3
	renewTimeout        = 15 * time.Second
	renewBackoff        = 200 * time.Millisecond
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out expiring leases stored in the analysis_locks table. A
// lease is renewed in the background until it is released or lost.
type Client struct {
	db dbConn
}

// Options tune a single Acquire. Zero values fall back to DefaultTTL, a
// renewal at half the TTL and a 250ms poll while waiting.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait polls until the key frees up instead of failing with ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) normalized() Options {
	if o.TTL < time.Millisecond {
		o.TTL = DefaultTTL
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = defaultPollInterval
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

// Lease is a held lock. Context is cancelled when the lease is released or
// a renewal finds it taken over.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	client *Client
	ttlMs  int64
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(db dbConn) *Client {
	return &Client{db: db}
}

// KeyFor is the lock key of an analysis pass. Passes of the same kind on
// the same level exclude each other; kinds without a level share one key.
func KeyFor(kind, level string) string {
	parts := []string{"analysis", strings.ToLower(strings.TrimSpace(kind))}
	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		parts = append(parts, level)
	}
	return strings.Join(parts, ":")
}

// WithLease runs fn under key and releases the lease whatever fn returns.
// fn should watch its context: it ends early when the lease is lost.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("[LeaseLock] release failed", "key", key, "err", err)
		}
	}()
	return fn(lease.Context)
}

// Acquire takes key. Without Options.Wait a key held by another token fails
// with ErrBusy; with it, Acquire polls until ctx ends.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.normalized()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id
	ttlMs := opts.TTL.Milliseconds()

	for {
		ok, err := c.tryAcquire(ctx, key, token, ttlMs)
		switch {
		case err != nil:
			return nil, err
		case ok:
			return c.hold(ctx, key, token, ttlMs, opts.RenewEvery), nil
		case !opts.Wait:
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}
}

// tryAcquire reports whether the row for key now carries token. An
// unexpired row of another holder yields no row.
func (c *Client) tryAcquire(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, tryAcquireSQL, key, token, ttlMs).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got != "", nil
}

func (c *Client) hold(ctx context.Context, key, token string, ttlMs int64, every time.Duration) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		ttlMs:   ttlMs,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
	logger.Debug("[LeaseLock] acquired", "key", key)
	go l.keepAlive(every)
	return l
}

// Release stops renewal, cancels the lease context and deletes the row if
// it still carries this lease's token. It is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})
	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-ticker.C:
		}
		if err := l.renew(); err != nil {
			logger.Warn("[LeaseLock] lease lost", "key", l.Key, "err", err)
			l.cancel(err)
			return
		}
	}
}

// renew extends the expiry. A missing row means another holder took over
// and yields ErrLost at once; other errors are retried a few times.
func (l *Lease) renew() error {
	var err error
	for attempt := 1; attempt <= renewAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(l.Context, renewTimeout)
		var got string
		err = l.client.db.QueryRow(ctx, renewSQL, l.Key, l.Token, l.ttlMs).Scan(&got)
		cancel()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			return ErrLost
		case attempt == renewAttempts:
			return err
		}
		if serr := sleepWithJitter(l.Context, renewBackoff, 0); serr != nil {
			return serr
		}
	}
	return err
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += rand.N(jitter + 1)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// tryAcquireSQL inserts the lock row, or takes over a row that expired or
// already belongs to the same token.
const tryAcquireSQL = `
INSERT INTO analysis_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE analysis_locks.expires_at < now()
   OR analysis_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE analysis_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM analysis_locks
WHERE lock_key = $1 AND locked_by = $2;
`
