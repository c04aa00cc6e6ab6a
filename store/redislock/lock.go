/*
Package redislock provides a Redis-backed installments.PlanLocker.

PURPOSE:
  The engine's in-process KeyedLocker only serializes writers inside one
  process. When several server instances share a database, this locker
  serializes plan writers across all of them using the RedLock algorithm
  (go-redsync over go-redis). The plan version check stays authoritative;
  the lock only keeps concurrent writers from burning their retries.

USAGE:
  client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
  locker := redislock.New(client, redislock.DefaultOptions(), logger)
  engine := installments.New(store, installments.Config{Locker: locker})
*/
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/installment-engine/installments"
)

// Options configures lock behavior.
type Options struct {
	// Prefix is prepended to every key (e.g. "installments:").
	Prefix string

	// Expiry bounds how long a crashed holder can block a plan.
	Expiry time.Duration

	// Tries and RetryDelay bound how long Lock waits for a busy plan.
	Tries      int
	RetryDelay time.Duration

	// DriftFactor accounts for clock drift between nodes (RedLock).
	DriftFactor float64
}

// DefaultOptions waits up to roughly three seconds for a busy plan.
func DefaultOptions() Options {
	return Options{
		Prefix:      "installments:",
		Expiry:      10 * time.Second,
		Tries:       60,
		RetryDelay:  50 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// Locker implements installments.PlanLocker on Redis.
type Locker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

var _ installments.PlanLocker = (*Locker)(nil)

// New creates a Locker over client. A nil logger disables logging.
func New(client goredislib.UniversalClient, opts Options, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

// Lock acquires the lock for key. A plan still busy after all tries yields
// installments.ErrConcurrencyConflict so callers treat it as retryable.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key cannot be empty")
	}
	name := l.opts.Prefix + key

	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
		redsync.WithDriftFactor(l.opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isContention(err) {
			l.logger.Warn("plan lock busy", zap.String("lock_key", name), zap.Error(err))
			return nil, fmt.Errorf("%w: lock %s is held by another writer", installments.ErrConcurrencyConflict, name)
		}
		l.logger.Error("failed to acquire plan lock", zap.String("lock_key", name), zap.Error(err))
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	l.logger.Debug("plan lock acquired", zap.String("lock_key", name))

	return func() {
		// The caller's context may already be done; release regardless.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			l.logger.Error("failed to release plan lock",
				zap.String("lock_key", name), zap.Bool("unlock_ok", ok), zap.Error(err))
			return
		}
		l.logger.Debug("plan lock released", zap.String("lock_key", name))
	}, nil
}

// isContention reports whether err means the lock is held elsewhere.
// redsync reports contention as ErrFailed or as a "lock already taken" error.
func isContention(err error) bool {
	return errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken")
}
