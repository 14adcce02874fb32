package locks

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
	"storefront-fulfillment/internal/redis"
)

// RedsyncLocker implements Locker with the Redlock algorithm. Held locks are
// extended in the background at a third of their expiry until released.
type RedsyncLocker struct {
	redsync *redsync.Redsync
	logger  logging.Logger

	mu    sync.Mutex
	locks map[string]*redsyncLock
}

type redsyncLock struct {
	mutex   *redsync.Mutex
	key     string
	expiry  time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	manager *RedsyncLocker
	once    sync.Once
}

// NewRedsyncLocker creates a Locker backed by the given Redis client
func NewRedsyncLocker(client *redis.Client, logger logging.Logger) (*RedsyncLocker, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	pool := goredis.NewPool(client.Raw())
	return &RedsyncLocker{
		redsync: redsync.New(pool),
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "locks"}),
		locks:   make(map[string]*redsyncLock),
	}, nil
}

func (r *RedsyncLocker) TryAcquire(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := r.redsync.NewMutex("lock:"+key, redsync.WithExpiry(expiration))

	// redsync reports a taken key and an unreachable quorum alike; both mean
	// the caller does not own the key.
	if err := mutex.TryLockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Debug("Distributed lock not acquired",
			logging.Field{Key: "key", Value: key},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return nil, heldError(key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &redsyncLock{
		mutex:   mutex,
		key:     key,
		expiry:  expiration,
		ctx:     lockCtx,
		cancel:  cancel,
		manager: r,
	}

	r.mu.Lock()
	r.locks[key] = lock
	r.mu.Unlock()

	go r.renew(lock)
	return lock, nil
}

func (r *RedsyncLocker) renew(lock *redsyncLock) {
	interval := lock.expiry / 3
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()
			if err != nil || !ok {
				r.logger.Warn("Lost distributed lock", logging.Field{Key: "key", Value: lock.key})
				lock.cancel()
				r.forget(lock)
				return
			}
		}
	}
}

func (r *RedsyncLocker) forget(lock *redsyncLock) {
	r.mu.Lock()
	if r.locks[lock.key] == lock {
		delete(r.locks, lock.key)
	}
	r.mu.Unlock()
}

// Close releases every lock still held by this instance
func (r *RedsyncLocker) Close() error {
	r.mu.Lock()
	held := make([]*redsyncLock, 0, len(r.locks))
	for _, lock := range r.locks {
		held = append(held, lock)
	}
	r.mu.Unlock()

	for _, lock := range held {
		_ = lock.Release(context.Background())
	}
	return nil
}

func (l *redsyncLock) Key() string { return l.key }

func (l *redsyncLock) IsHeld() bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
		return true
	}
}

func (l *redsyncLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		l.manager.forget(l)

		unlockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if _, unlockErr := l.mutex.UnlockContext(unlockCtx); unlockErr != nil {
			err = errors.InternalError("failed to release distributed lock", unlockErr)
		}
	})
	return err
}
