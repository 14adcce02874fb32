// Package locks provides mutual exclusion keyed by string, either within the
// process or across instances through Redis (Redlock via go-redsync).
//
// Fulfillment uses it so that an operator reprocess and a background run for
// the same payment never execute concurrently:
//
//	lock, err := locker.TryAcquire(ctx, locks.FulfillmentKey(paymentID), 5*time.Minute)
//	if err != nil {
//		return err
//	}
//	defer lock.Release(ctx)
package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"storefront-fulfillment/internal/common/errors"
)

// ErrLockHeld is wrapped by the conflict error returned when a key is already locked
var ErrLockHeld = stderrors.New("lock is held by another worker")

// Lock is an acquired lock
type Lock interface {
	Key() string
	IsHeld() bool
	Release(ctx context.Context) error
}

// Locker hands out locks. TryAcquire does not wait: a held key fails immediately
// with a conflict error wrapping ErrLockHeld.
type Locker interface {
	TryAcquire(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	Close() error
}

// FulfillmentKey is the lock key guarding one payment's pipeline
func FulfillmentKey(paymentID string) string {
	return "fulfillment:" + paymentID
}

func heldError(key string) error {
	return errors.ConflictError(fmt.Sprintf("lock %q is already held", key), ErrLockHeld)
}

// LocalLocker is an in-process Locker for single-instance deployments.
// Expiration is ignored; locks live until released.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]*localLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]*localLock)}
}

func (l *LocalLocker) TryAcquire(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, heldError(key)
	}
	lock := &localLock{key: key, owner: l}
	l.held[key] = lock
	return lock, nil
}

func (l *LocalLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, lock := range l.held {
		lock.released = true
		delete(l.held, key)
	}
	return nil
}

type localLock struct {
	key      string
	owner    *LocalLocker
	released bool
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) IsHeld() bool {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	return !l.released
}

func (l *localLock) Release(ctx context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	if l.owner.held[l.key] == l {
		delete(l.owner.held, l.key)
	}
	return nil
}
