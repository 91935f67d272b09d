package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotObtained = errors.New("lock not obtained")

// Release frees a held lock.
type Release func(ctx context.Context) error

// Locker hands out advisory locks keyed by string. Locks are best-effort:
// callers must stay correct when Obtain fails.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

type NoopLocker struct{}

func (NoopLocker) Obtain(context.Context, string, time.Duration) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// AccountKey is the lock key guarding an account's balances.
func AccountKey(accountID string) string {
	return "posledger:lock:account:" + accountID
}
