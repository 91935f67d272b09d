package ledger

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/lock"
	"posledger/internal/store"
)

// Op describes one ledger operation for the Executor.
type Op struct {
	Name string
	// Attempts bounds the number of transactions tried; values below one
	// mean a single attempt.
	Attempts int
	// LockKeys are taken best-effort before the first attempt.
	LockKeys []string
}

type ExecutorOptions struct {
	Tx      store.TxOptions
	LockTTL time.Duration
}

// Executor runs a unit of work inside one store transaction and retries it
// on transient store failures. Every attempt re-reads state from the store,
// so a retried attempt never sees effects of a failed one.
type Executor struct {
	repo   store.Repository
	locker lock.Locker
	opts   ExecutorOptions
	logger logrus.FieldLogger
}

func NewExecutor(repo store.Repository, locker lock.Locker, opts ExecutorOptions, logger logrus.FieldLogger) *Executor {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &Executor{repo: repo, locker: locker, opts: opts, logger: logger}
}

// Run executes fn under op's policy and returns its result once committed.
func Run[T any](ctx context.Context, e *Executor, op Op, fn func(ctx context.Context, tx store.Tx) (T, error)) (T, error) {
	log := e.logger.WithField("operation", op.Name)

	release := e.acquire(ctx, log, op.LockKeys)
	defer release()

	maxAttempts := max(op.Attempts, 1)
	return WithRetry(ctx, maxAttempts, store.IsTransient, func(ctx context.Context, attempt int) (T, error) {
		var out T
		err := e.repo.WithTx(ctx, e.opts.Tx, func(ctx context.Context, tx store.Tx) error {
			v, err := fn(ctx, tx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
		if err != nil {
			if store.IsTransient(err) {
				log.WithFields(logrus.Fields{
					"attempt":      attempt,
					"max_attempts": maxAttempts,
					"error":        err.Error(),
				}).Warn("transaction aborted")
			}
			var zero T
			return zero, err
		}
		return out, nil
	})
}

// acquire takes the advisory locks in a stable order. A lock that cannot be
// taken is logged and skipped; the store transaction is what keeps the
// ledger consistent.
func (e *Executor) acquire(ctx context.Context, log logrus.FieldLogger, keys []string) func() {
	if len(keys) == 0 {
		return func() {}
	}
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	releases := make([]lock.Release, 0, len(keys))
	for _, key := range keys {
		rel, err := e.locker.Obtain(ctx, key, e.opts.LockTTL)
		if err != nil {
			entry := log.WithField("lock_key", key)
			if errors.Is(err, lock.ErrNotObtained) {
				entry.Warn("lock held elsewhere, proceeding without it")
			} else {
				entry.WithError(err).Warn("lock unavailable, proceeding without it")
			}
			continue
		}
		releases = append(releases, rel)
	}

	return func() {
		// Release on a fresh context so a cancelled request still frees its locks.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(releases) - 1; i >= 0; i-- {
			if err := releases[i](releaseCtx); err != nil {
				log.WithError(err).Warn("failed to release lock")
			}
		}
	}
}
