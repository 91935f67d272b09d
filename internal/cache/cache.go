package cache

import (
	"context"

	"posledger/internal/domain"
)

//go:generate mockgen -source=cache.go -destination=cache_mock.go -package=cache

// AccountCache holds read-side copies of account balances. Writers never
// consult it; the service drops an entry after every commit that touches
// the account.
type AccountCache interface {
	Get(ctx context.Context, id string) (*domain.Account, bool, error)
	Set(ctx context.Context, account domain.Account) error
	Invalidate(ctx context.Context, id string) error
}

type NoopAccountCache struct{}

func (NoopAccountCache) Get(_ context.Context, _ string) (*domain.Account, bool, error) {
	return nil, false, nil
}

func (NoopAccountCache) Set(_ context.Context, _ domain.Account) error {
	return nil
}

func (NoopAccountCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
