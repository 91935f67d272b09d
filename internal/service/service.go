package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// DebtStatusRule selects how a debt edit derives the new status.
type DebtStatusRule string

const (
	// StatusByAmountTaken marks an edited debt partially_returned while the
	// new amount taken is positive and returned otherwise.
	StatusByAmountTaken DebtStatusRule = "amount_taken"
	// StatusByRemaining applies the remaining-amount rule used by payments.
	StatusByRemaining DebtStatusRule = "remaining"
)

type Options struct {
	SaleAttempts   int
	DebtAttempts   int
	DebtStatusRule DebtStatusRule
}

type Service struct {
	repo     store.Repository
	exec     *ledger.Executor
	stock    ledger.StockAdjuster
	accounts cache.AccountCache
	opts     Options
	logger   logrus.FieldLogger
}

func New(repo store.Repository, exec *ledger.Executor, accounts cache.AccountCache, opts Options, logger logrus.FieldLogger) *Service {
	if accounts == nil {
		accounts = cache.NoopAccountCache{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.SaleAttempts < 1 {
		opts.SaleAttempts = 3
	}
	if opts.DebtAttempts < 1 {
		opts.DebtAttempts = 1
	}
	if opts.DebtStatusRule == "" {
		opts.DebtStatusRule = StatusByAmountTaken
	}

	return &Service{
		repo:     repo,
		exec:     exec,
		accounts: accounts,
		opts:     opts,
		logger:   logger.WithField("component", "service"),
	}
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx)
}

// GetAccount serves balances from the cache when possible. Cache failures
// degrade to a store read.
func (s *Service) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	if id == "" {
		return domain.Account{}, fmt.Errorf("%w: account id is required", store.ErrValidation)
	}

	cached, ok, err := s.accounts.Get(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("account_id", id).Warn("account cache read failed")
	} else if ok {
		return *cached, nil
	}

	acc, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if err := s.accounts.Set(ctx, *acc); err != nil {
		s.logger.WithError(err).WithField("account_id", id).Warn("account cache write failed")
	}
	return *acc, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sell, error) {
	sell, err := s.repo.GetSell(ctx, id)
	if err != nil {
		return domain.Sell{}, err
	}
	return *sell, nil
}

func (s *Service) GetDebt(ctx context.Context, id string) (domain.Debt, error) {
	debt, err := s.repo.GetDebt(ctx, id)
	if err != nil {
		return domain.Debt{}, err
	}
	return *debt, nil
}

func (s *Service) ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error) {
	return s.repo.ListDebtPayments(ctx, debtID)
}

// committed drops cached balances of the touched accounts and records the
// operation.
func (s *Service) committed(ctx context.Context, op string, fields logrus.Fields, accountIDs ...string) {
	seen := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := s.accounts.Invalidate(ctx, id); err != nil {
			s.logger.WithError(err).WithField("account_id", id).Warn("account cache invalidation failed")
		}
	}

	entry := s.logger.WithField("operation", op).WithFields(fields)
	if actor, ok := ActorFromContext(ctx); ok {
		entry = entry.WithField("actor", actor.Username)
	}
	entry.Info("ledger operation committed")
}

func validateAmount(name string, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", store.ErrValidation, name)
	}
	if !v.Equal(v.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", store.ErrValidation, name)
	}
	return nil
}

func validateSplit(cash, digital decimal.Decimal) (ledger.CashSplit, error) {
	if err := validateAmount("cashAmount", cash); err != nil {
		return ledger.CashSplit{}, err
	}
	if err := validateAmount("digitalAmount", digital); err != nil {
		return ledger.CashSplit{}, err
	}
	return ledger.CashSplit{Cash: cash, Digital: digital}, nil
}
