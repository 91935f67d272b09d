package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrInvalidQuantity = fmt.Errorf("%w: invalid quantity", ErrValidation)
	ErrNotFound        = errors.New("not found")
	ErrOutOfStock      = errors.New("out of stock")
	ErrConflict        = errors.New("conflict")
	ErrTransient       = errors.New("transient store failure")
)

// IsTransient reports whether err is a lock wait, timeout or serialization
// abort that is expected to succeed on a fresh attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// TxOptions bounds a single transaction. MaxWait caps the time spent waiting
// for locks; Timeout caps the whole unit of work.
type TxOptions struct {
	MaxWait time.Duration
	Timeout time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{MaxWait: 15 * time.Second, Timeout: 30 * time.Second}
}

type TxFunc func(ctx context.Context, tx Tx) error

type Repository interface {
	WithTx(ctx context.Context, opts TxOptions, fn TxFunc) error

	ListAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetSKU(ctx context.Context, id string) (*domain.SKU, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetSell(ctx context.Context, id string) (*domain.Sell, error)
	GetDebt(ctx context.Context, id string) (*domain.Debt, error)
	ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error)
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	Close() error
}

// Tx is the explicit transaction handle every ledger step receives. Reads of
// accounts, SKUs, sells, debts and payments lock the row until the
// transaction ends.
type Tx interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccountBalances(ctx context.Context, id string, balance decimal.Decimal, cashBalance decimal.Decimal) error

	GetSKU(ctx context.Context, id string) (*domain.SKU, error)
	SetSKUStock(ctx context.Context, id string, qty int) error
	SumProductStock(ctx context.Context, productID string) (int, error)
	SetProductStock(ctx context.Context, productID string, qty int) error

	CreateSell(ctx context.Context, sell domain.Sell) error
	GetSell(ctx context.Context, id string) (*domain.Sell, error)
	UpdateSell(ctx context.Context, sell domain.Sell) error
	DeleteSellItems(ctx context.Context, sellID string) error
	CreateSellItems(ctx context.Context, sellID string, items []domain.SellItem) error
	DeleteSell(ctx context.Context, id string) error

	CreateDebt(ctx context.Context, debt domain.Debt) error
	GetDebt(ctx context.Context, id string) (*domain.Debt, error)
	UpdateDebt(ctx context.Context, debt domain.Debt) error
	DeleteDebt(ctx context.Context, id string) error

	ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error)
	CreateDebtPayment(ctx context.Context, payment domain.DebtPayment) error
	GetDebtPayment(ctx context.Context, id string) (*domain.DebtPayment, error)
	UpdateDebtPayment(ctx context.Context, payment domain.DebtPayment) error
	DeleteDebtPayment(ctx context.Context, id string) error
}
