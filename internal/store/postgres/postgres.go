package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"posledger/internal/domain"
	"posledger/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a serializable transaction. MaxWait becomes the
// transaction's lock_timeout and Timeout bounds the whole unit of work.
func (s *Store) WithTx(ctx context.Context, opts store.TxOptions, fn store.TxFunc) error {
	parent := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(parent, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if opts.MaxWait > 0 {
		// SET does not take bind parameters; the value is an integer we format.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.MaxWait.Milliseconds())); err != nil {
			return classify(parent, err)
		}
	}

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return classify(parent, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(parent, err)
	}
	return nil
}

// classify maps driver failures onto the store taxonomy. Errors that
// already carry a store sentinel pass through untouched.
func classify(parent context.Context, err error) error {
	for _, known := range []error{store.ErrValidation, store.ErrNotFound, store.ErrOutOfStock, store.ErrConflict, store.ErrTransient} {
		if errors.Is(err, known) {
			return err
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return fmt.Errorf("%w: %s (%s)", store.ErrTransient, pgErr.Message, pgErr.Code)
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.Message)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %v", store.ErrTransient, err)
	}
	return err
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, balance, cash_balance, is_default
		FROM accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0, 8)
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Account, &a.Balance, &a.CashBalance, &a.Default); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, s.db, id, false)
}

func (s *Store) GetSKU(ctx context.Context, id string) (*domain.SKU, error) {
	return getSKU(ctx, s.db, id, false)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock_quantity
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.StockQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetSell(ctx context.Context, id string) (*domain.Sell, error) {
	return getSell(ctx, s.db, id, false)
}

func (s *Store) GetDebt(ctx context.Context, id string) (*domain.Debt, error) {
	debt, err := getDebt(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	debt.Payments, err = listDebtPayments(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return debt, nil
}

func (s *Store) ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error) {
	if _, err := getDebt(ctx, s.db, debtID, false); err != nil {
		return nil, err
	}
	return listDebtPayments(ctx, s.db, debtID)
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

var _ store.Repository = (*Store)(nil)
