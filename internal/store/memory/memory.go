package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// Store keeps every record in process memory. Transactions are serialized
// through a single-slot semaphore and run against a private copy of the
// state that replaces the live state only when the unit of work succeeds.
type Store struct {
	slot chan struct{}

	mu   sync.RWMutex
	live *state
}

type state struct {
	accounts map[string]domain.Account
	products map[string]domain.Product
	variants map[string]domain.Variant
	skus     map[string]domain.SKU
	sells    map[string]domain.Sell
	debts    map[string]domain.Debt
	payments map[string]domain.DebtPayment
	users    map[string]domain.UserAccount
}

// Seed lists the records a Store starts with.
type Seed struct {
	Accounts []domain.Account
	Products []domain.Product
	Variants []domain.Variant
	SKUs     []domain.SKU
	Users    []domain.UserAccount
}

func New(seed Seed) *Store {
	st := &state{
		accounts: make(map[string]domain.Account, len(seed.Accounts)),
		products: make(map[string]domain.Product, len(seed.Products)),
		variants: make(map[string]domain.Variant, len(seed.Variants)),
		skus:     make(map[string]domain.SKU, len(seed.SKUs)),
		sells:    make(map[string]domain.Sell),
		debts:    make(map[string]domain.Debt),
		payments: make(map[string]domain.DebtPayment),
		users:    make(map[string]domain.UserAccount, len(seed.Users)),
	}
	for _, a := range seed.Accounts {
		st.accounts[a.ID] = a
	}
	for _, p := range seed.Products {
		st.products[p.ID] = p
	}
	for _, v := range seed.Variants {
		st.variants[v.ID] = v
	}
	for _, s := range seed.SKUs {
		if v, ok := st.variants[s.VariantID]; ok {
			s.ProductID = v.ProductID
		}
		st.skus[s.ID] = s
	}
	for _, u := range seed.Users {
		st.users[u.Username] = u
	}
	// Aggregates are derived, never trusted from the seed.
	for id, p := range st.products {
		p.StockQuantity = st.sumProductStock(id)
		st.products[id] = p
	}

	return &Store{
		slot: make(chan struct{}, 1),
		live: st,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) WithTx(ctx context.Context, opts store.TxOptions, fn store.TxFunc) error {
	if opts.MaxWait <= 0 || opts.Timeout <= 0 {
		def := store.DefaultTxOptions()
		if opts.MaxWait <= 0 {
			opts.MaxWait = def.MaxWait
		}
		if opts.Timeout <= 0 {
			opts.Timeout = def.Timeout
		}
	}

	wait := time.NewTimer(opts.MaxWait)
	defer wait.Stop()
	select {
	case s.slot <- struct{}{}:
	case <-wait.C:
		return fmt.Errorf("%w: lock wait exceeded %s", store.ErrTransient, opts.MaxWait)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	txCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	s.mu.RLock()
	staged := s.live.clone()
	s.mu.RUnlock()

	if err := fn(txCtx, &tx{st: staged}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", store.ErrTransient, err)
		}
		return err
	}
	if err := txCtx.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: transaction exceeded %s", store.ErrTransient, opts.Timeout)
	}

	s.mu.Lock()
	s.live = staged
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.live.accounts))
	for _, a := range s.live.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.account(id)
}

func (s *Store) GetSKU(_ context.Context, id string) (*domain.SKU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.sku(id)
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.live.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return &p, nil
}

func (s *Store) GetSell(_ context.Context, id string) (*domain.Sell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.sell(id)
}

func (s *Store) GetDebt(_ context.Context, id string) (*domain.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.live.debt(id)
	if err != nil {
		return nil, err
	}
	d.Payments = s.live.paymentsFor(id)
	return d, nil
}

func (s *Store) ListDebtPayments(_ context.Context, debtID string) ([]domain.DebtPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.live.debt(debtID); err != nil {
		return nil, err
	}
	return s.live.paymentsFor(debtID), nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.live.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return &u, nil
}

func (st *state) clone() *state {
	out := &state{
		accounts: make(map[string]domain.Account, len(st.accounts)),
		products: make(map[string]domain.Product, len(st.products)),
		variants: make(map[string]domain.Variant, len(st.variants)),
		skus:     make(map[string]domain.SKU, len(st.skus)),
		sells:    make(map[string]domain.Sell, len(st.sells)),
		debts:    make(map[string]domain.Debt, len(st.debts)),
		payments: make(map[string]domain.DebtPayment, len(st.payments)),
		// users are never written inside a transaction
		users: st.users,
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.products {
		out.products[k] = v
	}
	for k, v := range st.variants {
		out.variants[k] = v
	}
	for k, v := range st.skus {
		out.skus[k] = v
	}
	for k, v := range st.sells {
		out.sells[k] = cloneSell(v)
	}
	for k, v := range st.debts {
		out.debts[k] = v
	}
	for k, v := range st.payments {
		out.payments[k] = v
	}
	return out
}

func cloneSell(in domain.Sell) domain.Sell {
	out := in
	out.Items = slices.Clone(in.Items)
	return out
}

func (st *state) account(id string) (*domain.Account, error) {
	a, ok := st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	return &a, nil
}

func (st *state) sku(id string) (*domain.SKU, error) {
	s, ok := st.skus[id]
	if !ok {
		return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, id)
	}
	return &s, nil
}

func (st *state) sell(id string) (*domain.Sell, error) {
	s, ok := st.sells[id]
	if !ok {
		return nil, fmt.Errorf("%w: sell %s", store.ErrNotFound, id)
	}
	out := cloneSell(s)
	return &out, nil
}

func (st *state) debt(id string) (*domain.Debt, error) {
	d, ok := st.debts[id]
	if !ok {
		return nil, fmt.Errorf("%w: debt %s", store.ErrNotFound, id)
	}
	return &d, nil
}

func (st *state) paymentsFor(debtID string) []domain.DebtPayment {
	out := make([]domain.DebtPayment, 0)
	for _, p := range st.payments {
		if p.DebtID == debtID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].PaymentDate.Before(out[j].PaymentDate)
	})
	return out
}

func (st *state) sumProductStock(productID string) int {
	total := 0
	for _, s := range st.skus {
		if s.ProductID == productID {
			total += s.StockQuantity
		}
	}
	return total
}

// tx operates on a staged copy owned by exactly one WithTx call.
type tx struct {
	st *state
}

func (t *tx) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	return t.st.account(id)
}

func (t *tx) UpdateAccountBalances(_ context.Context, id string, balance decimal.Decimal, cashBalance decimal.Decimal) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	a.Balance = balance
	a.CashBalance = cashBalance
	t.st.accounts[id] = a
	return nil
}

func (t *tx) GetSKU(_ context.Context, id string) (*domain.SKU, error) {
	return t.st.sku(id)
}

func (t *tx) SetSKUStock(_ context.Context, id string, qty int) error {
	s, ok := t.st.skus[id]
	if !ok {
		return fmt.Errorf("%w: sku %s", store.ErrNotFound, id)
	}
	if qty < 0 {
		return fmt.Errorf("%w: sku %s stock would become %d", store.ErrOutOfStock, id, qty)
	}
	s.StockQuantity = qty
	t.st.skus[id] = s
	return nil
}

func (t *tx) SumProductStock(_ context.Context, productID string) (int, error) {
	return t.st.sumProductStock(productID), nil
}

func (t *tx) SetProductStock(_ context.Context, productID string, qty int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	p.StockQuantity = qty
	t.st.products[productID] = p
	return nil
}

func (t *tx) CreateSell(_ context.Context, sell domain.Sell) error {
	if _, exists := t.st.sells[sell.ID]; exists {
		return fmt.Errorf("%w: sell %s already exists", store.ErrConflict, sell.ID)
	}
	if _, ok := t.st.accounts[sell.AccountID]; !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, sell.AccountID)
	}
	t.st.sells[sell.ID] = cloneSell(sell)
	return nil
}

func (t *tx) GetSell(_ context.Context, id string) (*domain.Sell, error) {
	return t.st.sell(id)
}

func (t *tx) UpdateSell(_ context.Context, sell domain.Sell) error {
	current, ok := t.st.sells[sell.ID]
	if !ok {
		return fmt.Errorf("%w: sell %s", store.ErrNotFound, sell.ID)
	}
	if _, ok := t.st.accounts[sell.AccountID]; !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, sell.AccountID)
	}
	// Items are owned by CreateSellItems/DeleteSellItems.
	sell.Items = current.Items
	t.st.sells[sell.ID] = cloneSell(sell)
	return nil
}

func (t *tx) DeleteSellItems(_ context.Context, sellID string) error {
	s, ok := t.st.sells[sellID]
	if !ok {
		return fmt.Errorf("%w: sell %s", store.ErrNotFound, sellID)
	}
	s.Items = nil
	t.st.sells[sellID] = s
	return nil
}

func (t *tx) CreateSellItems(_ context.Context, sellID string, items []domain.SellItem) error {
	s, ok := t.st.sells[sellID]
	if !ok {
		return fmt.Errorf("%w: sell %s", store.ErrNotFound, sellID)
	}
	for _, item := range items {
		item.SellID = sellID
		s.Items = append(s.Items, item)
	}
	t.st.sells[sellID] = s
	return nil
}

func (t *tx) DeleteSell(_ context.Context, id string) error {
	if _, ok := t.st.sells[id]; !ok {
		return fmt.Errorf("%w: sell %s", store.ErrNotFound, id)
	}
	delete(t.st.sells, id)
	return nil
}

func (t *tx) CreateDebt(_ context.Context, debt domain.Debt) error {
	if _, exists := t.st.debts[debt.ID]; exists {
		return fmt.Errorf("%w: debt %s already exists", store.ErrConflict, debt.ID)
	}
	if _, ok := t.st.accounts[debt.AccountID]; !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, debt.AccountID)
	}
	debt.Payments = nil
	t.st.debts[debt.ID] = debt
	return nil
}

func (t *tx) GetDebt(_ context.Context, id string) (*domain.Debt, error) {
	return t.st.debt(id)
}

func (t *tx) UpdateDebt(_ context.Context, debt domain.Debt) error {
	if _, ok := t.st.debts[debt.ID]; !ok {
		return fmt.Errorf("%w: debt %s", store.ErrNotFound, debt.ID)
	}
	debt.Payments = nil
	t.st.debts[debt.ID] = debt
	return nil
}

func (t *tx) DeleteDebt(_ context.Context, id string) error {
	if _, ok := t.st.debts[id]; !ok {
		return fmt.Errorf("%w: debt %s", store.ErrNotFound, id)
	}
	if len(t.st.paymentsFor(id)) > 0 {
		return fmt.Errorf("%w: debt %s has payments", store.ErrConflict, id)
	}
	delete(t.st.debts, id)
	return nil
}

func (t *tx) ListDebtPayments(_ context.Context, debtID string) ([]domain.DebtPayment, error) {
	return t.st.paymentsFor(debtID), nil
}

func (t *tx) CreateDebtPayment(_ context.Context, payment domain.DebtPayment) error {
	if _, exists := t.st.payments[payment.ID]; exists {
		return fmt.Errorf("%w: payment %s already exists", store.ErrConflict, payment.ID)
	}
	if _, ok := t.st.debts[payment.DebtID]; !ok {
		return fmt.Errorf("%w: debt %s", store.ErrNotFound, payment.DebtID)
	}
	t.st.payments[payment.ID] = payment
	return nil
}

func (t *tx) GetDebtPayment(_ context.Context, id string) (*domain.DebtPayment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
	}
	return &p, nil
}

func (t *tx) UpdateDebtPayment(_ context.Context, payment domain.DebtPayment) error {
	if _, ok := t.st.payments[payment.ID]; !ok {
		return fmt.Errorf("%w: payment %s", store.ErrNotFound, payment.ID)
	}
	t.st.payments[payment.ID] = payment
	return nil
}

func (t *tx) DeleteDebtPayment(_ context.Context, id string) error {
	if _, ok := t.st.payments[id]; !ok {
		return fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
	}
	delete(t.st.payments, id)
	return nil
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*tx)(nil)
)
