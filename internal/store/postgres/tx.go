package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// queryer is satisfied by both *sql.DB and *sql.Tx so reads can be shared
// between the repository and the transaction handle.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func expectOne(res sql.Result, err error, what string, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, what, id)
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func getAccount(ctx context.Context, q queryer, id string, lock bool) (*domain.Account, error) {
	var a domain.Account
	err := q.QueryRowContext(ctx, `
		SELECT id, account, balance, cash_balance, is_default
		FROM accounts
		WHERE id = $1`+forUpdate(lock), id).Scan(&a.ID, &a.Account, &a.Balance, &a.CashBalance, &a.Default)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getSKU(ctx context.Context, q queryer, id string, lock bool) (*domain.SKU, error) {
	lockClause := ""
	if lock {
		lockClause = " FOR UPDATE OF s"
	}
	var s domain.SKU
	err := q.QueryRowContext(ctx, `
		SELECT s.id, s.sku, s.size, s.stock_quantity, s.variant_id, v.product_id
		FROM skus s
		JOIN variants v ON v.id = s.variant_id
		WHERE s.id = $1`+lockClause, id).Scan(&s.ID, &s.SKU, &s.Size, &s.StockQuantity, &s.VariantID, &s.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sku %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func getSell(ctx context.Context, q queryer, id string, lock bool) (*domain.Sell, error) {
	var s domain.Sell
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, account_id, total, type, status, discount, created_at, updated_at
		FROM sells
		WHERE id = $1`+forUpdate(lock), id).Scan(
		&s.ID, &s.UserID, &s.AccountID, &s.Total, &s.Type, &s.Status, &s.Discount, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sell %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, sell_id, product_id, sku_id, price, quantity
		FROM sell_items
		WHERE sell_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.Items = make([]domain.SellItem, 0, 4)
	for rows.Next() {
		var item domain.SellItem
		if err := rows.Scan(&item.ID, &item.SellID, &item.ProductID, &item.SKUID, &item.Price, &item.Quantity); err != nil {
			return nil, err
		}
		s.Items = append(s.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}

func getDebt(ctx context.Context, q queryer, id string, lock bool) (*domain.Debt, error) {
	var d domain.Debt
	var userID sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, account_id, user_id, taker_name, details, cash_amount, digital_amount,
		       amount_taken, remaining_amount, status, created_at, updated_at
		FROM debts
		WHERE id = $1`+forUpdate(lock), id).Scan(
		&d.ID, &d.AccountID, &userID, &d.TakerName, &d.Details, &d.CashAmount, &d.DigitalAmount,
		&d.AmountTaken, &d.RemainingAmount, &d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: debt %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	d.UserID = userID.String
	return &d, nil
}

func listDebtPayments(ctx context.Context, q queryer, debtID string) ([]domain.DebtPayment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, debt_id, amount_paid, cash_amount, digital_amount, payment_date
		FROM debt_payments
		WHERE debt_id = $1
		ORDER BY payment_date, id
	`, debtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.DebtPayment, 0, 4)
	for rows.Next() {
		var p domain.DebtPayment
		if err := rows.Scan(&p.ID, &p.DebtID, &p.AmountPaid, &p.CashAmount, &p.DigitalAmount, &p.PaymentDate); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

// pgTx is the store.Tx handed to ledger steps. Every read of a mutable row
// takes a row lock.
type pgTx struct {
	q queryer
}

func (t *pgTx) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return getAccount(ctx, t.q, id, true)
}

func (t *pgTx) UpdateAccountBalances(ctx context.Context, id string, balance decimal.Decimal, cashBalance decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $2, cash_balance = $3, updated_at = now()
		WHERE id = $1
	`, id, balance, cashBalance)
	return expectOne(res, err, "account", id)
}

func (t *pgTx) GetSKU(ctx context.Context, id string) (*domain.SKU, error) {
	return getSKU(ctx, t.q, id, true)
}

func (t *pgTx) SetSKUStock(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return fmt.Errorf("%w: sku %s stock would become %d", store.ErrOutOfStock, id, qty)
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE skus
		SET stock_quantity = $2, updated_at = now()
		WHERE id = $1
	`, id, qty)
	return expectOne(res, err, "sku", id)
}

func (t *pgTx) SumProductStock(ctx context.Context, productID string) (int, error) {
	var total int
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(s.stock_quantity), 0)
		FROM skus s
		JOIN variants v ON v.id = s.variant_id
		WHERE v.product_id = $1
	`, productID).Scan(&total)
	return total, err
}

func (t *pgTx) SetProductStock(ctx context.Context, productID string, qty int) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = $2, updated_at = now()
		WHERE id = $1
	`, productID, qty)
	return expectOne(res, err, "product", productID)
}

func (t *pgTx) CreateSell(ctx context.Context, sell domain.Sell) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sells (id, user_id, account_id, total, type, status, discount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sell.ID, sell.UserID, sell.AccountID, sell.Total, sell.Type, sell.Status, sell.Discount, sell.CreatedAt, sell.UpdatedAt)
	return err
}

func (t *pgTx) GetSell(ctx context.Context, id string) (*domain.Sell, error) {
	return getSell(ctx, t.q, id, true)
}

func (t *pgTx) UpdateSell(ctx context.Context, sell domain.Sell) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE sells
		SET account_id = $2, total = $3, type = $4, status = $5, discount = $6, updated_at = $7
		WHERE id = $1
	`, sell.ID, sell.AccountID, sell.Total, sell.Type, sell.Status, sell.Discount, sell.UpdatedAt)
	return expectOne(res, err, "sell", sell.ID)
}

func (t *pgTx) DeleteSellItems(ctx context.Context, sellID string) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM sell_items WHERE sell_id = $1`, sellID)
	return err
}

func (t *pgTx) CreateSellItems(ctx context.Context, sellID string, items []domain.SellItem) error {
	for i, item := range items {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO sell_items (id, sell_id, line_no, product_id, sku_id, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, item.ID, sellID, i, item.ProductID, item.SKUID, item.Price, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteSell(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM sells WHERE id = $1`, id)
	return expectOne(res, err, "sell", id)
}

func (t *pgTx) CreateDebt(ctx context.Context, debt domain.Debt) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO debts (
			id, account_id, user_id, taker_name, details, cash_amount, digital_amount,
			amount_taken, remaining_amount, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, debt.ID, debt.AccountID, nullable(debt.UserID), debt.TakerName, debt.Details, debt.CashAmount, debt.DigitalAmount,
		debt.AmountTaken, debt.RemainingAmount, debt.Status, debt.CreatedAt, debt.UpdatedAt)
	return err
}

func (t *pgTx) GetDebt(ctx context.Context, id string) (*domain.Debt, error) {
	return getDebt(ctx, t.q, id, true)
}

func (t *pgTx) UpdateDebt(ctx context.Context, debt domain.Debt) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE debts
		SET user_id = $2, taker_name = $3, details = $4, cash_amount = $5, digital_amount = $6,
		    amount_taken = $7, remaining_amount = $8, status = $9, updated_at = $10
		WHERE id = $1
	`, debt.ID, nullable(debt.UserID), debt.TakerName, debt.Details, debt.CashAmount, debt.DigitalAmount,
		debt.AmountTaken, debt.RemainingAmount, debt.Status, debt.UpdatedAt)
	return expectOne(res, err, "debt", debt.ID)
}

func (t *pgTx) DeleteDebt(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM debts WHERE id = $1`, id)
	return expectOne(res, err, "debt", id)
}

func (t *pgTx) ListDebtPayments(ctx context.Context, debtID string) ([]domain.DebtPayment, error) {
	return listDebtPayments(ctx, t.q, debtID)
}

func (t *pgTx) CreateDebtPayment(ctx context.Context, payment domain.DebtPayment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO debt_payments (id, debt_id, amount_paid, cash_amount, digital_amount, payment_date)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, payment.ID, payment.DebtID, payment.AmountPaid, payment.CashAmount, payment.DigitalAmount, payment.PaymentDate)
	return err
}

func (t *pgTx) GetDebtPayment(ctx context.Context, id string) (*domain.DebtPayment, error) {
	var p domain.DebtPayment
	err := t.q.QueryRowContext(ctx, `
		SELECT id, debt_id, amount_paid, cash_amount, digital_amount, payment_date
		FROM debt_payments
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&p.ID, &p.DebtID, &p.AmountPaid, &p.CashAmount, &p.DigitalAmount, &p.PaymentDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) UpdateDebtPayment(ctx context.Context, payment domain.DebtPayment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE debt_payments
		SET amount_paid = $2, cash_amount = $3, digital_amount = $4
		WHERE id = $1
	`, payment.ID, payment.AmountPaid, payment.CashAmount, payment.DigitalAmount)
	return expectOne(res, err, "payment", payment.ID)
}

func (t *pgTx) DeleteDebtPayment(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM debt_payments WHERE id = $1`, id)
	return expectOne(res, err, "payment", id)
}

var _ store.Tx = (*pgTx)(nil)
