package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// migrationLockID serialises Migrate across replicas starting at once.
const migrationLockID = 7_274_101

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create_accounts",
		sql: `
			CREATE TABLE IF NOT EXISTS accounts (
				id           TEXT PRIMARY KEY,
				account      TEXT NOT NULL DEFAULT '',
				balance      NUMERIC(14,2) NOT NULL DEFAULT 0,
				cash_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
				is_default   BOOLEAN NOT NULL DEFAULT false,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
			);
		`,
	},
	{
		version: 2,
		name:    "create_catalog",
		sql: `
			CREATE TABLE IF NOT EXISTS products (
				id             TEXT PRIMARY KEY,
				name           TEXT NOT NULL,
				stock_quantity INTEGER NOT NULL DEFAULT 0,
				created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
			);

			CREATE TABLE IF NOT EXISTS variants (
				id         TEXT PRIMARY KEY,
				product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
				color      TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_variants_product_id ON variants (product_id);

			CREATE TABLE IF NOT EXISTS skus (
				id             TEXT PRIMARY KEY,
				sku            TEXT NOT NULL UNIQUE,
				size           TEXT NOT NULL DEFAULT '',
				stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
				variant_id     TEXT NOT NULL REFERENCES variants(id) ON DELETE CASCADE,
				updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_skus_variant_id ON skus (variant_id);
		`,
	},
	{
		version: 3,
		name:    "create_sells",
		sql: `
			CREATE TABLE IF NOT EXISTS sells (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL DEFAULT '',
				account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
				total      NUMERIC(14,2) NOT NULL,
				type       TEXT NOT NULL CHECK (type IN ('cash', 'digital')),
				status     TEXT NOT NULL DEFAULT 'pending',
				discount   NUMERIC(14,2) NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_sells_account_id ON sells (account_id);

			CREATE TABLE IF NOT EXISTS sell_items (
				id         TEXT PRIMARY KEY,
				sell_id    TEXT NOT NULL REFERENCES sells(id) ON DELETE CASCADE,
				line_no    INTEGER NOT NULL,
				product_id TEXT NOT NULL REFERENCES products(id),
				sku_id     TEXT NOT NULL REFERENCES skus(id),
				price      NUMERIC(14,2) NOT NULL CHECK (price > 0),
				quantity   INTEGER NOT NULL CHECK (quantity > 0)
			);
			CREATE INDEX IF NOT EXISTS idx_sell_items_sell_id ON sell_items (sell_id, line_no);
		`,
	},
	{
		version: 4,
		name:    "create_debts",
		sql: `
			CREATE TABLE IF NOT EXISTS debts (
				id               TEXT PRIMARY KEY,
				account_id       TEXT NOT NULL REFERENCES accounts(id) ON DELETE RESTRICT,
				user_id          TEXT,
				taker_name       TEXT NOT NULL DEFAULT '',
				details          TEXT NOT NULL DEFAULT '',
				cash_amount      NUMERIC(14,2) NOT NULL DEFAULT 0,
				digital_amount   NUMERIC(14,2) NOT NULL DEFAULT 0,
				amount_taken     NUMERIC(14,2) NOT NULL,
				remaining_amount NUMERIC(14,2) NOT NULL,
				status           TEXT NOT NULL CHECK (status IN ('taken', 'partially_returned', 'returned')),
				created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_debts_account_id ON debts (account_id);

			CREATE TABLE IF NOT EXISTS debt_payments (
				id             TEXT PRIMARY KEY,
				debt_id        TEXT NOT NULL REFERENCES debts(id) ON DELETE RESTRICT,
				amount_paid    NUMERIC(14,2) NOT NULL CHECK (amount_paid > 0),
				cash_amount    NUMERIC(14,2) NOT NULL DEFAULT 0,
				digital_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
				payment_date   TIMESTAMPTZ NOT NULL DEFAULT now()
			);
			CREATE INDEX IF NOT EXISTS idx_debt_payments_debt_id ON debt_payments (debt_id, payment_date);
		`,
	},
	{
		version: 5,
		name:    "create_users",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				role          TEXT NOT NULL CHECK (role IN ('admin', 'employee', 'viewer')),
				active        BOOLEAN NOT NULL DEFAULT true,
				created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
			);
		`,
	},
}

// Migrate applies every migration not yet recorded in schema_migrations,
// each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", m.version, m.name, err)
		}
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return err
	}

	var applied int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_migrations WHERE version = $1`, m.version).Scan(&applied)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
