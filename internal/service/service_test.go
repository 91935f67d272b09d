package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
	"posledger/internal/store/memory"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestStore() *memory.Store {
	return memory.New(memory.Seed{
		Accounts: []domain.Account{
			{ID: "acc_x", Account: "KES", Balance: dec("500"), CashBalance: dec("100")},
			{ID: "acc_y", Account: "KES", Balance: dec("0"), CashBalance: dec("0")},
			{ID: "acc_debt", Account: "KES", Balance: dec("500"), CashBalance: dec("200")},
		},
		Products: []domain.Product{{ID: "prod_p", Name: "P"}, {ID: "prod_q", Name: "Q"}},
		Variants: []domain.Variant{
			{ID: "var_p1", ProductID: "prod_p"},
			{ID: "var_p2", ProductID: "prod_p"},
			{ID: "var_q", ProductID: "prod_q"},
		},
		SKUs: []domain.SKU{
			{ID: "sku_a", SKU: "A", StockQuantity: 5, VariantID: "var_p1"},
			{ID: "sku_a2", SKU: "A2", StockQuantity: 4, VariantID: "var_p2"},
			{ID: "sku_b", SKU: "B", StockQuantity: 1, VariantID: "var_q"},
		},
	})
}

func newServiceWithRepo(repo store.Repository, accounts cache.AccountCache, opts Options) *Service {
	logger, _ := test.NewNullLogger()
	exec := ledger.NewExecutor(repo, nil, ledger.ExecutorOptions{
		Tx: store.TxOptions{MaxWait: 2 * time.Second, Timeout: 5 * time.Second},
	}, logger)
	return New(repo, exec, accounts, opts, logger)
}

func newTestService() (*Service, *memory.Store) {
	repo := newTestStore()
	return newServiceWithRepo(repo, nil, Options{}), repo
}

func withEmployee(ctx context.Context) context.Context {
	return WithActor(ctx, domain.Actor{UserID: "usr_employee", Username: "employee", Role: domain.RoleEmployee})
}

func account(t *testing.T, repo *memory.Store, id string) domain.Account {
	t.Helper()
	acc, err := repo.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return *acc
}

func skuStock(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	sku, err := repo.GetSKU(context.Background(), id)
	require.NoError(t, err)
	return sku.StockQuantity
}

func productStock(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestCreateAndDeleteSaleRoundTrip(t *testing.T) {
	svc, repo := newTestService()
	ctx := withEmployee(context.Background())

	sell, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		AccountID: "acc_x",
		Type:      domain.SaleTypeCash,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 2, Price: dec("10")}},
	})
	require.NoError(t, err)

	assertMoney(t, "20", sell.Total, "sale total")
	assert.Equal(t, "usr_employee", sell.UserID)
	assert.Equal(t, domain.DefaultSellStatus, sell.Status)
	assert.True(t, sell.Discount.IsZero())
	require.Len(t, sell.Items, 1)
	assert.Equal(t, "prod_p", sell.Items[0].ProductID)

	assertMoney(t, "120", account(t, repo, "acc_x").CashBalance, "cash after sale")
	assertMoney(t, "500", account(t, repo, "acc_x").Balance, "digital after sale")
	assert.Equal(t, 3, skuStock(t, repo, "sku_a"))
	assert.Equal(t, 7, productStock(t, repo, "prod_p"))

	require.NoError(t, svc.DeleteSale(ctx, sell.ID))

	assertMoney(t, "100", account(t, repo, "acc_x").CashBalance, "cash after delete")
	assert.Equal(t, 5, skuStock(t, repo, "sku_a"))
	assert.Equal(t, 9, productStock(t, repo, "prod_p"))

	_, err = svc.GetSale(ctx, sell.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleDefaultsToCash(t *testing.T) {
	svc, repo := newTestService()

	sell, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		AccountID: "acc_y",
		Status:    "completed",
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("12.50")}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleTypeCash, sell.Type)
	assert.Equal(t, "completed", sell.Status)
	assertMoney(t, "12.50", account(t, repo, "acc_y").CashBalance, "cash")
}

func TestCreateDigitalSaleCreditsBalance(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		AccountID: "acc_y",
		Type:      domain.SaleTypeDigital,
		Items: []domain.SaleItemRequest{
			{SKUID: "sku_a", Quantity: 1, Price: dec("10")},
			{SKUID: "sku_a2", Quantity: 3, Price: dec("2.25")},
		},
	})
	require.NoError(t, err)
	assertMoney(t, "16.75", account(t, repo, "acc_y").Balance, "balance")
	assertMoney(t, "0", account(t, repo, "acc_y").CashBalance, "cash")
	assert.Equal(t, 5, productStock(t, repo, "prod_p"))
}

func TestCreateSaleRejections(t *testing.T) {
	tests := []struct {
		name  string
		req   domain.CreateSaleRequest
		errIs error
	}{
		{
			name:  "no items",
			req:   domain.CreateSaleRequest{AccountID: "acc_x"},
			errIs: store.ErrValidation,
		},
		{
			name:  "no account",
			req:   domain.CreateSaleRequest{Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}}},
			errIs: store.ErrValidation,
		},
		{
			name:  "unknown type",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Type: "card", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}}},
			errIs: store.ErrValidation,
		},
		{
			name:  "zero quantity",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 0, Price: dec("1")}}},
			errIs: store.ErrInvalidQuantity,
		},
		{
			name:  "zero price",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("0")}}},
			errIs: store.ErrValidation,
		},
		{
			name:  "sub-cent price",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("0.005")}}},
			errIs: store.ErrValidation,
		},
		{
			name:  "unknown account",
			req:   domain.CreateSaleRequest{AccountID: "acc_nope", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}}},
			errIs: store.ErrNotFound,
		},
		{
			name:  "unknown sku",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}, {SKUID: "sku_zz", Quantity: 1, Price: dec("1")}}},
			errIs: store.ErrNotFound,
		},
		{
			name:  "out of stock after a good line",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 2, Price: dec("1")}, {SKUID: "sku_b", Quantity: 2, Price: dec("1")}}},
			errIs: store.ErrOutOfStock,
		},
		{
			name:  "product does not own sku",
			req:   domain.CreateSaleRequest{AccountID: "acc_x", Items: []domain.SaleItemRequest{{SKUID: "sku_a", ProductID: "prod_q", Quantity: 1, Price: dec("1")}}},
			errIs: store.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()

			_, err := svc.CreateSale(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.errIs)

			// nothing committed
			assertMoney(t, "100", account(t, repo, "acc_x").CashBalance, "cash")
			assertMoney(t, "500", account(t, repo, "acc_x").Balance, "balance")
			assert.Equal(t, 5, skuStock(t, repo, "sku_a"))
			assert.Equal(t, 1, skuStock(t, repo, "sku_b"))
			assert.Equal(t, 9, productStock(t, repo, "prod_p"))
		})
	}
}

func TestUpdateSaleAcrossAccountsAndTypes(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	sell, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		AccountID: "acc_x",
		Type:      domain.SaleTypeCash,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 2, Price: dec("10")}},
	})
	require.NoError(t, err)
	xBefore := account(t, repo, "acc_x")

	updated, err := svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{
		AccountID: "acc_y",
		Type:      domain.SaleTypeDigital,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("35")}},
	})
	require.NoError(t, err)
	assertMoney(t, "35", updated.Total, "updated total")
	assert.Equal(t, "acc_y", updated.AccountID)

	x := account(t, repo, "acc_x")
	y := account(t, repo, "acc_y")
	assertMoney(t, xBefore.CashBalance.Sub(dec("20")).String(), x.CashBalance, "x cash")
	assertMoney(t, xBefore.Balance.String(), x.Balance, "x balance")
	assertMoney(t, "35", y.Balance, "y balance")
	assertMoney(t, "0", y.CashBalance, "y cash")
	assert.Equal(t, 4, skuStock(t, repo, "sku_a"))

	stored, err := svc.GetSale(ctx, sell.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestUpdateSaleSameAccount(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	sell, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		AccountID: "acc_x",
		Type:      domain.SaleTypeCash,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_b", Quantity: 1, Price: dec("20")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, skuStock(t, repo, "sku_b"))

	// Same type: only the delta lands. The line keeps its single unit even
	// though the SKU is empty before the restock.
	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{
		Type:  domain.SaleTypeCash,
		Items: []domain.SaleItemRequest{{SKUID: "sku_b", Quantity: 1, Price: dec("25")}},
	})
	require.NoError(t, err)
	assertMoney(t, "125", account(t, repo, "acc_x").CashBalance, "cash after delta")
	assert.Equal(t, 0, skuStock(t, repo, "sku_b"))

	// Type switch: cash gives back 25, digital takes 25.
	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{
		Type:  domain.SaleTypeDigital,
		Items: []domain.SaleItemRequest{{SKUID: "sku_b", Quantity: 1, Price: dec("25")}},
	})
	require.NoError(t, err)
	assertMoney(t, "100", account(t, repo, "acc_x").CashBalance, "cash after switch")
	assertMoney(t, "525", account(t, repo, "acc_x").Balance, "balance after switch")
}

func TestUpdateSaleRejections(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	sell, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		AccountID: "acc_x",
		Type:      domain.SaleTypeCash,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 2, Price: dec("10")}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}}})
	require.ErrorIs(t, err, store.ErrValidation, "type is required on update")

	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{Type: domain.SaleTypeCash, Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 0, Price: dec("1")}}})
	require.ErrorIs(t, err, store.ErrInvalidQuantity)

	_, err = svc.UpdateSale(ctx, "sell_missing", domain.UpdateSaleRequest{Type: domain.SaleTypeCash, Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}}})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{Type: domain.SaleTypeCash, Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 8, Price: dec("1")}}})
	require.ErrorIs(t, err, store.ErrOutOfStock)

	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{AccountID: "acc_nope", Type: domain.SaleTypeCash, Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("1")}}})
	require.ErrorIs(t, err, store.ErrNotFound)

	// Failed updates leave the original sale in force.
	assert.Equal(t, 3, skuStock(t, repo, "sku_a"))
	assertMoney(t, "120", account(t, repo, "acc_x").CashBalance, "cash")
	stored, err := svc.GetSale(ctx, sell.ID)
	require.NoError(t, err)
	assertMoney(t, "20", stored.Total, "total")
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
}

func TestDeleteSaleNotFound(t *testing.T) {
	svc, _ := newTestService()
	require.ErrorIs(t, svc.DeleteSale(context.Background(), "sell_missing"), store.ErrNotFound)
}

func TestSaleSequenceKeepsLedgerAndStockConsistent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	start := account(t, repo, "acc_x")
	startTotal := start.Balance.Add(start.CashBalance)

	s1, err := svc.CreateSale(ctx, domain.CreateSaleRequest{AccountID: "acc_x", Type: domain.SaleTypeCash, Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 2, Price: dec("10")}}})
	require.NoError(t, err)
	s2, err := svc.CreateSale(ctx, domain.CreateSaleRequest{AccountID: "acc_x", Type: domain.SaleTypeDigital, Items: []domain.SaleItemRequest{{SKUID: "sku_a2", Quantity: 3, Price: dec("4.10")}}})
	require.NoError(t, err)
	_, err = svc.UpdateSale(ctx, s1.ID, domain.UpdateSaleRequest{Type: domain.SaleTypeDigital, Items: []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("10")}, {SKUID: "sku_a2", Quantity: 1, Price: dec("7")}}})
	require.NoError(t, err)
	s3, err := svc.CreateSale(ctx, domain.CreateSaleRequest{AccountID: "acc_x", Type: domain.SaleTypeCash, Items: []domain.SaleItemRequest{{SKUID: "sku_b", Quantity: 1, Price: dec("3")}}})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSale(ctx, s2.ID))

	// Committed sales: s1 (17 digital), s3 (3 cash).
	end := account(t, repo, "acc_x")
	assertMoney(t, startTotal.Add(dec("20")).String(), end.Balance.Add(end.CashBalance), "combined balances")

	reserved := map[string]int{}
	for _, id := range []string{s1.ID, s3.ID} {
		sell, err := svc.GetSale(ctx, id)
		require.NoError(t, err)
		for _, item := range sell.Items {
			reserved[item.SKUID] += item.Quantity
		}
	}
	assert.Equal(t, 5-reserved["sku_a"], skuStock(t, repo, "sku_a"))
	assert.Equal(t, 4-reserved["sku_a2"], skuStock(t, repo, "sku_a2"))
	assert.Equal(t, 1-reserved["sku_b"], skuStock(t, repo, "sku_b"))
	assert.Equal(t, skuStock(t, repo, "sku_a")+skuStock(t, repo, "sku_a2"), productStock(t, repo, "prod_p"))
	assert.Equal(t, skuStock(t, repo, "sku_b"), productStock(t, repo, "prod_q"))
}

func TestConcurrentSalesOnLastUnit(t *testing.T) {
	svc, repo := newTestService()

	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateSale(context.Background(), domain.CreateSaleRequest{
				AccountID: "acc_x",
				Type:      domain.SaleTypeCash,
				Items:     []domain.SaleItemRequest{{SKUID: "sku_b", Quantity: 1, Price: dec("5")}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, store.ErrOutOfStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, skuStock(t, repo, "sku_b"))
	assertMoney(t, "105", account(t, repo, "acc_x").CashBalance, "cash")
}

func TestDebtAndPaymentScenario(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{
		AccountID:     "acc_debt",
		CashAmount:    dec("30"),
		DigitalAmount: dec("20"),
		TakerName:     "Wanjiru",
		Details:       "school shoes",
	})
	require.NoError(t, err)
	assertMoney(t, "50", debt.AmountTaken, "amount taken")
	assertMoney(t, "50", debt.RemainingAmount, "remaining")
	assert.Equal(t, domain.DebtStatusTaken, debt.Status)

	acc := account(t, repo, "acc_debt")
	assertMoney(t, "480", acc.Balance, "balance after debt")
	assertMoney(t, "170", acc.CashBalance, "cash after debt")

	payment, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("50")})
	require.NoError(t, err)
	assertMoney(t, "50", payment.AmountPaid, "amount paid")
	assert.False(t, payment.PaymentDate.IsZero())

	got, err := svc.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assertMoney(t, "0", got.RemainingAmount, "remaining after payment")
	assert.Equal(t, domain.DebtStatusReturned, got.Status)
	require.Len(t, got.Payments, 1)

	acc = account(t, repo, "acc_debt")
	assertMoney(t, "480", acc.Balance, "balance after payment")
	assertMoney(t, "220", acc.CashBalance, "cash after payment")
}

func TestCreateDebtRejections(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt"})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("-5"), DigitalAmount: dec("10")})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CreateDebt(ctx, domain.CreateDebtRequest{CashAmount: dec("5")})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_nope", CashAmount: dec("5")})
	require.ErrorIs(t, err, store.ErrNotFound)

	acc := account(t, repo, "acc_debt")
	assertMoney(t, "500", acc.Balance, "balance")
	assertMoney(t, "200", acc.CashBalance, "cash")
}

func TestPaymentExceedingRemainingChangesNothing(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("30"), DigitalAmount: dec("20")})
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("10")})
	require.NoError(t, err)
	before := account(t, repo, "acc_debt")

	_, err = svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("30"), DigitalAmount: dec("10.01")})
	require.ErrorIs(t, err, store.ErrValidation)

	got, err := svc.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assertMoney(t, "40", got.RemainingAmount, "remaining")
	assert.Equal(t, domain.DebtStatusPartiallyReturned, got.Status)
	assert.Len(t, got.Payments, 1)
	after := account(t, repo, "acc_debt")
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.True(t, before.CashBalance.Equal(after.CashBalance))
}

func TestRecordPaymentRejections(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, "debt_missing", domain.PaymentRequest{CashAmount: dec("1")})
	require.ErrorIs(t, err, store.ErrNotFound)

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("10")})
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("5"), DigitalAmount: dec("-1")})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestUpdatePayment(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("30"), DigitalAmount: dec("20")})
	require.NoError(t, err)
	payment, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("40")})
	require.NoError(t, err)

	// 10 remains; the payment may grow to 40 + 10 but no further.
	_, err = svc.UpdatePayment(ctx, payment.ID, domain.PaymentRequest{CashAmount: dec("50.01")})
	require.ErrorIs(t, err, store.ErrValidation)

	updated, err := svc.UpdatePayment(ctx, payment.ID, domain.PaymentRequest{CashAmount: dec("20"), DigitalAmount: dec("30")})
	require.NoError(t, err)
	assertMoney(t, "50", updated.AmountPaid, "amount paid")
	assert.Equal(t, payment.PaymentDate, updated.PaymentDate)

	got, err := svc.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assertMoney(t, "0", got.RemainingAmount, "remaining")
	assert.Equal(t, domain.DebtStatusReturned, got.Status)

	acc := account(t, repo, "acc_debt")
	assertMoney(t, "510", acc.Balance, "balance")
	assertMoney(t, "190", acc.CashBalance, "cash")

	_, err = svc.UpdatePayment(ctx, "pay_missing", domain.PaymentRequest{CashAmount: dec("1")})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeletePaymentRestoresDebt(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("30"), DigitalAmount: dec("20")})
	require.NoError(t, err)
	payment, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("5"), DigitalAmount: dec("45")})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePayment(ctx, payment.ID))

	got, err := svc.GetDebt(ctx, debt.ID)
	require.NoError(t, err)
	assertMoney(t, "50", got.RemainingAmount, "remaining")
	assert.Equal(t, domain.DebtStatusPartiallyReturned, got.Status)
	assert.Empty(t, got.Payments)

	acc := account(t, repo, "acc_debt")
	assertMoney(t, "480", acc.Balance, "balance")
	assertMoney(t, "170", acc.CashBalance, "cash")

	require.ErrorIs(t, svc.DeletePayment(ctx, payment.ID), store.ErrNotFound)
}

func TestDeleteDebt(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("30"), DigitalAmount: dec("20")})
	require.NoError(t, err)
	payment, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("5")})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteDebt(ctx, debt.ID), store.ErrConflict)

	require.NoError(t, svc.DeletePayment(ctx, payment.ID))
	require.NoError(t, svc.DeleteDebt(ctx, debt.ID))

	acc := account(t, repo, "acc_debt")
	assertMoney(t, "500", acc.Balance, "balance")
	assertMoney(t, "200", acc.CashBalance, "cash")

	require.ErrorIs(t, svc.DeleteDebt(ctx, debt.ID), store.ErrNotFound)
}

func TestUpdateDebtAdjustsAccountPerField(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("30"), DigitalAmount: dec("20"), TakerName: "A"})
	require.NoError(t, err)

	updated, err := svc.UpdateDebt(ctx, debt.ID, domain.UpdateDebtRequest{CashAmount: dec("10"), DigitalAmount: dec("60"), TakerName: "B", Details: "new terms"})
	require.NoError(t, err)
	assertMoney(t, "70", updated.AmountTaken, "amount taken")
	assertMoney(t, "70", updated.RemainingAmount, "remaining")
	assert.Equal(t, "B", updated.TakerName)
	assert.Equal(t, "new terms", updated.Details)

	acc := account(t, repo, "acc_debt")
	assertMoney(t, "440", acc.Balance, "balance")
	assertMoney(t, "190", acc.CashBalance, "cash")

	_, err = svc.UpdateDebt(ctx, "debt_missing", domain.UpdateDebtRequest{CashAmount: dec("1")})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateDebtCannotDropBelowPaid(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("50")})
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("30")})
	require.NoError(t, err)

	_, err = svc.UpdateDebt(ctx, debt.ID, domain.UpdateDebtRequest{CashAmount: dec("20")})
	require.ErrorIs(t, err, store.ErrValidation)

	updated, err := svc.UpdateDebt(ctx, debt.ID, domain.UpdateDebtRequest{CashAmount: dec("40")})
	require.NoError(t, err)
	assertMoney(t, "10", updated.RemainingAmount, "remaining")
}

func TestUpdateDebtStatusRules(t *testing.T) {
	tests := []struct {
		name        string
		rule        DebtStatusRule
		pay         string
		newCash     string
		wantStatus  domain.DebtStatus
		wantRemains string
	}{
		{"amount taken rule without payments", StatusByAmountTaken, "", "40", domain.DebtStatusPartiallyReturned, "40"},
		{"amount taken rule with zero total", StatusByAmountTaken, "", "0", domain.DebtStatusReturned, "0"},
		{"remaining rule without payments", StatusByRemaining, "", "40", domain.DebtStatusTaken, "40"},
		{"remaining rule with payments", StatusByRemaining, "10", "40", domain.DebtStatusPartiallyReturned, "30"},
		{"remaining rule fully covered", StatusByRemaining, "10", "10", domain.DebtStatusReturned, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newServiceWithRepo(newTestStore(), nil, Options{DebtStatusRule: tt.rule})
			ctx := context.Background()

			debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("50")})
			require.NoError(t, err)
			if tt.pay != "" {
				_, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec(tt.pay)})
				require.NoError(t, err)
			}

			updated, err := svc.UpdateDebt(ctx, debt.ID, domain.UpdateDebtRequest{CashAmount: dec(tt.newCash)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, updated.Status)
			assertMoney(t, tt.wantRemains, updated.RemainingAmount, "remaining")
		})
	}
}

func TestDebtStatusTracksRemaining(t *testing.T) {
	svc := newServiceWithRepo(newTestStore(), nil, Options{DebtStatusRule: StatusByRemaining})
	ctx := context.Background()

	check := func(id string) {
		t.Helper()
		d, err := svc.GetDebt(ctx, id)
		require.NoError(t, err)
		returned := d.Status == domain.DebtStatusReturned
		settled := !d.RemainingAmount.IsPositive()
		if returned != settled {
			t.Fatalf("status %s with remaining %s", d.Status, d.RemainingAmount)
		}
	}

	debt, err := svc.CreateDebt(ctx, domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("20"), DigitalAmount: dec("5")})
	require.NoError(t, err)
	check(debt.ID)

	p1, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{CashAmount: dec("10")})
	require.NoError(t, err)
	check(debt.ID)

	p2, err := svc.RecordPayment(ctx, debt.ID, domain.PaymentRequest{DigitalAmount: dec("15")})
	require.NoError(t, err)
	check(debt.ID)

	_, err = svc.UpdatePayment(ctx, p2.ID, domain.PaymentRequest{DigitalAmount: dec("5")})
	require.NoError(t, err)
	check(debt.ID)

	_, err = svc.UpdateDebt(ctx, debt.ID, domain.UpdateDebtRequest{CashAmount: dec("15")})
	require.NoError(t, err)
	check(debt.ID)

	require.NoError(t, svc.DeletePayment(ctx, p1.ID))
	check(debt.ID)
}

// flakyRepo aborts the first fails transactions with a transient error.
type flakyRepo struct {
	store.Repository
	mu    sync.Mutex
	fails int
	calls int
}

func (r *flakyRepo) WithTx(ctx context.Context, opts store.TxOptions, fn store.TxFunc) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.fails
	r.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: could not serialize access", store.ErrTransient)
	}
	return r.Repository.WithTx(ctx, opts, fn)
}

func TestSalesRetryTransientFailures(t *testing.T) {
	base := newTestStore()
	repo := &flakyRepo{Repository: base, fails: 2}
	svc := newServiceWithRepo(repo, nil, Options{SaleAttempts: 3})

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		AccountID: "acc_x",
		Type:      domain.SaleTypeCash,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("10")}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	assertMoney(t, "110", account(t, base, "acc_x").CashBalance, "cash")
	assert.Equal(t, 4, skuStock(t, base, "sku_a"))
}

func TestSalesSurfaceExhaustedRetries(t *testing.T) {
	base := newTestStore()
	repo := &flakyRepo{Repository: base, fails: 5}
	svc := newServiceWithRepo(repo, nil, Options{SaleAttempts: 3})

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		AccountID: "acc_x",
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("10")}},
	})
	require.ErrorIs(t, err, ledger.ErrRetriesExhausted)
	require.ErrorIs(t, err, store.ErrTransient)
	assert.Contains(t, err.Error(), "could not serialize access")
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, 5, skuStock(t, base, "sku_a"))
}

func TestDebtAttemptsFollowConfiguration(t *testing.T) {
	single := &flakyRepo{Repository: newTestStore(), fails: 1}
	svc := newServiceWithRepo(single, nil, Options{DebtAttempts: 1})
	_, err := svc.CreateDebt(context.Background(), domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("10")})
	require.ErrorIs(t, err, store.ErrTransient)
	assert.False(t, errors.Is(err, ledger.ErrRetriesExhausted))
	assert.Equal(t, 1, single.calls)

	retried := &flakyRepo{Repository: newTestStore(), fails: 1}
	svc = newServiceWithRepo(retried, nil, Options{DebtAttempts: 3})
	_, err = svc.CreateDebt(context.Background(), domain.CreateDebtRequest{AccountID: "acc_debt", CashAmount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, 2, retried.calls)
}

func TestAccountCacheLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	accounts := cache.NewMockAccountCache(ctrl)
	svc := newServiceWithRepo(newTestStore(), accounts, Options{})
	ctx := context.Background()

	gomock.InOrder(
		accounts.EXPECT().Get(gomock.Any(), "acc_x").Return(nil, false, nil),
		accounts.EXPECT().Set(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, acc domain.Account) error {
			assert.Equal(t, "acc_x", acc.ID)
			return nil
		}),
		accounts.EXPECT().Invalidate(gomock.Any(), "acc_x").Return(nil),
		accounts.EXPECT().Get(gomock.Any(), "acc_x").Return(nil, false, errors.New("redis down")),
	)

	acc, err := svc.GetAccount(ctx, "acc_x")
	require.NoError(t, err)
	assertMoney(t, "100", acc.CashBalance, "cash")

	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{
		AccountID: "acc_x",
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("10")}},
	})
	require.NoError(t, err)

	accounts.EXPECT().Set(gomock.Any(), gomock.Any()).Return(nil)
	acc, err = svc.GetAccount(ctx, "acc_x")
	require.NoError(t, err)
	assertMoney(t, "110", acc.CashBalance, "cash after sale")
}

func TestCrossAccountUpdateInvalidatesBothAccounts(t *testing.T) {
	ctrl := gomock.NewController(t)
	accounts := cache.NewMockAccountCache(ctrl)
	svc := newServiceWithRepo(newTestStore(), accounts, Options{})
	ctx := context.Background()

	accounts.EXPECT().Invalidate(gomock.Any(), "acc_x").Return(nil).Times(2)
	accounts.EXPECT().Invalidate(gomock.Any(), "acc_y").Return(nil)

	sell, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		AccountID: "acc_x",
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("10")}},
	})
	require.NoError(t, err)
	_, err = svc.UpdateSale(ctx, sell.ID, domain.UpdateSaleRequest{
		AccountID: "acc_y",
		Type:      domain.SaleTypeCash,
		Items:     []domain.SaleItemRequest{{SKUID: "sku_a", Quantity: 1, Price: dec("10")}},
	})
	require.NoError(t, err)
}

func TestGetAccountCachedHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	accounts := cache.NewMockAccountCache(ctrl)
	svc := newServiceWithRepo(newTestStore(), accounts, Options{})

	accounts.EXPECT().Get(gomock.Any(), "acc_x").Return(&domain.Account{ID: "acc_x", CashBalance: dec("1")}, true, nil)

	acc, err := svc.GetAccount(context.Background(), "acc_x")
	require.NoError(t, err)
	assertMoney(t, "1", acc.CashBalance, "cached cash")
}
