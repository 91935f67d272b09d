package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"posledger/internal/domain"
	"posledger/internal/store"
)

// SaleEffect is the monetary footprint of a sale: the whole amount lands on
// one account in exactly one balance field selected by Type.
type SaleEffect struct {
	AccountID string
	Type      domain.SaleType
	Amount    decimal.Decimal
}

func SaleEffectOf(s domain.Sell) SaleEffect {
	return SaleEffect{AccountID: s.AccountID, Type: s.Type, Amount: s.Total}
}

// CashSplit is the dual-field amount carried by debts and payments. Both
// fields are always present and move independently.
type CashSplit struct {
	Cash    decimal.Decimal
	Digital decimal.Decimal
}

func (c CashSplit) Total() decimal.Decimal {
	return c.Cash.Add(c.Digital)
}

func DebtSplit(d domain.Debt) CashSplit {
	return CashSplit{Cash: d.CashAmount, Digital: d.DigitalAmount}
}

func PaymentSplit(p domain.DebtPayment) CashSplit {
	return CashSplit{Cash: p.CashAmount, Digital: p.DigitalAmount}
}

type Balances struct {
	Balance     decimal.Decimal
	CashBalance decimal.Decimal
}

func BalancesOf(a domain.Account) Balances {
	return Balances{Balance: a.Balance, CashBalance: a.CashBalance}
}

// Adjustment is a signed change to one account. Digital moves Balance, Cash
// moves CashBalance.
type Adjustment struct {
	AccountID string
	Digital   decimal.Decimal
	Cash      decimal.Decimal
}

func (a Adjustment) IsZero() bool {
	return a.Digital.IsZero() && a.Cash.IsZero()
}

// Apply returns b shifted by adj. No floor is enforced.
func (b Balances) Apply(adj Adjustment) Balances {
	return Balances{
		Balance:     b.Balance.Add(adj.Digital),
		CashBalance: b.CashBalance.Add(adj.Cash),
	}
}

func saleAdjustment(accountID string, t domain.SaleType, amount decimal.Decimal) Adjustment {
	adj := Adjustment{AccountID: accountID, Digital: decimal.Zero, Cash: decimal.Zero}
	if t == domain.SaleTypeCash {
		adj.Cash = amount
	} else {
		adj.Digital = amount
	}
	return adj
}

// ApplySaleChange computes the account adjustments that move a sale from
// prev to next. A nil prev means creation; a nil next means deletion.
//
// Same account collapses into one adjustment (a delta when the type is
// unchanged, a swap between fields when it is not). A change of account
// yields two adjustments: the old amount leaves the old account and the new
// amount lands on the new one.
func ApplySaleChange(prev, next *SaleEffect) []Adjustment {
	switch {
	case prev == nil && next == nil:
		return nil
	case prev == nil:
		return []Adjustment{saleAdjustment(next.AccountID, next.Type, next.Amount)}
	case next == nil:
		return []Adjustment{saleAdjustment(prev.AccountID, prev.Type, prev.Amount.Neg())}
	case prev.AccountID == next.AccountID:
		out := saleAdjustment(next.AccountID, next.Type, next.Amount)
		rev := saleAdjustment(prev.AccountID, prev.Type, prev.Amount.Neg())
		out.Cash = out.Cash.Add(rev.Cash)
		out.Digital = out.Digital.Add(rev.Digital)
		return []Adjustment{out}
	default:
		return []Adjustment{
			saleAdjustment(prev.AccountID, prev.Type, prev.Amount.Neg()),
			saleAdjustment(next.AccountID, next.Type, next.Amount),
		}
	}
}

// ApplyDebtChange moves money out of the account as credit is extended.
// Creation passes a zero prev split, deletion a zero next split.
func ApplyDebtChange(accountID string, prev, next CashSplit) Adjustment {
	return Adjustment{
		AccountID: accountID,
		Digital:   prev.Digital.Sub(next.Digital),
		Cash:      prev.Cash.Sub(next.Cash),
	}
}

// ApplyPaymentChange is the mirror of ApplyDebtChange: repaid money flows
// back into the account.
func ApplyPaymentChange(accountID string, prev, next CashSplit) Adjustment {
	return Adjustment{
		AccountID: accountID,
		Digital:   next.Digital.Sub(prev.Digital),
		Cash:      next.Cash.Sub(prev.Cash),
	}
}

// Reconcile persists adjustments through tx. Adjustments to the same account
// are merged and accounts are written in id order so concurrent cross-account
// transfers lock rows in a stable sequence.
func Reconcile(ctx context.Context, tx store.Tx, adjs ...Adjustment) ([]domain.Account, error) {
	merged := make(map[string]Adjustment, len(adjs))
	ids := make([]string, 0, len(adjs))
	for _, adj := range adjs {
		cur, seen := merged[adj.AccountID]
		if !seen {
			ids = append(ids, adj.AccountID)
			cur = Adjustment{AccountID: adj.AccountID, Digital: decimal.Zero, Cash: decimal.Zero}
		}
		cur.Digital = cur.Digital.Add(adj.Digital)
		cur.Cash = cur.Cash.Add(adj.Cash)
		merged[adj.AccountID] = cur
	}
	sort.Strings(ids)

	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := tx.GetAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reconcile account %s: %w", id, err)
		}
		next := BalancesOf(*acc).Apply(merged[id])
		if err := tx.UpdateAccountBalances(ctx, id, next.Balance, next.CashBalance); err != nil {
			return nil, fmt.Errorf("reconcile account %s: %w", id, err)
		}
		acc.Balance = next.Balance
		acc.CashBalance = next.CashBalance
		out = append(out, *acc)
	}
	return out, nil
}
