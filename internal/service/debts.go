package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// remainingStatus is the status rule shared by payments: a debt is
// returned once nothing remains.
func remainingStatus(remaining decimal.Decimal) domain.DebtStatus {
	if remaining.IsPositive() {
		return domain.DebtStatusPartiallyReturned
	}
	return domain.DebtStatusReturned
}

func (s *Service) editedDebtStatus(amountTaken, remaining decimal.Decimal, payments int) domain.DebtStatus {
	if s.opts.DebtStatusRule == StatusByRemaining {
		switch {
		case !remaining.IsPositive():
			return domain.DebtStatusReturned
		case payments == 0:
			return domain.DebtStatusTaken
		default:
			return domain.DebtStatusPartiallyReturned
		}
	}
	if amountTaken.IsPositive() {
		return domain.DebtStatusPartiallyReturned
	}
	return domain.DebtStatusReturned
}

func sumPaid(payments []domain.DebtPayment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.AmountPaid)
	}
	return total
}

func (s *Service) CreateDebt(ctx context.Context, req domain.CreateDebtRequest) (domain.Debt, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return domain.Debt{}, fmt.Errorf("%w: accountId is required", store.ErrValidation)
	}
	split, err := validateSplit(req.CashAmount, req.DigitalAmount)
	if err != nil {
		return domain.Debt{}, err
	}
	total := split.Total()
	if !total.IsPositive() {
		return domain.Debt{}, fmt.Errorf("%w: total amount must be greater than zero", store.ErrValidation)
	}

	op := ledger.Op{
		Name:     "debt.create",
		Attempts: s.opts.DebtAttempts,
		LockKeys: []string{lock.AccountKey(req.AccountID)},
	}
	debt, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (domain.Debt, error) {
		if _, err := tx.GetAccount(ctx, req.AccountID); err != nil {
			return domain.Debt{}, err
		}

		now := time.Now().UTC()
		debt := domain.Debt{
			ID:              xid.New("debt"),
			AccountID:       req.AccountID,
			UserID:          strings.TrimSpace(req.UserID),
			TakerName:       strings.TrimSpace(req.TakerName),
			Details:         strings.TrimSpace(req.Details),
			CashAmount:      split.Cash,
			DigitalAmount:   split.Digital,
			AmountTaken:     total,
			RemainingAmount: total,
			Status:          domain.DebtStatusTaken,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateDebt(ctx, debt); err != nil {
			return domain.Debt{}, err
		}
		adj := ledger.ApplyDebtChange(debt.AccountID, ledger.CashSplit{}, split)
		if _, err := ledger.Reconcile(ctx, tx, adj); err != nil {
			return domain.Debt{}, err
		}
		return debt, nil
	})
	if err != nil {
		return domain.Debt{}, err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"debt_id":    debt.ID,
		"account_id": debt.AccountID,
		"cash":       debt.CashAmount.String(),
		"digital":    debt.DigitalAmount.String(),
	}, debt.AccountID)
	return debt, nil
}

// UpdateDebt rewrites the debt's split and descriptive fields. The remaining
// amount is re-derived from the new amount taken minus what has already
// been paid.
func (s *Service) UpdateDebt(ctx context.Context, id string, req domain.UpdateDebtRequest) (domain.Debt, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Debt{}, fmt.Errorf("%w: debt id is required", store.ErrValidation)
	}
	split, err := validateSplit(req.CashAmount, req.DigitalAmount)
	if err != nil {
		return domain.Debt{}, err
	}

	op := ledger.Op{Name: "debt.update", Attempts: s.opts.DebtAttempts}
	debt, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (domain.Debt, error) {
		existing, err := tx.GetDebt(ctx, id)
		if err != nil {
			return domain.Debt{}, err
		}
		payments, err := tx.ListDebtPayments(ctx, id)
		if err != nil {
			return domain.Debt{}, err
		}

		newTotal := split.Total()
		paid := sumPaid(payments)
		if paid.GreaterThan(newTotal) {
			return domain.Debt{}, fmt.Errorf("%w: payments of %s exceed new amount %s", store.ErrValidation, paid, newTotal)
		}
		remaining := newTotal.Sub(paid)

		updated := *existing
		updated.CashAmount = split.Cash
		updated.DigitalAmount = split.Digital
		updated.AmountTaken = newTotal
		updated.RemainingAmount = remaining
		updated.Status = s.editedDebtStatus(newTotal, remaining, len(payments))
		updated.TakerName = strings.TrimSpace(req.TakerName)
		updated.Details = strings.TrimSpace(req.Details)
		if userID := strings.TrimSpace(req.UserID); userID != "" {
			updated.UserID = userID
		}
		updated.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDebt(ctx, updated); err != nil {
			return domain.Debt{}, err
		}

		adj := ledger.ApplyDebtChange(existing.AccountID, ledger.DebtSplit(*existing), split)
		if _, err := ledger.Reconcile(ctx, tx, adj); err != nil {
			return domain.Debt{}, err
		}
		updated.Payments = payments
		return updated, nil
	})
	if err != nil {
		return domain.Debt{}, err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"debt_id":    debt.ID,
		"account_id": debt.AccountID,
		"status":     debt.Status,
		"remaining":  debt.RemainingAmount.String(),
	}, debt.AccountID)
	return debt, nil
}

func (s *Service) DeleteDebt(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: debt id is required", store.ErrValidation)
	}

	op := ledger.Op{Name: "debt.delete", Attempts: s.opts.DebtAttempts}
	deleted, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (domain.Debt, error) {
		existing, err := tx.GetDebt(ctx, id)
		if err != nil {
			return domain.Debt{}, err
		}
		payments, err := tx.ListDebtPayments(ctx, id)
		if err != nil {
			return domain.Debt{}, err
		}
		if len(payments) > 0 {
			return domain.Debt{}, fmt.Errorf("%w: debt %s has %d payments", store.ErrConflict, id, len(payments))
		}

		adj := ledger.ApplyDebtChange(existing.AccountID, ledger.DebtSplit(*existing), ledger.CashSplit{})
		if _, err := ledger.Reconcile(ctx, tx, adj); err != nil {
			return domain.Debt{}, err
		}
		if err := tx.DeleteDebt(ctx, id); err != nil {
			return domain.Debt{}, err
		}
		return *existing, nil
	})
	if err != nil {
		return err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"debt_id":    deleted.ID,
		"account_id": deleted.AccountID,
	}, deleted.AccountID)
	return nil
}
