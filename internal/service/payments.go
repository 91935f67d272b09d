package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
	"posledger/internal/xid"
)

func validatePayment(req domain.PaymentRequest) (ledger.CashSplit, error) {
	split, err := validateSplit(req.CashAmount, req.DigitalAmount)
	if err != nil {
		return ledger.CashSplit{}, err
	}
	if !split.Total().IsPositive() {
		return ledger.CashSplit{}, fmt.Errorf("%w: amount paid must be greater than zero", store.ErrValidation)
	}
	return split, nil
}

type paymentResult struct {
	payment domain.DebtPayment
	debt    domain.Debt
}

func (s *Service) RecordPayment(ctx context.Context, debtID string, req domain.PaymentRequest) (domain.DebtPayment, error) {
	if strings.TrimSpace(debtID) == "" {
		return domain.DebtPayment{}, fmt.Errorf("%w: debt id is required", store.ErrValidation)
	}
	split, err := validatePayment(req)
	if err != nil {
		return domain.DebtPayment{}, err
	}

	op := ledger.Op{Name: "payment.create", Attempts: s.opts.DebtAttempts}
	res, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (paymentResult, error) {
		debt, err := tx.GetDebt(ctx, debtID)
		if err != nil {
			return paymentResult{}, err
		}

		amount := split.Total()
		if amount.GreaterThan(debt.RemainingAmount) {
			return paymentResult{}, fmt.Errorf("%w: amount paid %s exceeds remaining %s", store.ErrValidation, amount, debt.RemainingAmount)
		}

		payment := domain.DebtPayment{
			ID:            xid.New("pay"),
			DebtID:        debt.ID,
			AmountPaid:    amount,
			CashAmount:    split.Cash,
			DigitalAmount: split.Digital,
			PaymentDate:   time.Now().UTC(),
		}
		if err := tx.CreateDebtPayment(ctx, payment); err != nil {
			return paymentResult{}, err
		}

		debt.RemainingAmount = debt.RemainingAmount.Sub(amount)
		debt.Status = remainingStatus(debt.RemainingAmount)
		debt.UpdatedAt = payment.PaymentDate
		if err := tx.UpdateDebt(ctx, *debt); err != nil {
			return paymentResult{}, err
		}

		adj := ledger.ApplyPaymentChange(debt.AccountID, ledger.CashSplit{}, split)
		if _, err := ledger.Reconcile(ctx, tx, adj); err != nil {
			return paymentResult{}, err
		}
		return paymentResult{payment: payment, debt: *debt}, nil
	})
	if err != nil {
		return domain.DebtPayment{}, err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"payment_id": res.payment.ID,
		"debt_id":    res.debt.ID,
		"account_id": res.debt.AccountID,
		"amount":     res.payment.AmountPaid.String(),
		"remaining":  res.debt.RemainingAmount.String(),
	}, res.debt.AccountID)
	return res.payment, nil
}

// UpdatePayment replaces a payment's split. The new amount may use up what
// remains on the debt plus what this payment already covered.
func (s *Service) UpdatePayment(ctx context.Context, paymentID string, req domain.PaymentRequest) (domain.DebtPayment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return domain.DebtPayment{}, fmt.Errorf("%w: payment id is required", store.ErrValidation)
	}
	split, err := validatePayment(req)
	if err != nil {
		return domain.DebtPayment{}, err
	}

	op := ledger.Op{Name: "payment.update", Attempts: s.opts.DebtAttempts}
	res, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (paymentResult, error) {
		existing, err := tx.GetDebtPayment(ctx, paymentID)
		if err != nil {
			return paymentResult{}, err
		}
		debt, err := tx.GetDebt(ctx, existing.DebtID)
		if err != nil {
			return paymentResult{}, err
		}

		amount := split.Total()
		available := debt.RemainingAmount.Add(existing.AmountPaid)
		if amount.GreaterThan(available) {
			return paymentResult{}, fmt.Errorf("%w: amount paid %s exceeds remaining %s", store.ErrValidation, amount, available)
		}

		updated := *existing
		updated.AmountPaid = amount
		updated.CashAmount = split.Cash
		updated.DigitalAmount = split.Digital
		if err := tx.UpdateDebtPayment(ctx, updated); err != nil {
			return paymentResult{}, err
		}

		debt.RemainingAmount = available.Sub(amount)
		debt.Status = remainingStatus(debt.RemainingAmount)
		debt.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDebt(ctx, *debt); err != nil {
			return paymentResult{}, err
		}

		adj := ledger.ApplyPaymentChange(debt.AccountID, ledger.PaymentSplit(*existing), split)
		if _, err := ledger.Reconcile(ctx, tx, adj); err != nil {
			return paymentResult{}, err
		}
		return paymentResult{payment: updated, debt: *debt}, nil
	})
	if err != nil {
		return domain.DebtPayment{}, err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"payment_id": res.payment.ID,
		"debt_id":    res.debt.ID,
		"account_id": res.debt.AccountID,
		"amount":     res.payment.AmountPaid.String(),
		"remaining":  res.debt.RemainingAmount.String(),
	}, res.debt.AccountID)
	return res.payment, nil
}

func (s *Service) DeletePayment(ctx context.Context, paymentID string) error {
	if strings.TrimSpace(paymentID) == "" {
		return fmt.Errorf("%w: payment id is required", store.ErrValidation)
	}

	op := ledger.Op{Name: "payment.delete", Attempts: s.opts.DebtAttempts}
	res, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (paymentResult, error) {
		existing, err := tx.GetDebtPayment(ctx, paymentID)
		if err != nil {
			return paymentResult{}, err
		}
		debt, err := tx.GetDebt(ctx, existing.DebtID)
		if err != nil {
			return paymentResult{}, err
		}

		adj := ledger.ApplyPaymentChange(debt.AccountID, ledger.PaymentSplit(*existing), ledger.CashSplit{})
		if _, err := ledger.Reconcile(ctx, tx, adj); err != nil {
			return paymentResult{}, err
		}
		if err := tx.DeleteDebtPayment(ctx, existing.ID); err != nil {
			return paymentResult{}, err
		}

		debt.RemainingAmount = debt.RemainingAmount.Add(existing.AmountPaid)
		debt.Status = remainingStatus(debt.RemainingAmount)
		debt.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateDebt(ctx, *debt); err != nil {
			return paymentResult{}, err
		}
		return paymentResult{payment: *existing, debt: *debt}, nil
	})
	if err != nil {
		return err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"payment_id": res.payment.ID,
		"debt_id":    res.debt.ID,
		"account_id": res.debt.AccountID,
		"remaining":  res.debt.RemainingAmount.String(),
	}, res.debt.AccountID)
	return nil
}
