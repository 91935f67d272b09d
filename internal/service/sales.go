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

func validateSaleItems(items []domain.SaleItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	for i, item := range items {
		if strings.TrimSpace(item.SKUID) == "" {
			return fmt.Errorf("%w: item %d: skuId is required", store.ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", store.ErrInvalidQuantity, i)
		}
		if !item.Price.IsPositive() {
			return fmt.Errorf("%w: item %d: price must be positive", store.ErrValidation, i)
		}
		if err := validateAmount(fmt.Sprintf("item %d price", i), item.Price); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sell, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		return domain.Sell{}, fmt.Errorf("%w: accountId is required", store.ErrValidation)
	}
	if req.Type == "" {
		req.Type = domain.SaleTypeCash
	}
	if !req.Type.Valid() {
		return domain.Sell{}, fmt.Errorf("%w: type must be cash or digital", store.ErrValidation)
	}
	if err := validateSaleItems(req.Items); err != nil {
		return domain.Sell{}, err
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = domain.DefaultSellStatus
	}
	actor, _ := ActorFromContext(ctx)

	op := ledger.Op{
		Name:     "sale.create",
		Attempts: s.opts.SaleAttempts,
		LockKeys: []string{lock.AccountKey(req.AccountID)},
	}
	sell, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (domain.Sell, error) {
		if _, err := tx.GetAccount(ctx, req.AccountID); err != nil {
			return domain.Sell{}, err
		}

		sellID := xid.New("sell")
		items, err := s.stock.ReserveItems(ctx, tx, sellID, req.Items)
		if err != nil {
			return domain.Sell{}, err
		}

		now := time.Now().UTC()
		sell := domain.Sell{
			ID:        sellID,
			UserID:    actor.UserID,
			AccountID: req.AccountID,
			Total:     domain.ItemsTotal(items),
			Type:      req.Type,
			Status:    status,
			Discount:  decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateSell(ctx, sell); err != nil {
			return domain.Sell{}, err
		}
		if err := tx.CreateSellItems(ctx, sell.ID, items); err != nil {
			return domain.Sell{}, err
		}

		effect := ledger.SaleEffectOf(sell)
		if _, err := ledger.Reconcile(ctx, tx, ledger.ApplySaleChange(nil, &effect)...); err != nil {
			return domain.Sell{}, err
		}
		sell.Items = items
		return sell, nil
	})
	if err != nil {
		return domain.Sell{}, err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"sell_id":    sell.ID,
		"account_id": sell.AccountID,
		"type":       sell.Type,
		"total":      sell.Total.String(),
	}, sell.AccountID)
	return sell, nil
}

// UpdateSale replaces the sale's lines, type and account. An empty
// AccountID keeps the current account; an empty Status keeps the current
// status.
func (s *Service) UpdateSale(ctx context.Context, id string, req domain.UpdateSaleRequest) (domain.Sell, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Sell{}, fmt.Errorf("%w: sale id is required", store.ErrValidation)
	}
	if req.Type == "" {
		return domain.Sell{}, fmt.Errorf("%w: type is required", store.ErrValidation)
	}
	if !req.Type.Valid() {
		return domain.Sell{}, fmt.Errorf("%w: type must be cash or digital", store.ErrValidation)
	}
	if err := validateSaleItems(req.Items); err != nil {
		return domain.Sell{}, err
	}
	req.AccountID = strings.TrimSpace(req.AccountID)

	lockKeys := make([]string, 0, 2)
	if req.AccountID != "" {
		lockKeys = append(lockKeys, lock.AccountKey(req.AccountID))
	}
	if current, err := s.repo.GetSell(ctx, id); err == nil {
		lockKeys = append(lockKeys, lock.AccountKey(current.AccountID))
	}

	type result struct {
		before domain.Sell
		after  domain.Sell
	}
	op := ledger.Op{Name: "sale.update", Attempts: s.opts.SaleAttempts, LockKeys: lockKeys}
	res, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (result, error) {
		existing, err := tx.GetSell(ctx, id)
		if err != nil {
			return result{}, err
		}
		before := *existing

		accountID := req.AccountID
		if accountID == "" {
			accountID = existing.AccountID
		}
		if accountID != existing.AccountID {
			if _, err := tx.GetAccount(ctx, accountID); err != nil {
				return result{}, err
			}
		}

		items, err := s.stock.ReplaceSaleItems(ctx, tx, existing, req.Items)
		if err != nil {
			return result{}, err
		}

		after := before
		after.AccountID = accountID
		after.Type = req.Type
		after.Total = domain.ItemsTotal(items)
		after.UpdatedAt = time.Now().UTC()
		if status := strings.TrimSpace(req.Status); status != "" {
			after.Status = status
		}
		after.Items = nil
		if err := tx.UpdateSell(ctx, after); err != nil {
			return result{}, err
		}

		prev, next := ledger.SaleEffectOf(before), ledger.SaleEffectOf(after)
		if _, err := ledger.Reconcile(ctx, tx, ledger.ApplySaleChange(&prev, &next)...); err != nil {
			return result{}, err
		}
		after.Items = items
		return result{before: before, after: after}, nil
	})
	if err != nil {
		return domain.Sell{}, err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"sell_id":        res.after.ID,
		"account_id":     res.after.AccountID,
		"old_account_id": res.before.AccountID,
		"type":           res.after.Type,
		"total":          res.after.Total.String(),
		"old_total":      res.before.Total.String(),
	}, res.before.AccountID, res.after.AccountID)
	return res.after, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: sale id is required", store.ErrValidation)
	}

	var lockKeys []string
	if current, err := s.repo.GetSell(ctx, id); err == nil {
		lockKeys = []string{lock.AccountKey(current.AccountID)}
	}

	op := ledger.Op{Name: "sale.delete", Attempts: s.opts.SaleAttempts, LockKeys: lockKeys}
	deleted, err := ledger.Run(ctx, s.exec, op, func(ctx context.Context, tx store.Tx) (domain.Sell, error) {
		existing, err := tx.GetSell(ctx, id)
		if err != nil {
			return domain.Sell{}, err
		}

		prev := ledger.SaleEffectOf(*existing)
		if _, err := ledger.Reconcile(ctx, tx, ledger.ApplySaleChange(&prev, nil)...); err != nil {
			return domain.Sell{}, err
		}
		if err := s.stock.ReleaseItems(ctx, tx, existing.Items); err != nil {
			return domain.Sell{}, err
		}
		if err := tx.DeleteSell(ctx, existing.ID); err != nil {
			return domain.Sell{}, err
		}
		return *existing, nil
	})
	if err != nil {
		return err
	}

	s.committed(ctx, op.Name, logrus.Fields{
		"sell_id":    deleted.ID,
		"account_id": deleted.AccountID,
		"total":      deleted.Total.String(),
	}, deleted.AccountID)
	return nil
}
