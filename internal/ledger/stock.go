package ledger

import (
	"context"
	"fmt"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// StockAdjuster keeps SKU stock in step with sale line items. Every SKU
// mutation is followed by a full recompute of the owning product's
// aggregate stock.
type StockAdjuster struct{}

// Reserve takes qty units out of the SKU.
func (StockAdjuster) Reserve(ctx context.Context, tx store.Tx, skuID string, qty int) (*domain.SKU, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: sku %s quantity %d", store.ErrInvalidQuantity, skuID, qty)
	}
	sku, err := tx.GetSKU(ctx, skuID)
	if err != nil {
		return nil, err
	}
	if sku.StockQuantity == 0 {
		return nil, fmt.Errorf("%w: sku %s", store.ErrOutOfStock, sku.SKU)
	}
	if qty == 0 {
		return nil, fmt.Errorf("%w: sku %s requested zero units", store.ErrOutOfStock, sku.SKU)
	}
	if sku.StockQuantity < qty {
		return nil, fmt.Errorf("%w: sku %s has %d, requested %d", store.ErrOutOfStock, sku.SKU, sku.StockQuantity, qty)
	}

	sku.StockQuantity -= qty
	if err := tx.SetSKUStock(ctx, sku.ID, sku.StockQuantity); err != nil {
		return nil, err
	}
	if err := recomputeProduct(ctx, tx, sku.ProductID); err != nil {
		return nil, err
	}
	return sku, nil
}

// Release puts qty units back on the SKU.
func (StockAdjuster) Release(ctx context.Context, tx store.Tx, skuID string, qty int) (*domain.SKU, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: sku %s quantity %d", store.ErrInvalidQuantity, skuID, qty)
	}
	sku, err := tx.GetSKU(ctx, skuID)
	if err != nil {
		return nil, err
	}

	sku.StockQuantity += qty
	if err := tx.SetSKUStock(ctx, sku.ID, sku.StockQuantity); err != nil {
		return nil, err
	}
	if err := recomputeProduct(ctx, tx, sku.ProductID); err != nil {
		return nil, err
	}
	return sku, nil
}

// ReserveItems reserves stock for each requested line and returns the line
// items ready to persist under sellID.
func (a StockAdjuster) ReserveItems(ctx context.Context, tx store.Tx, sellID string, reqs []domain.SaleItemRequest) ([]domain.SellItem, error) {
	items := make([]domain.SellItem, 0, len(reqs))
	for _, req := range reqs {
		sku, err := a.Reserve(ctx, tx, req.SKUID, req.Quantity)
		if err != nil {
			return nil, err
		}
		if req.ProductID != "" && req.ProductID != sku.ProductID {
			return nil, fmt.Errorf("%w: sku %s belongs to product %s, not %s", store.ErrValidation, sku.ID, sku.ProductID, req.ProductID)
		}
		items = append(items, domain.SellItem{
			ID:        xid.New("item"),
			SellID:    sellID,
			ProductID: sku.ProductID,
			SKUID:     sku.ID,
			Price:     req.Price,
			Quantity:  req.Quantity,
		})
	}
	return items, nil
}

// ReleaseItems restocks every line of a sale.
func (a StockAdjuster) ReleaseItems(ctx context.Context, tx store.Tx, items []domain.SellItem) error {
	for _, item := range items {
		if _, err := a.Release(ctx, tx, item.SKUID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSaleItems fully restocks the sale's current lines before reserving
// the new ones, so a line can shrink or move to another SKU without tripping
// over its own earlier reservation.
func (a StockAdjuster) ReplaceSaleItems(ctx context.Context, tx store.Tx, sell *domain.Sell, reqs []domain.SaleItemRequest) ([]domain.SellItem, error) {
	if err := a.ReleaseItems(ctx, tx, sell.Items); err != nil {
		return nil, err
	}
	if err := tx.DeleteSellItems(ctx, sell.ID); err != nil {
		return nil, err
	}
	items, err := a.ReserveItems(ctx, tx, sell.ID, reqs)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateSellItems(ctx, sell.ID, items); err != nil {
		return nil, err
	}
	return items, nil
}

func recomputeProduct(ctx context.Context, tx store.Tx, productID string) error {
	total, err := tx.SumProductStock(ctx, productID)
	if err != nil {
		return fmt.Errorf("recompute product %s: %w", productID, err)
	}
	if err := tx.SetProductStock(ctx, productID, total); err != nil {
		return fmt.Errorf("recompute product %s: %w", productID, err)
	}
	return nil
}
