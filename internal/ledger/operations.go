package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

// Adjust posts a manual correction, damage or expiry write-off.
func (l *Ledger) Adjust(ctx context.Context, req domain.StockAdjustmentRequest, actor string) (domain.StockMovement, error) {
	if req.Qty < 1 {
		return domain.StockMovement{}, fmt.Errorf("%w: qty must be positive", store.ErrInvalidTransaction)
	}
	delta := -req.Qty
	switch req.Type {
	case domain.MovementAdjustmentIn:
		delta = req.Qty
	case domain.MovementAdjustmentOut, domain.MovementDamaged, domain.MovementExpired:
	default:
		return domain.StockMovement{}, fmt.Errorf("%w: %q is not an adjustment type", store.ErrInvalidTransaction, req.Type)
	}

	return l.ApplyMovement(ctx, Movement{
		StoreID:       req.StoreID,
		SKU:           strings.TrimSpace(req.SKU),
		Type:          req.Type,
		Delta:         delta,
		ReferenceType: domain.RefTypeAdjustment,
		ReferenceID:   xid.New("adj"),
		Actor:         actor,
		Notes:         strings.TrimSpace(req.Notes),
	})
}

// Transfer moves stock between two stores in one unit.
func (l *Ledger) Transfer(ctx context.Context, req domain.StockTransferRequest, actor string) ([]domain.StockMovement, error) {
	if req.Qty < 1 {
		return nil, fmt.Errorf("%w: qty must be positive", store.ErrInvalidTransaction)
	}
	if req.FromStoreID == "" || req.ToStoreID == "" || req.FromStoreID == req.ToStoreID {
		return nil, fmt.Errorf("%w: transfer needs two different stores", store.ErrInvalidTransaction)
	}

	transferID := xid.New("trf")
	notes := strings.TrimSpace(req.Notes)
	var entries []domain.StockMovement
	err := l.RunAtomic(ctx, func(tx store.Tx) error {
		var err error
		entries, err = l.ApplyTx(ctx, tx,
			Movement{
				StoreID:       req.FromStoreID,
				SKU:           req.SKU,
				Type:          domain.MovementTransferOut,
				Delta:         -req.Qty,
				ReferenceType: domain.RefTypeTransfer,
				ReferenceID:   transferID,
				Actor:         actor,
				Notes:         notes,
			},
			Movement{
				StoreID:       req.ToStoreID,
				SKU:           req.SKU,
				Type:          domain.MovementTransferIn,
				Delta:         req.Qty,
				ReferenceType: domain.RefTypeTransfer,
				ReferenceID:   transferID,
				Actor:         actor,
				Notes:         notes,
			},
		)
		return err
	})
	return entries, err
}

// Recount reconciles counted quantities with the counters. Only differences
// produce movements.
func (l *Ledger) Recount(ctx context.Context, req domain.StockCountRequest, actor string) (domain.StockCountResponse, error) {
	if len(req.Items) == 0 {
		return domain.StockCountResponse{}, fmt.Errorf("%w: stock count needs items", store.ErrInvalidTransaction)
	}
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" || item.CountedQty < 0 {
			return domain.StockCountResponse{}, fmt.Errorf("%w: invalid count line", store.ErrInvalidTransaction)
		}
		if seen[sku] {
			return domain.StockCountResponse{}, fmt.Errorf("%w: %s counted twice", store.ErrInvalidTransaction, sku)
		}
		seen[sku] = true
	}

	items := append([]domain.StockCountItem(nil), req.Items...)
	sort.Slice(items, func(i, j int) bool { return strings.TrimSpace(items[i].SKU) < strings.TrimSpace(items[j].SKU) })

	countID := xid.New("count")
	notes := strings.TrimSpace(req.Notes)
	var entries []domain.StockMovement
	err := l.RunAtomic(ctx, func(tx store.Tx) error {
		entries = entries[:0]
		movements := make([]Movement, 0, len(req.Items))
		for _, item := range items {
			sku := strings.TrimSpace(item.SKU)
			level, err := tx.LockStock(ctx, req.StoreID, sku)
			if err != nil {
				return err
			}
			diff := item.CountedQty - level.OnHand
			if diff == 0 {
				continue
			}
			movementType := domain.MovementAdjustmentIn
			if diff < 0 {
				movementType = domain.MovementAdjustmentOut
			}
			movements = append(movements, Movement{
				StoreID:       req.StoreID,
				SKU:           sku,
				Type:          movementType,
				Delta:         diff,
				ReferenceType: domain.RefTypeStockCount,
				ReferenceID:   countID,
				Actor:         actor,
				Notes:         notes,
			})
		}
		posted, err := l.ApplyTx(ctx, tx, movements...)
		if err != nil {
			return err
		}
		entries = append(entries, posted...)
		return nil
	})
	if err != nil {
		return domain.StockCountResponse{}, err
	}

	return domain.StockCountResponse{
		CountID:   countID,
		StoreID:   req.StoreID,
		Movements: entries,
		CreatedAt: l.now().Format(time.RFC3339),
	}, nil
}

func (l *Ledger) History(ctx context.Context, storeID string, sku string, limit int) ([]domain.StockMovement, error) {
	return l.repo.ListMovements(ctx, storeID, sku, limit)
}

func (l *Ledger) LowStock(ctx context.Context, storeID string) ([]domain.StockLevel, error) {
	return l.repo.ListLowStock(ctx, storeID)
}

func (l *Ledger) Level(ctx context.Context, storeID string, sku string) (domain.StockLevel, error) {
	return l.repo.GetStockLevel(ctx, storeID, sku)
}
