// Package returns handles customer returns against completed sales. Stock
// comes back only when an admin approves, exactly once.
package returns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

type Processor struct {
	repo   store.ReturnReader
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

func New(repo store.ReturnReader, l *ledger.Ledger, log *zap.Logger) *Processor {
	return &Processor{
		repo:   repo,
		ledger: l,
		logger: logger.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type saleLine struct {
	qty            int
	unitPriceCents int64
}

// Create records a pending return. Quantities are bounded by what the sale
// sold minus what pending and completed returns already claim, and refunds
// use the sale's price snapshot.
func (p *Processor) Create(ctx context.Context, req domain.ReturnCreateRequest, actor string) (domain.Return, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" || len(req.Items) == 0 {
		return domain.Return{}, fmt.Errorf("%w: reason and items are required", store.ErrInvalidTransaction)
	}
	requested := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" || item.Qty < 1 {
			return domain.Return{}, fmt.Errorf("%w: every returned line needs a sku and qty of at least 1", store.ErrInvalidTransaction)
		}
		requested[sku] += item.Qty
	}
	skus := make([]string, 0, len(requested))
	for sku := range requested {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	var created domain.Return
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, strings.TrimSpace(req.SaleID))
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCompleted {
			return fmt.Errorf("%w: sale %s is %s, only completed sales accept returns", store.ErrInvalidTransaction, sale.ID, sale.Status)
		}

		sold := make(map[string]saleLine, len(sale.Items))
		for _, item := range sale.Items {
			line := sold[item.SKU]
			if line.qty == 0 {
				line.unitPriceCents = item.UnitPriceCents
			}
			line.qty += item.Qty
			sold[item.SKU] = line
		}
		already, err := tx.ReturnedQtyBySale(ctx, sale.ID)
		if err != nil {
			return err
		}

		ret := domain.Return{
			ID:           xid.New("ret"),
			SaleID:       sale.ID,
			StoreID:      sale.StoreID,
			Reason:       reason,
			RefundMethod: strings.TrimSpace(req.RefundMethod),
			Status:       domain.ReturnStatusPending,
			RequestedBy:  actor,
			CreatedAt:    p.now(),
		}
		for _, sku := range skus {
			qty := requested[sku]
			line, ok := sold[sku]
			if !ok {
				return fmt.Errorf("%w: %s was not sold on %s", store.ErrInvalidTransaction, sku, sale.ID)
			}
			if available := line.qty - already[sku]; qty > available {
				return fmt.Errorf("%w: %s can return at most %d", store.ErrInvalidTransaction, sku, available)
			}
			lineRefund := int64(qty) * line.unitPriceCents
			ret.RefundCents += lineRefund
			ret.Items = append(ret.Items, domain.ReturnItem{
				SKU:             sku,
				Qty:             qty,
				UnitPriceCents:  line.unitPriceCents,
				LineRefundCents: lineRefund,
			})
		}
		if err := tx.InsertReturn(ctx, ret); err != nil {
			return err
		}
		created = ret
		return nil
	})
	if err != nil {
		return domain.Return{}, err
	}
	return created, nil
}

// Approve restores stock and books the refund against the sale in one unit.
// Anything but a pending return yields ErrAlreadyProcessed and no writes.
func (p *Processor) Approve(ctx context.Context, returnID string, actor string, note string) (domain.Return, error) {
	var out domain.Return
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		ret, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		out = *ret
		if ret.Status != domain.ReturnStatusPending || ret.StockRestored {
			return store.ErrAlreadyProcessed
		}

		movements := make([]ledger.Movement, 0, len(ret.Items))
		for _, item := range ret.Items {
			movements = append(movements, ledger.Movement{
				StoreID:       ret.StoreID,
				SKU:           item.SKU,
				Type:          domain.MovementSaleReturn,
				Delta:         item.Qty,
				ReferenceType: domain.RefTypeReturn,
				ReferenceID:   ret.ID,
				Actor:         actor,
				Notes:         ret.Reason,
			})
		}
		if _, err := p.ledger.ApplyTx(ctx, tx, movements...); err != nil {
			return err
		}

		sale, err := tx.LockSale(ctx, ret.SaleID)
		if err != nil {
			return err
		}
		sale.RefundedCents += ret.RefundCents
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}

		now := p.now()
		ret.Status = domain.ReturnStatusCompleted
		ret.StockRestored = true
		ret.DecidedBy = actor
		ret.DecisionNote = strings.TrimSpace(note)
		ret.DecidedAt = &now
		if err := tx.UpdateReturn(ctx, *ret); err != nil {
			return err
		}
		out = *ret
		return nil
	})
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return out, err
	}
	if err != nil {
		return domain.Return{}, err
	}

	p.logger.Info("return approved",
		zap.String("return_id", out.ID),
		zap.String("sale_id", out.SaleID),
		zap.Int64("refund_cents", out.RefundCents),
	)
	return out, nil
}

// Reject closes a pending return without touching stock.
func (p *Processor) Reject(ctx context.Context, returnID string, actor string, note string) (domain.Return, error) {
	var out domain.Return
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		ret, err := tx.LockReturn(ctx, returnID)
		if err != nil {
			return err
		}
		out = *ret
		if ret.Status != domain.ReturnStatusPending {
			return store.ErrAlreadyProcessed
		}
		now := p.now()
		ret.Status = domain.ReturnStatusRejected
		ret.DecidedBy = actor
		ret.DecisionNote = strings.TrimSpace(note)
		ret.DecidedAt = &now
		if err := tx.UpdateReturn(ctx, *ret); err != nil {
			return err
		}
		out = *ret
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrAlreadyProcessed) {
		return domain.Return{}, err
	}
	return out, err
}

func (p *Processor) Get(ctx context.Context, returnID string) (*domain.Return, error) {
	return p.repo.GetReturn(ctx, returnID)
}

func (p *Processor) List(ctx context.Context, status string, limit int) ([]domain.Return, error) {
	return p.repo.ListReturns(ctx, strings.TrimSpace(status), limit)
}
