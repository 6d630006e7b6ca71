// Package receiving runs the purchase order lifecycle and turns deliveries
// into goods received notes and purchase_receipt movements.
package receiving

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

const grnSequence = "grn"

type Store interface {
	store.PurchasingStore
	store.CatalogReader
}

type Processor struct {
	repo   Store
	ledger *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

func New(repo Store, l *ledger.Ledger, log *zap.Logger) *Processor {
	return &Processor{
		repo:   repo,
		ledger: l,
		logger: logger.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GRNNumber formats a goods received note number such as GRN-20260504-000042.
func GRNNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("GRN-%s-%06d", day.Format("20060102"), seq)
}

// Create stores a draft purchase order for a known supplier.
func (p *Processor) Create(ctx context.Context, req domain.PurchaseOrderCreateRequest, actor string) (domain.PurchaseOrder, error) {
	if strings.TrimSpace(req.StoreID) == "" || strings.TrimSpace(req.SupplierID) == "" || len(req.Items) == 0 {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: store, supplier and items are required", store.ErrInvalidTransaction)
	}
	if _, err := p.repo.GetSupplier(ctx, req.SupplierID); err != nil {
		return domain.PurchaseOrder{}, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	skus := make([]string, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" || item.OrderedQty < 1 || item.UnitCostCents < 1 {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: invalid purchase order line", store.ErrInvalidTransaction)
		}
		if seen[sku] {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: %s ordered twice", store.ErrInvalidTransaction, sku)
		}
		seen[sku] = true
		skus = append(skus, sku)
		items = append(items, domain.PurchaseOrderItem{SKU: sku, OrderedQty: item.OrderedQty, UnitCostCents: item.UnitCostCents})
	}
	products, err := p.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	for _, sku := range skus {
		if _, ok := products[sku]; !ok {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: unknown sku %s", store.ErrInvalidTransaction, sku)
		}
	}

	saved, err := p.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		ID:         xid.New("po"),
		StoreID:    req.StoreID,
		SupplierID: req.SupplierID,
		Status:     domain.POStatusDraft,
		CreatedBy:  actor,
		CreatedAt:  p.now(),
		Items:      items,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *saved, nil
}

// Send moves a draft order to sent.
func (p *Processor) Send(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrder, error) {
	return p.transition(ctx, purchaseOrderID, func(po *domain.PurchaseOrder, now time.Time) error {
		if po.Status != domain.POStatusDraft {
			return fmt.Errorf("%w: purchase order is %s, only draft can be sent", store.ErrInvalidTransaction, po.Status)
		}
		po.Status = domain.POStatusSent
		po.SentAt = &now
		return nil
	})
}

// Cancel closes a sent or partially received order. Goods already received stay in stock.
func (p *Processor) Cancel(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrder, error) {
	return p.transition(ctx, purchaseOrderID, func(po *domain.PurchaseOrder, now time.Time) error {
		switch po.Status {
		case domain.POStatusSent, domain.POStatusPartiallyReceived:
		default:
			return fmt.Errorf("%w: purchase order is %s and cannot be cancelled", store.ErrInvalidTransaction, po.Status)
		}
		po.Status = domain.POStatusCancelled
		po.CancelledAt = &now
		return nil
	})
}

func (p *Processor) transition(ctx context.Context, purchaseOrderID string, apply func(po *domain.PurchaseOrder, now time.Time) error) (domain.PurchaseOrder, error) {
	var out domain.PurchaseOrder
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, purchaseOrderID)
		if err != nil {
			return err
		}
		if err := apply(po, p.now()); err != nil {
			return err
		}
		if err := tx.UpdatePurchaseOrder(ctx, *po); err != nil {
			return err
		}
		out = *po
		return nil
	})
	return out, err
}

// Receive records one delivery against a purchase order. Every line is
// validated before anything is written; received quantities enter the stock
// ledger, rejected ones are only kept on the note.
func (p *Processor) Receive(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderReceiveRequest, actor string) (domain.ReceiveResponse, error) {
	if len(req.Lines) == 0 {
		return domain.ReceiveResponse{}, fmt.Errorf("%w: receive needs at least one line", store.ErrInvalidTransaction)
	}
	receivedBy := strings.TrimSpace(req.ReceivedBy)
	if receivedBy == "" {
		receivedBy = actor
	}

	var resp domain.ReceiveResponse
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, purchaseOrderID)
		if err != nil {
			return err
		}
		switch po.Status {
		case domain.POStatusSent, domain.POStatusPartiallyReceived:
		default:
			return fmt.Errorf("%w: purchase order is %s and cannot receive goods", store.ErrInvalidTransaction, po.Status)
		}

		index := make(map[string]int, len(po.Items))
		for i, item := range po.Items {
			index[item.SKU] = i
		}
		seen := make(map[string]bool, len(req.Lines))
		for _, line := range req.Lines {
			sku := strings.TrimSpace(line.SKU)
			i, ok := index[sku]
			if !ok {
				return fmt.Errorf("%w: %s is not on purchase order %s", store.ErrInvalidTransaction, sku, po.ID)
			}
			if seen[sku] {
				return fmt.Errorf("%w: %s received twice in one delivery", store.ErrInvalidTransaction, sku)
			}
			seen[sku] = true
			if line.ReceivedQty < 0 || line.RejectedQty < 0 {
				return fmt.Errorf("%w: quantities must not be negative", store.ErrInvalidTransaction)
			}
			if remaining := po.Items[i].RemainingQty(); line.ReceivedQty+line.RejectedQty > remaining {
				return fmt.Errorf("%w: %s delivers %d but only %d remain", store.ErrInvalidTransaction, sku, line.ReceivedQty+line.RejectedQty, remaining)
			}
		}

		now := p.now()
		seq, err := tx.NextSequence(ctx, grnSequence)
		if err != nil {
			return err
		}
		note := domain.DeliveryNote{
			ID:              xid.New("grn"),
			GRNNumber:       GRNNumber(now, seq),
			PurchaseOrderID: po.ID,
			StoreID:         po.StoreID,
			Status:          domain.GRNStatusPending,
			Notes:           strings.TrimSpace(req.Notes),
			ReceivedBy:      receivedBy,
			CreatedAt:       now,
		}

		movements := make([]ledger.Movement, 0, len(req.Lines))
		movementLine := make([]int, 0, len(req.Lines))
		for _, line := range req.Lines {
			sku := strings.TrimSpace(line.SKU)
			item := &po.Items[index[sku]]
			lineTotal := int64(line.ReceivedQty) * item.UnitCostCents
			note.TotalCents += lineTotal
			note.Items = append(note.Items, domain.DeliveryNoteItem{
				SKU:            sku,
				ReceivedQty:    line.ReceivedQty,
				RejectedQty:    line.RejectedQty,
				RejectReason:   strings.TrimSpace(line.RejectReason),
				UnitCostCents:  item.UnitCostCents,
				LineTotalCents: lineTotal,
				BatchNumber:    strings.TrimSpace(line.BatchNumber),
				ExpiryDate:     line.ExpiryDate,
			})
			item.ReceivedQty += line.ReceivedQty
			item.RejectedQty += line.RejectedQty

			if line.ReceivedQty > 0 {
				cost := item.UnitCostCents
				movementLine = append(movementLine, len(note.Items)-1)
				movements = append(movements, ledger.Movement{
					StoreID:       po.StoreID,
					SKU:           sku,
					Type:          domain.MovementPurchaseReceipt,
					Delta:         line.ReceivedQty,
					ReferenceType: domain.RefTypeDeliveryNote,
					ReferenceID:   note.ID,
					UnitCostCents: &cost,
					Actor:         actor,
					Notes:         note.GRNNumber,
				})
			}
		}

		entries, err := p.ledger.ApplyTx(ctx, tx, movements...)
		if err != nil {
			return err
		}
		for i, entry := range entries {
			note.Items[movementLine[i]].PriorOnHand = entry.QuantityBefore
		}
		if err := tx.InsertDeliveryNote(ctx, note); err != nil {
			return err
		}

		po.Status = purchaseOrderStatus(*po)
		if po.Status == domain.POStatusReceived && po.ReceivedAt == nil {
			po.ReceivedAt = &now
		}
		if err := tx.UpdatePurchaseOrder(ctx, *po); err != nil {
			return err
		}

		resp = domain.ReceiveResponse{DeliveryNote: note, PurchaseOrder: *po}
		return nil
	})
	if err != nil {
		return domain.ReceiveResponse{}, err
	}

	p.logger.Info("goods received",
		zap.String("purchase_order_id", resp.PurchaseOrder.ID),
		zap.String("grn_number", resp.DeliveryNote.GRNNumber),
		zap.String("po_status", resp.PurchaseOrder.Status),
		zap.Int64("total_cents", resp.DeliveryNote.TotalCents),
	)
	return resp, nil
}

// purchaseOrderStatus compares cumulative receipts with ordered quantities.
func purchaseOrderStatus(po domain.PurchaseOrder) string {
	all, some := true, false
	for _, item := range po.Items {
		if item.ReceivedQty > 0 {
			some = true
		}
		if item.ReceivedQty < item.OrderedQty {
			all = false
		}
	}
	switch {
	case all:
		return domain.POStatusReceived
	case some:
		return domain.POStatusPartiallyReceived
	default:
		return po.Status
	}
}

// Verify marks a pending note as checked.
func (p *Processor) Verify(ctx context.Context, noteID string, actor string) (domain.DeliveryNote, error) {
	var out domain.DeliveryNote
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		note, err := tx.LockDeliveryNote(ctx, noteID)
		if err != nil {
			return err
		}
		out = *note
		switch note.Status {
		case domain.GRNStatusPending:
		case domain.GRNStatusVerified:
			return store.ErrAlreadyProcessed
		default:
			return fmt.Errorf("%w: delivery note is %s", store.ErrInvalidTransaction, note.Status)
		}
		now := p.now()
		note.Status = domain.GRNStatusVerified
		note.VerifiedBy = actor
		note.VerifiedAt = &now
		if err := tx.UpdateDeliveryNote(ctx, *note); err != nil {
			return err
		}
		out = *note
		return nil
	})
	return out, err
}

// Complete closes a note exactly once and rolls its costs into the products'
// weighted unit cost. It never posts stock: that happened at receipt. A
// repeated call returns the note with ErrAlreadyProcessed.
func (p *Processor) Complete(ctx context.Context, noteID string, actor string) (domain.DeliveryNote, error) {
	var out domain.DeliveryNote
	err := p.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		note, err := tx.LockDeliveryNote(ctx, noteID)
		if err != nil {
			return err
		}
		out = *note
		if note.Status == domain.GRNStatusCompleted {
			return store.ErrAlreadyProcessed
		}

		for _, item := range note.Items {
			if item.ReceivedQty < 1 {
				continue
			}
			product, err := tx.GetProduct(ctx, item.SKU)
			if err != nil {
				return err
			}
			cost := weightedCostCents(product.UnitCostCents, item.PriorOnHand, item.UnitCostCents, item.ReceivedQty)
			if cost != product.UnitCostCents {
				if err := tx.UpdateProductCost(ctx, item.SKU, cost); err != nil {
					return err
				}
			}
		}

		now := p.now()
		note.Status = domain.GRNStatusCompleted
		note.CompletedBy = actor
		note.CompletedAt = &now
		if err := tx.UpdateDeliveryNote(ctx, *note); err != nil {
			return err
		}
		out = *note
		return nil
	})
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return out, err
	}
	if err != nil {
		return domain.DeliveryNote{}, err
	}
	p.logger.Info("delivery note completed", zap.String("grn_number", out.GRNNumber), zap.String("actor", actor))
	return out, nil
}

func (p *Processor) Get(ctx context.Context, noteID string) (*domain.DeliveryNote, error) {
	return p.repo.GetDeliveryNote(ctx, noteID)
}

func (p *Processor) ListNotes(ctx context.Context, purchaseOrderID string) ([]domain.DeliveryNote, error) {
	return p.repo.ListDeliveryNotes(ctx, purchaseOrderID)
}

func weightedCostCents(oldCost int64, oldQty int, incomingCost int64, incomingQty int) int64 {
	if incomingQty <= 0 || incomingCost <= 0 {
		return oldCost
	}
	if oldQty <= 0 || oldCost <= 0 {
		return incomingCost
	}
	totalValue := decimal.NewFromInt(oldCost).Mul(decimal.NewFromInt(int64(oldQty))).
		Add(decimal.NewFromInt(incomingCost).Mul(decimal.NewFromInt(int64(incomingQty))))
	weighted := totalValue.DivRound(decimal.NewFromInt(int64(oldQty+incomingQty)), 0).IntPart()
	if weighted < 1 {
		return 1
	}
	return weighted
}
