package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

// memTx mutates the store in place while the write lock is held and journals
// an undo step for every change.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) record(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) GetProduct(_ context.Context, sku string) (*domain.Product, error) {
	p, ok := t.s.products[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	product.SKU = strings.TrimSpace(product.SKU)
	if product.SKU == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.s.products[product.SKU]; exists {
		return store.ErrDuplicate
	}
	t.s.products[product.SKU] = cloneProduct(product)
	t.record(func() { delete(t.s.products, product.SKU) })
	return nil
}

func (t *memTx) UpdateProductCost(_ context.Context, sku string, unitCostCents int64) error {
	p, ok := t.s.products[sku]
	if !ok {
		return store.ErrNotFound
	}
	prev := p
	p.UnitCostCents = unitCostCents
	t.s.products[sku] = p
	t.record(func() { t.s.products[sku] = prev })
	return nil
}

func (t *memTx) LockStock(_ context.Context, storeID string, sku string) (domain.StockLevel, error) {
	if level, ok := t.s.stock[storeID][sku]; ok {
		return level, nil
	}
	p, ok := t.s.products[sku]
	if !ok {
		return domain.StockLevel{}, fmt.Errorf("%w: unknown sku %s", store.ErrNotFound, sku)
	}
	return domain.StockLevel{StoreID: storeID, SKU: sku, ReorderLevel: p.ReorderLevel}, nil
}

func (t *memTx) SaveStock(_ context.Context, level domain.StockLevel, expectedVersion int64) error {
	levels := t.s.stockFor(level.StoreID)
	prev, existed := levels[level.SKU]
	if prev.Version != expectedVersion {
		return store.ErrStockConflict
	}
	level.Version = expectedVersion + 1
	if level.UpdatedAt.IsZero() {
		level.UpdatedAt = time.Now().UTC()
	}
	levels[level.SKU] = level
	t.record(func() {
		if existed {
			levels[level.SKU] = prev
			return
		}
		delete(levels, level.SKU)
	})
	return nil
}

func (t *memTx) InsertMovement(_ context.Context, movement domain.StockMovement) error {
	n := len(t.s.movements)
	t.s.movements = append(t.s.movements, cloneMovement(movement))
	t.record(func() { t.s.movements = t.s.movements[:n] })
	return nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.s.sales[sale.ID]; exists {
		return store.ErrDuplicate
	}
	if sale.IdempotencyKey != "" {
		if _, exists := t.s.salesByIdem[sale.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
		t.s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	t.s.sales[sale.ID] = cloneSale(sale)
	t.record(func() {
		delete(t.s.sales, sale.ID)
		if sale.IdempotencyKey != "" {
			delete(t.s.salesByIdem, sale.IdempotencyKey)
		}
	})
	return nil
}

func (t *memTx) LockSale(_ context.Context, saleID string) (*domain.Sale, error) {
	sale, ok := t.s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	prev, ok := t.s.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.sales[sale.ID] = cloneSale(sale)
	t.record(func() { t.s.sales[sale.ID] = prev })
	return nil
}

func (t *memTx) InsertMpesaTransaction(_ context.Context, txn domain.MpesaTransaction) error {
	if txn.CheckoutRequestID == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := t.s.mpesa[txn.CheckoutRequestID]; exists {
		return store.ErrDuplicate
	}
	t.s.mpesa[txn.CheckoutRequestID] = txn
	t.record(func() { delete(t.s.mpesa, txn.CheckoutRequestID) })
	return nil
}

func (t *memTx) LockMpesaTransaction(_ context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	txn, ok := t.s.mpesa[checkoutRequestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &txn, nil
}

func (t *memTx) UpdateMpesaTransaction(_ context.Context, txn domain.MpesaTransaction) error {
	prev, ok := t.s.mpesa[txn.CheckoutRequestID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.mpesa[txn.CheckoutRequestID] = txn
	t.record(func() { t.s.mpesa[txn.CheckoutRequestID] = prev })
	return nil
}

func (t *memTx) LockPurchaseOrder(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	po, ok := t.s.purchaseOrders[purchaseOrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (t *memTx) UpdatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) error {
	prev, ok := t.s.purchaseOrders[po.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.purchaseOrders[po.ID] = clonePurchaseOrder(po)
	t.record(func() { t.s.purchaseOrders[po.ID] = prev })
	return nil
}

func (t *memTx) NextSequence(_ context.Context, name string) (int64, error) {
	prev := t.s.sequences[name]
	t.s.sequences[name] = prev + 1
	t.record(func() { t.s.sequences[name] = prev })
	return prev + 1, nil
}

func (t *memTx) InsertDeliveryNote(_ context.Context, note domain.DeliveryNote) error {
	if _, exists := t.s.deliveryNotes[note.ID]; exists {
		return store.ErrDuplicate
	}
	for _, existing := range t.s.deliveryNotes {
		if existing.GRNNumber == note.GRNNumber {
			return store.ErrDuplicate
		}
	}
	t.s.deliveryNotes[note.ID] = cloneDeliveryNote(note)
	t.record(func() { delete(t.s.deliveryNotes, note.ID) })
	return nil
}

func (t *memTx) LockDeliveryNote(_ context.Context, noteID string) (*domain.DeliveryNote, error) {
	note, ok := t.s.deliveryNotes[noteID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneDeliveryNote(note)
	return &out, nil
}

func (t *memTx) UpdateDeliveryNote(_ context.Context, note domain.DeliveryNote) error {
	prev, ok := t.s.deliveryNotes[note.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.deliveryNotes[note.ID] = cloneDeliveryNote(note)
	t.record(func() { t.s.deliveryNotes[note.ID] = prev })
	return nil
}

func (t *memTx) InsertReturn(_ context.Context, ret domain.Return) error {
	if _, exists := t.s.returns[ret.ID]; exists {
		return store.ErrDuplicate
	}
	t.s.returns[ret.ID] = cloneReturn(ret)
	t.record(func() { delete(t.s.returns, ret.ID) })
	return nil
}

func (t *memTx) LockReturn(_ context.Context, returnID string) (*domain.Return, error) {
	ret, ok := t.s.returns[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneReturn(ret)
	return &out, nil
}

func (t *memTx) UpdateReturn(_ context.Context, ret domain.Return) error {
	prev, ok := t.s.returns[ret.ID]
	if !ok {
		return store.ErrNotFound
	}
	t.s.returns[ret.ID] = cloneReturn(ret)
	t.record(func() { t.s.returns[ret.ID] = prev })
	return nil
}

func (t *memTx) ReturnedQtyBySale(_ context.Context, saleID string) (map[string]int, error) {
	out := make(map[string]int)
	for _, ret := range t.s.returns {
		if ret.SaleID != saleID || ret.Status == domain.ReturnStatusRejected {
			continue
		}
		for _, item := range ret.Items {
			out[item.SKU] += item.Qty
		}
	}
	return out, nil
}

func (t *memTx) LockLoyaltyMember(_ context.Context, customerID string) (*domain.LoyaltyMember, error) {
	member, ok := t.s.loyalty[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &member, nil
}

func (t *memTx) UpsertLoyaltyMember(_ context.Context, member domain.LoyaltyMember) error {
	prev, existed := t.s.loyalty[member.CustomerID]
	t.s.loyalty[member.CustomerID] = member
	t.record(func() {
		if existed {
			t.s.loyalty[member.CustomerID] = prev
			return
		}
		delete(t.s.loyalty, member.CustomerID)
	})
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	if p.TaxRatePercent != nil {
		rate := *p.TaxRatePercent
		p.TaxRatePercent = &rate
	}
	return p
}

func cloneMovement(m domain.StockMovement) domain.StockMovement {
	if m.UnitCostCents != nil {
		cost := *m.UnitCostCents
		m.UnitCostCents = &cost
	}
	return m
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Items = append([]domain.SaleLineItem(nil), sale.Items...)
	return sale
}

func clonePurchaseOrder(po domain.PurchaseOrder) domain.PurchaseOrder {
	po.Items = append([]domain.PurchaseOrderItem(nil), po.Items...)
	return po
}

func cloneDeliveryNote(note domain.DeliveryNote) domain.DeliveryNote {
	note.Items = append([]domain.DeliveryNoteItem(nil), note.Items...)
	return note
}

func cloneReturn(ret domain.Return) domain.Return {
	ret.Items = append([]domain.ReturnItem(nil), ret.Items...)
	return ret
}
