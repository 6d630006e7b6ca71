package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

// pgTx implements store.Tx over a serializable transaction. Lock* reads use
// SELECT ... FOR UPDATE; stock counters additionally carry a version CAS.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetProduct(ctx context.Context, sku string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, sku, false)
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	var taxRate any
	if product.TaxRatePercent != nil {
		taxRate = *product.TaxRatePercent
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (sku, name, category, price_cents, tax_rate_percent, unit_cost_cents, reorder_level, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, product.SKU, product.Name, product.Category, product.PriceCents, taxRate, product.UnitCostCents, product.ReorderLevel, product.Active, product.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (t *pgTx) UpdateProductCost(ctx context.Context, sku string, unitCostCents int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET unit_cost_cents = $2, updated_at = now() WHERE sku = $1
	`, sku, unitCostCents)
	if err != nil {
		return err
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (t *pgTx) LockStock(ctx context.Context, storeID string, sku string) (domain.StockLevel, error) {
	level, err := scanStockLevel(t.tx.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM inventory_stocks
		WHERE store_id = $1 AND sku = $2
		FOR UPDATE
	`, storeID, sku))
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, err
	}

	product, err := getProduct(ctx, t.tx, sku, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockLevel{}, fmt.Errorf("%w: unknown sku %s", store.ErrNotFound, sku)
		}
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{StoreID: storeID, SKU: sku, ReorderLevel: product.ReorderLevel}, nil
}

func (t *pgTx) SaveStock(ctx context.Context, level domain.StockLevel, expectedVersion int64) error {
	if level.UpdatedAt.IsZero() {
		level.UpdatedAt = time.Now().UTC()
	}
	if expectedVersion == 0 {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO inventory_stocks (store_id, sku, on_hand, reorder_level, low_stock, version, updated_at)
			VALUES ($1,$2,$3,$4,$5,1,$6)
		`, level.StoreID, level.SKU, level.OnHand, level.ReorderLevel, level.LowStock, level.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrStockConflict
			}
			return mapWriteError(err)
		}
		return nil
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_stocks
		SET on_hand = $3, reorder_level = $4, low_stock = $5, version = version + 1, updated_at = $6
		WHERE store_id = $1 AND sku = $2 AND version = $7
	`, level.StoreID, level.SKU, level.OnHand, level.ReorderLevel, level.LowStock, level.UpdatedAt, expectedVersion)
	if err != nil {
		return mapTxError(mapWriteError(err))
	}
	return expectOneRow(res, store.ErrStockConflict)
}

func (t *pgTx) InsertMovement(ctx context.Context, m domain.StockMovement) error {
	var unitCost any
	if m.UnitCostCents != nil {
		unitCost = *m.UnitCostCents
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, store_id, sku, movement_type, delta, quantity_before, quantity_after,
			reference_type, reference_id, unit_cost_cents, actor, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, m.ID, m.StoreID, m.SKU, m.Type, m.Delta, m.QuantityBefore, m.QuantityAfter,
		m.ReferenceType, m.ReferenceID, unitCost, m.Actor, m.Notes, m.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, store_id, terminal_id, shift_id, cashier_username, customer_id, idempotency_key,
			subtotal_cents, manual_discount_cents, loyalty_discount_cents, redeemed_points, discount_cents,
			tax_cents, total_cents, payment_method, status, cash_tendered_cents, mpesa_tendered_cents,
			settlement_status, pending_checkout_id, last_payment_error, refunded_cents, awarded_points,
			cancel_reason, created_at, completed_at, cancelled_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
	`, sale.ID, sale.StoreID, sale.TerminalID, sale.ShiftID, sale.CashierUsername, sale.CustomerID, nullIfEmpty(sale.IdempotencyKey),
		sale.SubtotalCents, sale.ManualDiscountCents, sale.LoyaltyDiscountCents, sale.RedeemedPoints, sale.DiscountCents,
		sale.TaxCents, sale.TotalCents, sale.PaymentMethod, sale.Status, sale.CashTenderedCents, sale.MpesaTenderedCents,
		sale.SettlementStatus, sale.PendingCheckoutID, sale.LastPaymentError, sale.RefundedCents, sale.AwardedPoints,
		sale.CancelReason, sale.CreatedAt, nullTime(sale.CompletedAt), nullTime(sale.CancelledAt))
	if err != nil {
		return mapWriteError(err)
	}

	for i, item := range sale.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, sku, name, qty, unit_price_cents, tax_rate_percent, line_total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, item.SKU, item.Name, item.Qty, item.UnitPriceCents, item.TaxRatePercent, item.LineTotalCents)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) LockSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return getSale(ctx, t.tx, "id", saleID, true)
}

// UpdateSale rewrites the mutable header columns; line items are immutable.
func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET payment_method = $2, status = $3, cash_tendered_cents = $4, mpesa_tendered_cents = $5,
			settlement_status = $6, pending_checkout_id = $7, last_payment_error = $8,
			refunded_cents = $9, awarded_points = $10, cancel_reason = $11,
			completed_at = $12, cancelled_at = $13
		WHERE id = $1
	`, sale.ID, sale.PaymentMethod, sale.Status, sale.CashTenderedCents, sale.MpesaTenderedCents,
		sale.SettlementStatus, sale.PendingCheckoutID, sale.LastPaymentError,
		sale.RefundedCents, sale.AwardedPoints, sale.CancelReason,
		nullTime(sale.CompletedAt), nullTime(sale.CancelledAt))
	if err != nil {
		return mapWriteError(err)
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (t *pgTx) InsertMpesaTransaction(ctx context.Context, txn domain.MpesaTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO mpesa_transactions (
			id, sale_id, phone, amount_units, merchant_request_id, checkout_request_id,
			receipt_code, status, result_code, result_desc, created_at, resolved_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, txn.ID, txn.SaleID, txn.Phone, txn.AmountUnits, txn.MerchantRequestID, txn.CheckoutRequestID,
		txn.ReceiptCode, txn.Status, txn.ResultCode, txn.ResultDesc, txn.CreatedAt, nullTime(txn.ResolvedAt))
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (t *pgTx) LockMpesaTransaction(ctx context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	return getMpesaTransaction(ctx, t.tx, checkoutRequestID, true)
}

func (t *pgTx) UpdateMpesaTransaction(ctx context.Context, txn domain.MpesaTransaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE mpesa_transactions
		SET receipt_code = $2, status = $3, result_code = $4, result_desc = $5, resolved_at = $6
		WHERE checkout_request_id = $1
	`, txn.CheckoutRequestID, txn.ReceiptCode, txn.Status, txn.ResultCode, txn.ResultDesc, nullTime(txn.ResolvedAt))
	if err != nil {
		return err
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (t *pgTx) LockPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, t.tx, purchaseOrderID, true)
}

func (t *pgTx) UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, sent_at = $3, received_at = $4, cancelled_at = $5
		WHERE id = $1
	`, po.ID, po.Status, nullTime(po.SentAt), nullTime(po.ReceivedAt), nullTime(po.CancelledAt))
	if err != nil {
		return err
	}
	if err := expectOneRow(res, store.ErrNotFound); err != nil {
		return err
	}

	for i, item := range po.Items {
		_, err := t.tx.ExecContext(ctx, `
			UPDATE purchase_order_items
			SET received_qty = $3, rejected_qty = $4
			WHERE purchase_order_id = $1 AND line_no = $2
		`, po.ID, i+1, item.ReceivedQty, item.RejectedQty)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) NextSequence(ctx context.Context, name string) (int64, error) {
	var value int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO document_sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = document_sequences.value + 1
		RETURNING value
	`, name).Scan(&value)
	return value, err
}

func (t *pgTx) InsertDeliveryNote(ctx context.Context, note domain.DeliveryNote) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO delivery_notes (
			id, grn_number, purchase_order_id, store_id, status, notes, received_by, total_cents,
			created_at, verified_by, verified_at, completed_by, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, note.ID, note.GRNNumber, note.PurchaseOrderID, note.StoreID, note.Status, note.Notes, note.ReceivedBy, note.TotalCents,
		note.CreatedAt, note.VerifiedBy, nullTime(note.VerifiedAt), note.CompletedBy, nullTime(note.CompletedAt))
	if err != nil {
		return mapWriteError(err)
	}

	for i, item := range note.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO delivery_note_items (
				delivery_note_id, line_no, sku, received_qty, rejected_qty, reject_reason,
				unit_cost_cents, line_total_cents, batch_number, expiry_date, prior_on_hand
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, note.ID, i+1, item.SKU, item.ReceivedQty, item.RejectedQty, item.RejectReason,
			item.UnitCostCents, item.LineTotalCents, item.BatchNumber, nullDate(item.ExpiryDate), item.PriorOnHand)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) LockDeliveryNote(ctx context.Context, noteID string) (*domain.DeliveryNote, error) {
	return getDeliveryNote(ctx, t.tx, noteID, true)
}

func (t *pgTx) UpdateDeliveryNote(ctx context.Context, note domain.DeliveryNote) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE delivery_notes
		SET status = $2, verified_by = $3, verified_at = $4, completed_by = $5, completed_at = $6
		WHERE id = $1
	`, note.ID, note.Status, note.VerifiedBy, nullTime(note.VerifiedAt), note.CompletedBy, nullTime(note.CompletedAt))
	if err != nil {
		return err
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (t *pgTx) InsertReturn(ctx context.Context, ret domain.Return) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (
			id, sale_id, store_id, reason, refund_method, status, stock_restored, refund_cents,
			requested_by, decided_by, decision_note, created_at, decided_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, ret.ID, ret.SaleID, ret.StoreID, ret.Reason, ret.RefundMethod, ret.Status, ret.StockRestored, ret.RefundCents,
		ret.RequestedBy, ret.DecidedBy, ret.DecisionNote, ret.CreatedAt, nullTime(ret.DecidedAt))
	if err != nil {
		return mapWriteError(err)
	}

	for i, item := range ret.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, line_no, sku, qty, unit_price_cents, line_refund_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, ret.ID, i+1, item.SKU, item.Qty, item.UnitPriceCents, item.LineRefundCents)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (t *pgTx) LockReturn(ctx context.Context, returnID string) (*domain.Return, error) {
	return getReturn(ctx, t.tx, returnID, true)
}

func (t *pgTx) UpdateReturn(ctx context.Context, ret domain.Return) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE returns
		SET status = $2, stock_restored = $3, decided_by = $4, decision_note = $5, decided_at = $6
		WHERE id = $1
	`, ret.ID, ret.Status, ret.StockRestored, ret.DecidedBy, ret.DecisionNote, nullTime(ret.DecidedAt))
	if err != nil {
		return err
	}
	return expectOneRow(res, store.ErrNotFound)
}

func (t *pgTx) ReturnedQtyBySale(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT ri.sku, COALESCE(SUM(ri.qty), 0)
		FROM return_items ri
		JOIN returns r ON r.id = ri.return_id
		WHERE r.sale_id = $1 AND r.status <> 'rejected'
		GROUP BY ri.sku
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, err
		}
		out[sku] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *pgTx) LockLoyaltyMember(ctx context.Context, customerID string) (*domain.LoyaltyMember, error) {
	return getLoyaltyMember(ctx, t.tx, customerID, true)
}

func (t *pgTx) UpsertLoyaltyMember(ctx context.Context, member domain.LoyaltyMember) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loyalty_members (customer_id, points_balance, lifetime_spend_cents, tier, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (customer_id) DO UPDATE
		SET points_balance = EXCLUDED.points_balance,
			lifetime_spend_cents = EXCLUDED.lifetime_spend_cents,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at
	`, member.CustomerID, member.PointsBalance, member.LifetimeSpendCents, member.Tier, member.CreatedAt, member.UpdatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func expectOneRow(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
