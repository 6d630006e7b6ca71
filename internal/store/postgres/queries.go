package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

const productColumns = `sku, name, category, price_cents, tax_rate_percent, unit_cost_cents, reorder_level, active, created_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var taxRate sql.NullFloat64
	if err := row.Scan(&p.SKU, &p.Name, &p.Category, &p.PriceCents, &taxRate, &p.UnitCostCents, &p.ReorderLevel, &p.Active, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	if taxRate.Valid {
		rate := taxRate.Float64
		p.TaxRatePercent = &rate
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func getProduct(ctx context.Context, q querier, sku string, forUpdate bool) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1`+lockClause(forUpdate), sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

const stockColumns = `store_id, sku, on_hand, reorder_level, low_stock, version, updated_at`

func scanStockLevel(row rowScanner) (domain.StockLevel, error) {
	var level domain.StockLevel
	if err := row.Scan(&level.StoreID, &level.SKU, &level.OnHand, &level.ReorderLevel, &level.LowStock, &level.Version, &level.UpdatedAt); err != nil {
		return domain.StockLevel{}, err
	}
	level.UpdatedAt = level.UpdatedAt.UTC()
	return level, nil
}

const movementColumns = `id, store_id, sku, movement_type, delta, quantity_before, quantity_after,
			reference_type, reference_id, unit_cost_cents, actor, notes, created_at`

const saleColumns = `id, store_id, terminal_id, shift_id, cashier_username, customer_id, COALESCE(idempotency_key,''),
			subtotal_cents, manual_discount_cents, loyalty_discount_cents, redeemed_points, discount_cents,
			tax_cents, total_cents, payment_method, status, cash_tendered_cents, mpesa_tendered_cents,
			settlement_status, pending_checkout_id, last_payment_error, refunded_cents, awarded_points,
			cancel_reason, created_at, completed_at, cancelled_at`

func getSale(ctx context.Context, q querier, column string, value string, forUpdate bool) (*domain.Sale, error) {
	var sale domain.Sale
	var completedAt, cancelledAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE `+column+` = $1`+lockClause(forUpdate), value).Scan(
		&sale.ID,
		&sale.StoreID,
		&sale.TerminalID,
		&sale.ShiftID,
		&sale.CashierUsername,
		&sale.CustomerID,
		&sale.IdempotencyKey,
		&sale.SubtotalCents,
		&sale.ManualDiscountCents,
		&sale.LoyaltyDiscountCents,
		&sale.RedeemedPoints,
		&sale.DiscountCents,
		&sale.TaxCents,
		&sale.TotalCents,
		&sale.PaymentMethod,
		&sale.Status,
		&sale.CashTenderedCents,
		&sale.MpesaTenderedCents,
		&sale.SettlementStatus,
		&sale.PendingCheckoutID,
		&sale.LastPaymentError,
		&sale.RefundedCents,
		&sale.AwardedPoints,
		&sale.CancelReason,
		&sale.CreatedAt,
		&completedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CompletedAt = timePtr(completedAt)
	sale.CancelledAt = timePtr(cancelledAt)

	rows, err := q.QueryContext(ctx, `
		SELECT sku, name, qty, unit_price_cents, tax_rate_percent, line_total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleLineItem, 0, 8)
	for rows.Next() {
		var item domain.SaleLineItem
		if err := rows.Scan(&item.SKU, &item.Name, &item.Qty, &item.UnitPriceCents, &item.TaxRatePercent, &item.LineTotalCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

const mpesaColumns = `id, sale_id, phone, amount_units, merchant_request_id, checkout_request_id,
			receipt_code, status, result_code, result_desc, created_at, resolved_at`

func scanMpesaTransaction(row rowScanner) (domain.MpesaTransaction, error) {
	var txn domain.MpesaTransaction
	var resolvedAt sql.NullTime
	err := row.Scan(
		&txn.ID,
		&txn.SaleID,
		&txn.Phone,
		&txn.AmountUnits,
		&txn.MerchantRequestID,
		&txn.CheckoutRequestID,
		&txn.ReceiptCode,
		&txn.Status,
		&txn.ResultCode,
		&txn.ResultDesc,
		&txn.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return domain.MpesaTransaction{}, err
	}
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.ResolvedAt = timePtr(resolvedAt)
	return txn, nil
}

func getMpesaTransaction(ctx context.Context, q querier, checkoutRequestID string, forUpdate bool) (*domain.MpesaTransaction, error) {
	txn, err := scanMpesaTransaction(q.QueryRowContext(ctx, `
		SELECT `+mpesaColumns+`
		FROM mpesa_transactions
		WHERE checkout_request_id = $1`+lockClause(forUpdate), checkoutRequestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func queryMpesaTransactions(ctx context.Context, q querier, query string, args ...any) ([]domain.MpesaTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.MpesaTransaction, 0, 8)
	for rows.Next() {
		txn, err := scanMpesaTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func getPurchaseOrder(ctx context.Context, q querier, purchaseOrderID string, forUpdate bool) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var sentAt, receivedAt, cancelledAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, store_id, supplier_id, status, created_by, created_at, sent_at, received_at, cancelled_at
		FROM purchase_orders
		WHERE id = $1`+lockClause(forUpdate), purchaseOrderID).Scan(
		&po.ID,
		&po.StoreID,
		&po.SupplierID,
		&po.Status,
		&po.CreatedBy,
		&po.CreatedAt,
		&sentAt,
		&receivedAt,
		&cancelledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	po.SentAt = timePtr(sentAt)
	po.ReceivedAt = timePtr(receivedAt)
	po.CancelledAt = timePtr(cancelledAt)

	rows, err := q.QueryContext(ctx, `
		SELECT sku, ordered_qty, unit_cost_cents, received_qty, rejected_qty
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY line_no ASC
	`, po.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseOrderItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseOrderItem
		if err := rows.Scan(&item.SKU, &item.OrderedQty, &item.UnitCostCents, &item.ReceivedQty, &item.RejectedQty); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	po.Items = items
	return &po, nil
}

func getDeliveryNote(ctx context.Context, q querier, noteID string, forUpdate bool) (*domain.DeliveryNote, error) {
	var note domain.DeliveryNote
	var verifiedAt, completedAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, grn_number, purchase_order_id, store_id, status, notes, received_by, total_cents,
			created_at, verified_by, verified_at, completed_by, completed_at
		FROM delivery_notes
		WHERE id = $1`+lockClause(forUpdate), noteID).Scan(
		&note.ID,
		&note.GRNNumber,
		&note.PurchaseOrderID,
		&note.StoreID,
		&note.Status,
		&note.Notes,
		&note.ReceivedBy,
		&note.TotalCents,
		&note.CreatedAt,
		&note.VerifiedBy,
		&verifiedAt,
		&note.CompletedBy,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	note.CreatedAt = note.CreatedAt.UTC()
	note.VerifiedAt = timePtr(verifiedAt)
	note.CompletedAt = timePtr(completedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT sku, received_qty, rejected_qty, reject_reason, unit_cost_cents, line_total_cents, batch_number, expiry_date, prior_on_hand
		FROM delivery_note_items
		WHERE delivery_note_id = $1
		ORDER BY line_no ASC
	`, note.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.DeliveryNoteItem, 0, 8)
	for rows.Next() {
		var item domain.DeliveryNoteItem
		var expiry sql.NullTime
		if err := rows.Scan(&item.SKU, &item.ReceivedQty, &item.RejectedQty, &item.RejectReason, &item.UnitCostCents,
			&item.LineTotalCents, &item.BatchNumber, &expiry, &item.PriorOnHand); err != nil {
			return nil, err
		}
		item.ExpiryDate = timePtr(expiry)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	note.Items = items
	return &note, nil
}

func getReturn(ctx context.Context, q querier, returnID string, forUpdate bool) (*domain.Return, error) {
	var ret domain.Return
	var decidedAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, sale_id, store_id, reason, refund_method, status, stock_restored, refund_cents,
			requested_by, decided_by, decision_note, created_at, decided_at
		FROM returns
		WHERE id = $1`+lockClause(forUpdate), returnID).Scan(
		&ret.ID,
		&ret.SaleID,
		&ret.StoreID,
		&ret.Reason,
		&ret.RefundMethod,
		&ret.Status,
		&ret.StockRestored,
		&ret.RefundCents,
		&ret.RequestedBy,
		&ret.DecidedBy,
		&ret.DecisionNote,
		&ret.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	ret.CreatedAt = ret.CreatedAt.UTC()
	ret.DecidedAt = timePtr(decidedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT sku, qty, unit_price_cents, line_refund_cents
		FROM return_items
		WHERE return_id = $1
		ORDER BY line_no ASC
	`, ret.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReturnItem, 0, 4)
	for rows.Next() {
		var item domain.ReturnItem
		if err := rows.Scan(&item.SKU, &item.Qty, &item.UnitPriceCents, &item.LineRefundCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ret.Items = items
	return &ret, nil
}

func getLoyaltyMember(ctx context.Context, q querier, customerID string, forUpdate bool) (*domain.LoyaltyMember, error) {
	var member domain.LoyaltyMember
	err := q.QueryRowContext(ctx, `
		SELECT customer_id, points_balance, lifetime_spend_cents, tier, created_at, updated_at
		FROM loyalty_members
		WHERE customer_id = $1`+lockClause(forUpdate), customerID).Scan(
		&member.CustomerID,
		&member.PointsBalance,
		&member.LifetimeSpendCents,
		&member.Tier,
		&member.CreatedAt,
		&member.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	member.CreatedAt = member.CreatedAt.UTC()
	member.UpdatedAt = member.UpdatedAt.UTC()
	return &member, nil
}
