package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn in a serializable transaction. Serialization failures and
// deadlocks surface as store.ErrStockConflict so callers can retry the unit.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, sku string) (*domain.Product, error) {
	return getProduct(ctx, s.db, sku, false)
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetStockLevel(ctx context.Context, storeID string, sku string) (domain.StockLevel, error) {
	level, err := scanStockLevel(s.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM inventory_stocks
		WHERE store_id = $1 AND sku = $2
	`, storeID, sku))
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockLevel{}, err
	}

	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{StoreID: storeID, SKU: sku, ReorderLevel: product.ReorderLevel}, nil
}

func (s *Store) ListLowStock(ctx context.Context, storeID string) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockColumns+`
		FROM inventory_stocks
		WHERE store_id = $1 AND low_stock = true
		ORDER BY sku
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 16)
	for rows.Next() {
		level, err := scanStockLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}

// ListMovements returns the newest limit movements in posting order.
func (s *Store) ListMovements(ctx context.Context, storeID string, sku string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM (
			SELECT *
			FROM stock_movements
			WHERE store_id = $1 AND ($2 = '' OR sku = $2)
			ORDER BY seq DESC
			LIMIT $3
		) recent
		ORDER BY seq ASC
	`, storeID, sku, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		var unitCost sql.NullInt64
		if err := rows.Scan(&m.ID, &m.StoreID, &m.SKU, &m.Type, &m.Delta, &m.QuantityBefore, &m.QuantityAfter,
			&m.ReferenceType, &m.ReferenceID, &unitCost, &m.Actor, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		if unitCost.Valid {
			cost := unitCost.Int64
			m.UnitCostCents = &cost
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return getSale(ctx, s.db, "id", saleID, false)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return getSale(ctx, s.db, "idempotency_key", key, false)
}

func (s *Store) DailySummary(ctx context.Context, storeID string, from time.Time, to time.Time) (domain.DailySummary, error) {
	summary := domain.DailySummary{StoreID: storeID, Date: from.UTC().Format("2006-01-02")}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(SUM(subtotal_cents) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(discount_cents) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(tax_cents) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(`+cashKeptExpr+`) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(mpesa_tendered_cents) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(refunded_cents) FILTER (WHERE status = 'completed'), 0)
		FROM sales
		WHERE store_id = $1 AND created_at >= $2 AND created_at < $3
	`, storeID, from, to).Scan(
		&summary.CompletedSales,
		&summary.CancelledSales,
		&summary.GrossSalesCents,
		&summary.DiscountCents,
		&summary.TaxCents,
		&summary.CashCents,
		&summary.MpesaCents,
		&summary.RefundedCents,
	)
	if err != nil {
		return domain.DailySummary{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM inventory_stocks WHERE store_id = $1 AND low_stock = true
	`, storeID).Scan(&summary.LowStockCount)
	if err != nil {
		return domain.DailySummary{}, err
	}
	return summary, nil
}

// cashKeptExpr is the cash left in the drawer after change is handed back.
const cashKeptExpr = `cash_tendered_cents - GREATEST(0, cash_tendered_cents + mpesa_tendered_cents - total_cents)`

func (s *Store) ShiftCashTotals(ctx context.Context, shiftID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(`+cashKeptExpr+`), 0)
		FROM sales
		WHERE shift_id = $1 AND status = 'completed'
	`, shiftID).Scan(&total)
	return total, err
}

func (s *Store) GetMpesaTransaction(ctx context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	return getMpesaTransaction(ctx, s.db, checkoutRequestID, false)
}

func (s *Store) ListMpesaTransactionsBySale(ctx context.Context, saleID string) ([]domain.MpesaTransaction, error) {
	return queryMpesaTransactions(ctx, s.db, `
		SELECT `+mpesaColumns+`
		FROM mpesa_transactions
		WHERE sale_id = $1
		ORDER BY created_at ASC
	`, saleID)
}

func (s *Store) ListPendingMpesaTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.MpesaTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	return queryMpesaTransactions(ctx, s.db, `
		SELECT `+mpesaColumns+`
		FROM mpesa_transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, createdBefore, limit)
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	supplier.Phone = strings.TrimSpace(supplier.Phone)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	saved := supplier
	return &saved, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 64)
	for rows.Next() {
		var item domain.Supplier
		if err := rows.Scan(&item.ID, &item.Name, &item.Phone, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		suppliers = append(suppliers, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetSupplier(ctx context.Context, supplierID string) (*domain.Supplier, error) {
	var item domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM suppliers
		WHERE id = $1
	`, supplierID).Scan(&item.ID, &item.Name, &item.Phone, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	return &item, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.ID == "" || po.StoreID == "" || po.SupplierID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, store_id, supplier_id, status, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, po.ID, po.StoreID, po.SupplierID, po.Status, po.CreatedBy, po.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	for i, item := range po.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, line_no, sku, ordered_qty, unit_cost_cents, received_qty, rejected_qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, po.ID, i+1, item.SKU, item.OrderedQty, item.UnitCostCents, item.ReceivedQty, item.RejectedQty)
		if err != nil {
			return nil, mapWriteError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := po
	return &saved, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	return getPurchaseOrder(ctx, s.db, purchaseOrderID, false)
}

func (s *Store) ListPurchaseOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM purchase_orders
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		po, err := s.GetPurchaseOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *po)
	}
	return orders, nil
}

func (s *Store) GetDeliveryNote(ctx context.Context, noteID string) (*domain.DeliveryNote, error) {
	return getDeliveryNote(ctx, s.db, noteID, false)
}

func (s *Store) ListDeliveryNotes(ctx context.Context, purchaseOrderID string) ([]domain.DeliveryNote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM delivery_notes WHERE purchase_order_id = $1 ORDER BY grn_number ASC
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	notes := make([]domain.DeliveryNote, 0, len(ids))
	for _, id := range ids {
		note, err := s.GetDeliveryNote(ctx, id)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, nil
}

func (s *Store) GetReturn(ctx context.Context, returnID string) (*domain.Return, error) {
	return getReturn(ctx, s.db, returnID, false)
}

func (s *Store) ListReturns(ctx context.Context, status string, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM returns
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Return, 0, len(ids))
	for _, id := range ids {
		ret, err := s.GetReturn(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *ret)
	}
	return out, nil
}

func (s *Store) GetLoyaltyMember(ctx context.Context, customerID string) (*domain.LoyaltyMember, error) {
	return getLoyaltyMember(ctx, s.db, customerID, false)
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCashCents = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, store_id, terminal_id, cashier_name, opening_float_cents,
			closing_cash_cents, expected_cash_cents, status, opened_at, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, shift.ID, shift.StoreID, shift.TerminalID, shift.CashierName, shift.OpeningFloatCents,
		shift.ClosingCashCents, shift.ExpectedCashCents, shift.Status, shift.OpenedAt, nullTime(shift.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: shift already open for terminal %s", store.ErrInvalidTransaction, shift.TerminalID)
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

const shiftColumns = `id, store_id, terminal_id, cashier_name, opening_float_cents,
			closing_cash_cents, expected_cash_cents, status, opened_at, closed_at`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	err := row.Scan(
		&shift.ID,
		&shift.StoreID,
		&shift.TerminalID,
		&shift.CashierName,
		&shift.OpeningFloatCents,
		&shift.ClosingCashCents,
		&shift.ExpectedCashCents,
		&shift.Status,
		&shift.OpenedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	shift.ClosedAt = timePtr(closedAt)
	return &shift, nil
}

func (s *Store) CloseActiveShift(ctx context.Context, storeID string, terminalID string, closingCashCents int64, expectedCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return scanShift(s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', closing_cash_cents = $3, expected_cash_cents = $4, closed_at = $5
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
		RETURNING `+shiftColumns, storeID, terminalID, closingCashCents, expectedCashCents, closedAt))
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND terminal_id = $2 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, terminalID))
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Store) PutSettings(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO app_settings (key, value, updated_at)
			VALUES ($1,$2,now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		`, key, value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrStockConflict, pgErr.Message)
		}
	}
	return err
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrDuplicate
		case "23503":
			return store.ErrNotFound
		case "23514":
			return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, pgErr.ConstraintName)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
