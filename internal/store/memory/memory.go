package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

// Store keeps everything in maps behind one RWMutex. Atomic holds the write
// lock for the whole unit, so units are serialized and rolled back through an
// undo journal when fn fails.
type Store struct {
	mu             sync.RWMutex
	products       map[string]domain.Product
	stock          map[string]map[string]domain.StockLevel
	movements      []domain.StockMovement
	sales          map[string]domain.Sale
	salesByIdem    map[string]string
	mpesa          map[string]domain.MpesaTransaction
	suppliers      map[string]domain.Supplier
	purchaseOrders map[string]domain.PurchaseOrder
	deliveryNotes  map[string]domain.DeliveryNote
	sequences      map[string]int64
	returns        map[string]domain.Return
	loyalty        map[string]domain.LoyaltyMember
	shifts         map[string]domain.Shift
	activeShift    map[string]string
	auditLogs      []domain.AuditLog
	settings       map[string]string
	users          map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		stock:          make(map[string]map[string]domain.StockLevel),
		sales:          make(map[string]domain.Sale),
		salesByIdem:    make(map[string]string),
		mpesa:          make(map[string]domain.MpesaTransaction),
		suppliers:      make(map[string]domain.Supplier),
		purchaseOrders: make(map[string]domain.PurchaseOrder),
		deliveryNotes:  make(map[string]domain.DeliveryNote),
		sequences:      make(map[string]int64),
		returns:        make(map[string]domain.Return),
		loyalty:        make(map[string]domain.LoyaltyMember),
		shifts:         make(map[string]domain.Shift),
		activeShift:    make(map[string]string),
		settings:       make(map[string]string),
		users:          make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo catalog stocked at main-store through
// initial_stock movements, plus admin and cashier accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	exempt := 0.0
	products := []domain.Product{
		{SKU: "SKU-MAZIWA-500", Name: "Fresh Milk 500ml", Category: "dairy", PriceCents: 6500, ReorderLevel: 24},
		{SKU: "SKU-UNGA-2KG", Name: "Maize Flour 2kg", Category: "grocery", PriceCents: 21000, ReorderLevel: 20},
		{SKU: "SKU-SUKARI-1KG", Name: "Sugar 1kg", Category: "grocery", PriceCents: 18500, ReorderLevel: 20},
		{SKU: "SKU-MKATE-400", Name: "White Bread 400g", Category: "bakery", PriceCents: 6500, ReorderLevel: 15},
		{SKU: "SKU-CHAI-100", Name: "Tea Leaves 100g", Category: "beverage", PriceCents: 9000, ReorderLevel: 10},
		{SKU: "SKU-MAFUTA-1L", Name: "Cooking Oil 1L", Category: "grocery", PriceCents: 32000, ReorderLevel: 12},
		{SKU: "SKU-SABUNI-BAR", Name: "Bar Soap 800g", Category: "household", PriceCents: 14000, ReorderLevel: 10},
		{SKU: "SKU-MAJI-1L", Name: "Drinking Water 1L", Category: "beverage", PriceCents: 5000, ReorderLevel: 30, TaxRatePercent: &exempt},
	}

	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UnitCostCents = p.PriceCents * 3 / 4
		s.products[p.SKU] = p
		level := domain.StockLevel{StoreID: "main-store", SKU: p.SKU, OnHand: 120, ReorderLevel: p.ReorderLevel, Version: 1, UpdatedAt: now}
		s.stockFor("main-store")[p.SKU] = level
		s.movements = append(s.movements, domain.StockMovement{
			ID:             xid.New("mov"),
			StoreID:        "main-store",
			SKU:            p.SKU,
			Type:           domain.MovementInitialStock,
			Delta:          120,
			QuantityBefore: 0,
			QuantityAfter:  120,
			ReferenceType:  domain.RefTypeProduct,
			ReferenceID:    p.SKU,
			Actor:          "system",
			Notes:          "seed stock",
			CreatedAt:      now,
		})
	}

	s.users = seedUsers()
	return s
}

// seedUsers builds the initial accounts for dev/demo mode. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; dev defaults are used otherwise.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Atomic(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (s *Store) stockFor(storeID string) map[string]domain.StockLevel {
	levels, ok := s.stock[storeID]
	if !ok {
		levels = make(map[string]domain.StockLevel)
		s.stock[storeID] = levels
	}
	return levels
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			out = append(out, cloneProduct(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, ok := s.products[sku]; ok {
			out[sku] = cloneProduct(p)
		}
	}
	return out, nil
}

func (s *Store) GetStockLevel(_ context.Context, storeID string, sku string) (domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if level, ok := s.stock[storeID][sku]; ok {
		return level, nil
	}
	if _, ok := s.products[sku]; !ok {
		return domain.StockLevel{}, store.ErrNotFound
	}
	return domain.StockLevel{StoreID: storeID, SKU: sku, ReorderLevel: s.products[sku].ReorderLevel}, nil
}

func (s *Store) ListLowStock(_ context.Context, storeID string) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockLevel, 0)
	for _, level := range s.stock[storeID] {
		if level.LowStock {
			out = append(out, level)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *Store) ListMovements(_ context.Context, storeID string, sku string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockMovement, 0)
	for _, m := range s.movements {
		if m.StoreID != storeID || (sku != "" && m.SKU != sku) {
			continue
		}
		out = append(out, cloneMovement(m))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(sale)
	return &out, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneSale(s.sales[id])
	return &out, nil
}

func (s *Store) DailySummary(_ context.Context, storeID string, from time.Time, to time.Time) (domain.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.DailySummary{StoreID: storeID, Date: from.UTC().Format("2006-01-02")}
	for _, sale := range s.sales {
		if sale.StoreID != storeID || sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		switch sale.Status {
		case domain.SaleStatusCompleted:
			summary.CompletedSales++
			summary.GrossSalesCents += sale.SubtotalCents
			summary.DiscountCents += sale.DiscountCents
			summary.TaxCents += sale.TaxCents
			summary.CashCents += cashKept(sale)
			summary.MpesaCents += sale.MpesaTenderedCents
			summary.RefundedCents += sale.RefundedCents
		case domain.SaleStatusCancelled:
			summary.CancelledSales++
		}
	}
	for _, level := range s.stock[storeID] {
		if level.LowStock {
			summary.LowStockCount++
		}
	}
	return summary, nil
}

func (s *Store) ShiftCashTotals(_ context.Context, shiftID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(0)
	for _, sale := range s.sales {
		if sale.ShiftID == shiftID && sale.Status == domain.SaleStatusCompleted {
			total += cashKept(sale)
		}
	}
	return total, nil
}

// cashKept is the cash that stays in the drawer once change is handed back.
func cashKept(sale domain.Sale) int64 {
	change := sale.CashTenderedCents + sale.MpesaTenderedCents - sale.TotalCents
	if change < 0 {
		change = 0
	}
	return sale.CashTenderedCents - change
}

func (s *Store) GetMpesaTransaction(_ context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.mpesa[checkoutRequestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &txn, nil
}

func (s *Store) ListMpesaTransactionsBySale(_ context.Context, saleID string) ([]domain.MpesaTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MpesaTransaction, 0)
	for _, txn := range s.mpesa {
		if txn.SaleID == saleID {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPendingMpesaTransactions(_ context.Context, createdBefore time.Time, limit int) ([]domain.MpesaTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MpesaTransaction, 0)
	for _, txn := range s.mpesa {
		if txn.Status == domain.MpesaStatusPending && txn.CreatedAt.Before(createdBefore) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		out = append(out, supplier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetSupplier(_ context.Context, supplierID string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[supplierID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.ID == "" || len(po.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if _, exists := s.purchaseOrders[po.ID]; exists {
		return nil, store.ErrDuplicate
	}
	s.purchaseOrders[po.ID] = clonePurchaseOrder(po)
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.purchaseOrders[purchaseOrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := clonePurchaseOrder(po)
	return &out, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PurchaseOrder, 0)
	for _, po := range s.purchaseOrders {
		if storeID != "" && po.StoreID != storeID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		out = append(out, clonePurchaseOrder(po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetDeliveryNote(_ context.Context, noteID string) (*domain.DeliveryNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	note, ok := s.deliveryNotes[noteID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneDeliveryNote(note)
	return &out, nil
}

func (s *Store) ListDeliveryNotes(_ context.Context, purchaseOrderID string) ([]domain.DeliveryNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeliveryNote, 0)
	for _, note := range s.deliveryNotes {
		if note.PurchaseOrderID == purchaseOrderID {
			out = append(out, cloneDeliveryNote(note))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GRNNumber < out[j].GRNNumber })
	return out, nil
}

func (s *Store) GetReturn(_ context.Context, returnID string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returns[returnID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneReturn(ret)
	return &out, nil
}

func (s *Store) ListReturns(_ context.Context, status string, limit int) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Return, 0)
	for _, ret := range s.returns {
		if status != "" && ret.Status != status {
			continue
		}
		out = append(out, cloneReturn(ret))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetLoyaltyMember(_ context.Context, customerID string) (*domain.LoyaltyMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.loyalty[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &member, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(shift.StoreID, shift.TerminalID)
	if _, exists := s.activeShift[key]; exists {
		return nil, fmt.Errorf("%w: shift already open for terminal %s", store.ErrInvalidTransaction, shift.TerminalID)
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	shift.Status = domain.ShiftStatusOpen
	s.shifts[shift.ID] = shift
	s.activeShift[key] = shift.ID
	return &shift, nil
}

func (s *Store) CloseActiveShift(_ context.Context, storeID string, terminalID string, closingCashCents int64, expectedCashCents int64, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftKey(storeID, terminalID)
	id, ok := s.activeShift[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shifts[id]
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCashCents = closingCashCents
	shift.ExpectedCashCents = expectedCashCents
	shift.ClosedAt = &closedAt
	s.shifts[id] = shift
	delete(s.activeShift, key)
	return &shift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeShift[shiftKey(storeID, terminalID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shifts[id]
	return &shift, nil
}

func shiftKey(storeID string, terminalID string) string {
	return storeID + "|" + terminalID
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.StoreID != storeID || entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetSettings(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *Store) PutSettings(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.settings[k] = v
	}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrDuplicate
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
