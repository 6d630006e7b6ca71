package store

import (
	"context"
	"errors"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyProcessed   = errors.New("already processed")
	ErrDuplicate          = errors.New("duplicate record")
	// ErrStockConflict means an optimistic update lost a race; the whole unit may be retried.
	ErrStockConflict = errors.New("concurrent stock update")
)

// Tx is one all-or-nothing unit of work. Every read that feeds a write
// inside the unit must go through Tx so it observes the locked state.
type Tx interface {
	GetProduct(ctx context.Context, sku string) (*domain.Product, error)
	InsertProduct(ctx context.Context, product domain.Product) error
	UpdateProductCost(ctx context.Context, sku string, unitCostCents int64) error

	// LockStock returns the counter for (storeID, sku), creating an empty one if missing.
	LockStock(ctx context.Context, storeID string, sku string) (domain.StockLevel, error)
	// SaveStock writes level if the stored version still equals expectedVersion,
	// otherwise it returns ErrStockConflict.
	SaveStock(ctx context.Context, level domain.StockLevel, expectedVersion int64) error
	InsertMovement(ctx context.Context, movement domain.StockMovement) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, saleID string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error

	InsertMpesaTransaction(ctx context.Context, txn domain.MpesaTransaction) error
	LockMpesaTransaction(ctx context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error)
	UpdateMpesaTransaction(ctx context.Context, txn domain.MpesaTransaction) error

	LockPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) error
	NextSequence(ctx context.Context, name string) (int64, error)
	InsertDeliveryNote(ctx context.Context, note domain.DeliveryNote) error
	LockDeliveryNote(ctx context.Context, noteID string) (*domain.DeliveryNote, error)
	UpdateDeliveryNote(ctx context.Context, note domain.DeliveryNote) error

	InsertReturn(ctx context.Context, ret domain.Return) error
	LockReturn(ctx context.Context, returnID string) (*domain.Return, error)
	UpdateReturn(ctx context.Context, ret domain.Return) error
	// ReturnedQtyBySale sums quantities of pending and completed returns per SKU.
	ReturnedQtyBySale(ctx context.Context, saleID string) (map[string]int, error)

	LockLoyaltyMember(ctx context.Context, customerID string) (*domain.LoyaltyMember, error)
	UpsertLoyaltyMember(ctx context.Context, member domain.LoyaltyMember) error
}

// Atomic runs fn inside one unit of work and commits only if fn returns nil.
type Atomic interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

type CatalogReader interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
}

type StockReader interface {
	GetStockLevel(ctx context.Context, storeID string, sku string) (domain.StockLevel, error)
	ListLowStock(ctx context.Context, storeID string) ([]domain.StockLevel, error)
	ListMovements(ctx context.Context, storeID string, sku string, limit int) ([]domain.StockMovement, error)
}

type SaleReader interface {
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	DailySummary(ctx context.Context, storeID string, from time.Time, to time.Time) (domain.DailySummary, error)
	ShiftCashTotals(ctx context.Context, shiftID string) (int64, error)
}

type MpesaReader interface {
	GetMpesaTransaction(ctx context.Context, checkoutRequestID string) (*domain.MpesaTransaction, error)
	ListMpesaTransactionsBySale(ctx context.Context, saleID string) ([]domain.MpesaTransaction, error)
	ListPendingMpesaTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.MpesaTransaction, error)
}

type PurchasingStore interface {
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, supplierID string) (*domain.Supplier, error)
	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.PurchaseOrder, error)
	GetDeliveryNote(ctx context.Context, noteID string) (*domain.DeliveryNote, error)
	ListDeliveryNotes(ctx context.Context, purchaseOrderID string) ([]domain.DeliveryNote, error)
}

type ReturnReader interface {
	GetReturn(ctx context.Context, returnID string) (*domain.Return, error)
	ListReturns(ctx context.Context, status string, limit int) ([]domain.Return, error)
}

type LoyaltyReader interface {
	GetLoyaltyMember(ctx context.Context, customerID string) (*domain.LoyaltyMember, error)
}

type ShiftStore interface {
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, storeID string, terminalID string, closingCashCents int64, expectedCashCents int64, closedAt time.Time) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	PutSettings(ctx context.Context, values map[string]string) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Atomic
	CatalogReader
	StockReader
	SaleReader
	MpesaReader
	PurchasingStore
	ReturnReader
	LoyaltyReader
	ShiftStore
	AuditStore
	SettingsStore
	UserStore
}
