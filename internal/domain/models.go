package domain

import "time"

type Product struct {
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	PriceCents     int64     `json:"price_cents"`
	TaxRatePercent *float64  `json:"tax_rate_percent,omitempty"`
	UnitCostCents  int64     `json:"unit_cost_cents"`
	ReorderLevel   int       `json:"reorder_level"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	StoreID        string   `json:"store_id"`
	SKU            string   `json:"sku" validate:"required,max=64"`
	Name           string   `json:"name" validate:"required,max=160"`
	Category       string   `json:"category" validate:"max=80"`
	PriceCents     int64    `json:"price_cents" validate:"gt=0"`
	TaxRatePercent *float64 `json:"tax_rate_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
	UnitCostCents  int64    `json:"unit_cost_cents" validate:"gte=0"`
	ReorderLevel   *int     `json:"reorder_level,omitempty" validate:"omitempty,gte=0"`
	InitialStock   int      `json:"initial_stock" validate:"gte=0"`
}

// ProductView is the catalog read model: price, tax rate and stock on hand.
type ProductView struct {
	Product
	StoreID          string  `json:"store_id"`
	StockOnHand      int     `json:"stock_on_hand"`
	LowStock         bool    `json:"low_stock"`
	EffectiveTaxRate float64 `json:"effective_tax_rate_percent"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CartItem struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gt=0"`
}

type SaleCreateRequest struct {
	StoreID             string     `json:"store_id"`
	TerminalID          string     `json:"terminal_id" validate:"required"`
	IdempotencyKey      string     `json:"idempotency_key"`
	CustomerID          string     `json:"customer_id,omitempty"`
	ManualDiscountCents int64      `json:"manual_discount_cents" validate:"gte=0"`
	RedeemPoints        int64      `json:"redeem_points" validate:"gte=0"`
	CartItems           []CartItem `json:"cart_items" validate:"required,min=1,dive"`
}

type Sale struct {
	ID                   string         `json:"id"`
	StoreID              string         `json:"store_id"`
	TerminalID           string         `json:"terminal_id"`
	ShiftID              string         `json:"shift_id,omitempty"`
	CashierUsername      string         `json:"cashier_username"`
	CustomerID           string         `json:"customer_id,omitempty"`
	IdempotencyKey       string         `json:"idempotency_key"`
	SubtotalCents        int64          `json:"subtotal_cents"`
	ManualDiscountCents  int64          `json:"manual_discount_cents"`
	LoyaltyDiscountCents int64          `json:"loyalty_discount_cents"`
	RedeemedPoints       int64          `json:"redeemed_points"`
	DiscountCents        int64          `json:"discount_cents"`
	TaxCents             int64          `json:"tax_cents"`
	TotalCents           int64          `json:"total_cents"`
	PaymentMethod        string         `json:"payment_method"`
	Status               string         `json:"status"`
	CashTenderedCents    int64          `json:"cash_tendered_cents"`
	MpesaTenderedCents   int64          `json:"mpesa_tendered_cents"`
	SettlementStatus     string         `json:"settlement_status"`
	PendingCheckoutID    string         `json:"-"`
	LastPaymentError     string         `json:"last_payment_error,omitempty"`
	RefundedCents        int64          `json:"refunded_cents"`
	AwardedPoints        int64          `json:"awarded_points"`
	CancelReason         string         `json:"cancel_reason,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	CancelledAt          *time.Time     `json:"cancelled_at,omitempty"`
	Items                []SaleLineItem `json:"items"`
}

type SaleLineItem struct {
	SKU            string  `json:"sku"`
	Name           string  `json:"name"`
	Qty            int     `json:"qty"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	LineTotalCents int64   `json:"line_total_cents"`
}

// Settlement is the payment view over one sale.
type Settlement struct {
	SaleID               string `json:"sale_id"`
	TotalCents           int64  `json:"total_cents"`
	CashCents            int64  `json:"cash_cents"`
	MpesaCents           int64  `json:"mpesa_cents"`
	RemainingCents       int64  `json:"remaining_cents"`
	ChangeCents          int64  `json:"change_cents"`
	Status               string `json:"status"`
	AwaitingConfirmation bool   `json:"awaiting_confirmation"`
	CorrelationID        string `json:"correlation_id,omitempty"`
	LastError            string `json:"last_error,omitempty"`
	SaleStatus           string `json:"sale_status"`
}

type SaleResponse struct {
	Sale       Sale       `json:"sale"`
	Settlement Settlement `json:"settlement"`
	Duplicate  bool       `json:"duplicate"`
	// CompletionError is set when payment was recorded but the sale could not be completed.
	CompletionError string `json:"completion_error,omitempty"`
}

type CashPaymentRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"gt=0"`
}

type MobilePaymentRequest struct {
	Phone       string `json:"phone" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
}

type MobilePaymentResponse struct {
	Settlement  Settlement       `json:"settlement"`
	Transaction MpesaTransaction `json:"transaction"`
}

type SaleCancelRequest struct {
	Reason     string `json:"reason" validate:"required"`
	ManagerPIN string `json:"manager_pin"`
}

type MpesaTransaction struct {
	ID                string     `json:"id"`
	SaleID            string     `json:"sale_id"`
	Phone             string     `json:"phone"`
	AmountUnits       int64      `json:"amount_units"`
	MerchantRequestID string     `json:"merchant_request_id"`
	CheckoutRequestID string     `json:"checkout_request_id"`
	ReceiptCode       string     `json:"receipt_code,omitempty"`
	Status            string     `json:"status"`
	ResultCode        string     `json:"result_code,omitempty"`
	ResultDesc        string     `json:"result_desc,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// MpesaResult is the terminal outcome of one push, keyed by its correlation id.
type MpesaResult struct {
	CheckoutRequestID string
	SaleID            string
	Success           bool
	AmountCents       int64
	ReceiptCode       string
	ResultCode        string
	ResultDesc        string
}

type StockLevel struct {
	StoreID      string    `json:"store_id"`
	SKU          string    `json:"sku"`
	OnHand       int       `json:"on_hand"`
	ReorderLevel int       `json:"reorder_level"`
	LowStock     bool      `json:"low_stock"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StockMovement struct {
	ID             string    `json:"id"`
	StoreID        string    `json:"store_id"`
	SKU            string    `json:"sku"`
	Type           string    `json:"type"`
	Delta          int       `json:"delta"`
	QuantityBefore int       `json:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after"`
	ReferenceType  string    `json:"reference_type"`
	ReferenceID    string    `json:"reference_id"`
	UnitCostCents  *int64    `json:"unit_cost_cents,omitempty"`
	Actor          string    `json:"actor"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type LowStockAlert struct {
	StoreID      string    `json:"store_id"`
	SKU          string    `json:"sku"`
	OnHand       int       `json:"on_hand"`
	ReorderLevel int       `json:"reorder_level"`
	RaisedAt     time.Time `json:"raised_at"`
}

type StockAdjustmentRequest struct {
	StoreID string `json:"store_id"`
	SKU     string `json:"sku" validate:"required"`
	Type    string `json:"type" validate:"required,oneof=adjustment_in adjustment_out damaged expired"`
	Qty     int    `json:"qty" validate:"gt=0"`
	Notes   string `json:"notes"`
}

type StockTransferRequest struct {
	FromStoreID string `json:"from_store_id" validate:"required"`
	ToStoreID   string `json:"to_store_id" validate:"required,nefield=FromStoreID"`
	SKU         string `json:"sku" validate:"required"`
	Qty         int    `json:"qty" validate:"gt=0"`
	Notes       string `json:"notes"`
}

type StockCountItem struct {
	SKU        string `json:"sku" validate:"required"`
	CountedQty int    `json:"counted_qty" validate:"gte=0"`
}

type StockCountRequest struct {
	StoreID string           `json:"store_id"`
	Notes   string           `json:"notes"`
	Items   []StockCountItem `json:"items" validate:"required,min=1,dive"`
}

type StockCountResponse struct {
	CountID   string          `json:"count_id"`
	StoreID   string          `json:"store_id"`
	Movements []StockMovement `json:"movements"`
	CreatedAt string          `json:"created_at"`
}

type Shift struct {
	ID                string     `json:"id"`
	StoreID           string     `json:"store_id"`
	TerminalID        string     `json:"terminal_id"`
	CashierName       string     `json:"cashier_name"`
	OpeningFloatCents int64      `json:"opening_float_cents"`
	ClosingCashCents  int64      `json:"closing_cash_cents,omitempty"`
	ExpectedCashCents int64      `json:"expected_cash_cents,omitempty"`
	Status            string     `json:"status"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	StoreID           string `json:"store_id"`
	TerminalID        string `json:"terminal_id" validate:"required"`
	CashierName       string `json:"cashier_name"`
	OpeningFloatCents int64  `json:"opening_float_cents" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	StoreID          string `json:"store_id"`
	TerminalID       string `json:"terminal_id" validate:"required"`
	ClosingCashCents int64  `json:"closing_cash_cents" validate:"gte=0"`
	Notes            string `json:"notes"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
	// VarianceCents is closing cash minus expected drawer cash, set on close.
	VarianceCents int64 `json:"variance_cents,omitempty"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone"`
}

type PurchaseOrderItem struct {
	SKU           string `json:"sku" validate:"required"`
	OrderedQty    int    `json:"ordered_qty" validate:"gt=0"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"gt=0"`
	ReceivedQty   int    `json:"received_qty"`
	RejectedQty   int    `json:"rejected_qty"`
}

// RemainingQty is what may still be received against this line.
func (i PurchaseOrderItem) RemainingQty() int {
	if remaining := i.OrderedQty - i.ReceivedQty; remaining > 0 {
		return remaining
	}
	return 0
}

type PurchaseOrder struct {
	ID          string              `json:"id"`
	StoreID     string              `json:"store_id"`
	SupplierID  string              `json:"supplier_id"`
	Status      string              `json:"status"`
	CreatedBy   string              `json:"created_by"`
	CreatedAt   time.Time           `json:"created_at"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	ReceivedAt  *time.Time          `json:"received_at,omitempty"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
	Items       []PurchaseOrderItem `json:"items"`
}

type PurchaseOrderCreateRequest struct {
	StoreID    string              `json:"store_id"`
	SupplierID string              `json:"supplier_id" validate:"required"`
	Items      []PurchaseOrderItem `json:"items" validate:"required,min=1,dive"`
}

type PurchaseOrderResponse struct {
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type ReceiveLine struct {
	SKU          string     `json:"sku" validate:"required"`
	ReceivedQty  int        `json:"received_qty" validate:"gte=0"`
	RejectedQty  int        `json:"rejected_qty" validate:"gte=0"`
	RejectReason string     `json:"reject_reason,omitempty"`
	BatchNumber  string     `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
}

type PurchaseOrderReceiveRequest struct {
	Notes      string        `json:"notes"`
	ReceivedBy string        `json:"received_by"`
	Lines      []ReceiveLine `json:"lines" validate:"required,min=1,dive"`
}

type DeliveryNote struct {
	ID              string             `json:"id"`
	GRNNumber       string             `json:"grn_number"`
	PurchaseOrderID string             `json:"purchase_order_id"`
	StoreID         string             `json:"store_id"`
	Status          string             `json:"status"`
	Notes           string             `json:"notes,omitempty"`
	ReceivedBy      string             `json:"received_by"`
	TotalCents      int64              `json:"total_cents"`
	CreatedAt       time.Time          `json:"created_at"`
	VerifiedBy      string             `json:"verified_by,omitempty"`
	VerifiedAt      *time.Time         `json:"verified_at,omitempty"`
	CompletedBy     string             `json:"completed_by,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	Items           []DeliveryNoteItem `json:"items"`
}

type DeliveryNoteItem struct {
	SKU            string     `json:"sku"`
	ReceivedQty    int        `json:"received_qty"`
	RejectedQty    int        `json:"rejected_qty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	UnitCostCents  int64      `json:"unit_cost_cents"`
	LineTotalCents int64      `json:"line_total_cents"`
	BatchNumber    string     `json:"batch_number,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	// PriorOnHand is the counter just before this receipt was ledgered; the
	// weighted unit cost is rolled from it when the note completes.
	PriorOnHand int `json:"prior_on_hand"`
}

type ReceiveResponse struct {
	DeliveryNote  DeliveryNote  `json:"delivery_note"`
	PurchaseOrder PurchaseOrder `json:"purchase_order"`
}

type DeliveryNoteResponse struct {
	DeliveryNote     DeliveryNote `json:"delivery_note"`
	AlreadyProcessed bool         `json:"already_processed"`
	Message          string       `json:"message,omitempty"`
}

type ReturnItemRequest struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gt=0"`
}

type ReturnCreateRequest struct {
	SaleID       string              `json:"sale_id" validate:"required"`
	Reason       string              `json:"reason" validate:"required"`
	RefundMethod string              `json:"refund_method" validate:"required,oneof=cash mpesa store_credit"`
	Items        []ReturnItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ReturnDecisionRequest struct {
	Note string `json:"note"`
}

type Return struct {
	ID            string       `json:"id"`
	SaleID        string       `json:"sale_id"`
	StoreID       string       `json:"store_id"`
	Reason        string       `json:"reason"`
	RefundMethod  string       `json:"refund_method"`
	Status        string       `json:"status"`
	StockRestored bool         `json:"stock_restored"`
	RefundCents   int64        `json:"refund_cents"`
	RequestedBy   string       `json:"requested_by"`
	DecidedBy     string       `json:"decided_by,omitempty"`
	DecisionNote  string       `json:"decision_note,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	DecidedAt     *time.Time   `json:"decided_at,omitempty"`
	Items         []ReturnItem `json:"items"`
}

type ReturnItem struct {
	SKU             string `json:"sku"`
	Qty             int    `json:"qty"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	LineRefundCents int64  `json:"line_refund_cents"`
}

type ReturnResponse struct {
	Return           Return `json:"return"`
	AlreadyProcessed bool   `json:"already_processed"`
	Message          string `json:"message,omitempty"`
}

type LoyaltyMember struct {
	CustomerID         string    `json:"customer_id"`
	PointsBalance      int64     `json:"points_balance"`
	LifetimeSpendCents int64     `json:"lifetime_spend_cents"`
	Tier               string    `json:"tier"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type LoyaltyRedeemRequest struct {
	Points int64 `json:"points" validate:"gt=0"`
}

type DailySummary struct {
	StoreID         string `json:"store_id"`
	Date            string `json:"date"`
	CompletedSales  int64  `json:"completed_sales"`
	CancelledSales  int64  `json:"cancelled_sales"`
	GrossSalesCents int64  `json:"gross_sales_cents"`
	DiscountCents   int64  `json:"discount_cents"`
	TaxCents        int64  `json:"tax_cents"`
	CashCents       int64  `json:"cash_cents"`
	MpesaCents      int64  `json:"mpesa_cents"`
	RefundedCents   int64  `json:"refunded_cents"`
	LowStockCount   int    `json:"low_stock_count"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type SettingsUpdateRequest struct {
	Values map[string]string `json:"values" validate:"required,min=1"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
)

const (
	SettlementPending       = "pending"
	SettlementPartiallyPaid = "partially_paid"
	SettlementPaid          = "paid"
	SettlementFailed        = "failed"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodMpesa  = "mpesa"
	PaymentMethodHybrid = "hybrid"
	PaymentMethodNone   = "none"
)

const (
	MpesaStatusPending   = "pending"
	MpesaStatusCompleted = "completed"
	MpesaStatusFailed    = "failed"
)

const (
	POStatusDraft             = "draft"
	POStatusSent              = "sent"
	POStatusPartiallyReceived = "partially_received"
	POStatusReceived          = "received"
	POStatusCancelled         = "cancelled"
)

const (
	GRNStatusPending   = "pending"
	GRNStatusVerified  = "verified"
	GRNStatusCompleted = "completed"
)

const (
	ReturnStatusPending   = "pending"
	ReturnStatusCompleted = "completed"
	ReturnStatusRejected  = "rejected"
)

const (
	TierBronze   = "Bronze"
	TierSilver   = "Silver"
	TierGold     = "Gold"
	TierPlatinum = "Platinum"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
