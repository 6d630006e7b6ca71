package domain

const (
	MovementSale            = "sale"
	MovementSaleReturn      = "sale_return"
	MovementPurchaseReceipt = "purchase_receipt"
	MovementAdjustmentIn    = "adjustment_in"
	MovementAdjustmentOut   = "adjustment_out"
	MovementTransferIn      = "transfer_in"
	MovementTransferOut     = "transfer_out"
	MovementDamaged         = "damaged"
	MovementExpired         = "expired"
	MovementInitialStock    = "initial_stock"
)

const (
	RefTypeSale         = "sale"
	RefTypeReturn       = "return"
	RefTypeDeliveryNote = "delivery_note"
	RefTypeTransfer     = "transfer"
	RefTypeAdjustment   = "adjustment"
	RefTypeStockCount   = "stock_count"
	RefTypeProduct      = "product"
)

// IsOutboundMovement reports whether the type removes stock and is
// therefore subject to the non-negative counter check.
func IsOutboundMovement(movementType string) bool {
	switch movementType {
	case MovementSale, MovementTransferOut, MovementAdjustmentOut, MovementDamaged, MovementExpired:
		return true
	default:
		return false
	}
}

// IsInboundMovement reports whether the type always adds stock.
func IsInboundMovement(movementType string) bool {
	switch movementType {
	case MovementPurchaseReceipt, MovementSaleReturn, MovementAdjustmentIn, MovementTransferIn, MovementInitialStock:
		return true
	default:
		return false
	}
}

func IsValidMovementType(movementType string) bool {
	return IsOutboundMovement(movementType) || IsInboundMovement(movementType)
}
