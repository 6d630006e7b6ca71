package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/loyalty"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/settlement"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// CreateSale prices the cart from the catalog and opens a pending sale. A
// repeated idempotency key returns the original sale.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.TerminalID == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: terminal_id is required", store.ErrInvalidTransaction)
	}
	if req.ManualDiscountCents < 0 || req.RedeemPoints < 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: discounts must not be negative", store.ErrInvalidTransaction)
	}
	if req.RedeemPoints > 0 && req.CustomerID == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: redeeming points needs a customer", store.ErrInvalidTransaction)
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return saleResponse(*existing, true), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, err
		}
	} else {
		req.IdempotencyKey = xid.New("idem")
	}

	items := normalizeItems(req.CartItems)
	if len(items) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: cart is empty", store.ErrInvalidTransaction)
	}

	shift, err := s.repo.GetActiveShift(ctx, req.StoreID, req.TerminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, fmt.Errorf("%w: active shift required", store.ErrInvalidTransaction)
		}
		return domain.SaleResponse{}, err
	}

	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	lines, err := priceLines(items, products, settings.TaxRatePercent)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	subtotal := int64(0)
	for _, line := range lines {
		subtotal += line.LineTotalCents
	}
	if req.ManualDiscountCents > subtotal {
		return domain.SaleResponse{}, fmt.Errorf("%w: discount exceeds subtotal", store.ErrInvalidTransaction)
	}

	loyaltyDiscount := loyalty.PointsValue(req.RedeemPoints, settings)
	if req.RedeemPoints > 0 {
		limit := loyalty.MaxRedemptionDiscount(subtotal, settings)
		if loyaltyDiscount > limit {
			return domain.SaleResponse{}, fmt.Errorf("%w: points worth %d exceed the redemption limit of %d", store.ErrInvalidTransaction, loyaltyDiscount, limit)
		}
	}
	discount := req.ManualDiscountCents + loyaltyDiscount
	if discount > subtotal {
		return domain.SaleResponse{}, fmt.Errorf("%w: discount exceeds subtotal", store.ErrInvalidTransaction)
	}
	tax := taxCents(lines, subtotal, discount)

	sale := domain.Sale{
		ID:                   xid.New("sale"),
		StoreID:              req.StoreID,
		TerminalID:           req.TerminalID,
		ShiftID:              shift.ID,
		CashierUsername:      actorName(ctx),
		CustomerID:           req.CustomerID,
		IdempotencyKey:       req.IdempotencyKey,
		SubtotalCents:        subtotal,
		ManualDiscountCents:  req.ManualDiscountCents,
		LoyaltyDiscountCents: loyaltyDiscount,
		RedeemedPoints:       req.RedeemPoints,
		DiscountCents:        discount,
		TaxCents:             tax,
		TotalCents:           subtotal - discount + tax,
		PaymentMethod:        domain.PaymentMethodNone,
		Status:               domain.SaleStatusPending,
		SettlementStatus:     domain.SettlementPending,
		CreatedAt:            s.now(),
		Items:                lines,
	}
	if sale.TotalCents == 0 {
		sale.SettlementStatus = domain.SettlementPaid
	}

	err = s.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		if sale.RedeemedPoints > 0 {
			if _, err := s.loyalty.RedeemTx(ctx, tx, sale.CustomerID, sale.RedeemedPoints); err != nil {
				return err
			}
		}
		return tx.InsertSale(ctx, sale)
	})
	if errors.Is(err, store.ErrDuplicate) {
		existing, findErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if findErr == nil {
			return saleResponse(*existing, true), nil
		}
	}
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, sale.StoreID, "sale_create", "sale", sale.ID,
		fmt.Sprintf("total=%d,discount=%d,redeemed_points=%d,items=%d", sale.TotalCents, sale.DiscountCents, sale.RedeemedPoints, len(sale.Items)))

	if sale.TotalCents == 0 {
		return s.completeAfterPayment(ctx, sale), nil
	}
	return saleResponse(sale, false), nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return saleResponse(*sale, false), nil
}

func (s *Service) GetSettlement(ctx context.Context, saleID string) (domain.Settlement, error) {
	return s.settlement.Get(ctx, strings.TrimSpace(saleID))
}

// SubscribeSettlement streams every committed change of the sale's settlement.
func (s *Service) SubscribeSettlement(saleID string) (<-chan domain.Settlement, func()) {
	return s.settlement.Subscribe(saleID)
}

// AddCashPayment records a cash tender and completes the sale once it is paid.
func (s *Service) AddCashPayment(ctx context.Context, saleID string, req domain.CashPaymentRequest) (domain.SaleResponse, error) {
	sale, err := s.settlement.AddCash(ctx, saleID, req.AmountCents)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	s.logAudit(ctx, sale.StoreID, "payment_cash", "sale", sale.ID, fmt.Sprintf("amount=%d,settlement=%s", req.AmountCents, sale.SettlementStatus))
	return s.completeAfterPayment(ctx, sale), nil
}

// StartMobilePayment sends an STK push for part or all of the balance.
func (s *Service) StartMobilePayment(ctx context.Context, saleID string, req domain.MobilePaymentRequest) (domain.MobilePaymentResponse, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.MobilePaymentResponse{}, err
	}
	txn, sale, err := s.settlement.InitiateMobilePush(ctx, saleID, req.Phone, req.AmountCents, settings.MpesaShortCode)
	if err != nil {
		return domain.MobilePaymentResponse{}, err
	}
	s.logAudit(ctx, sale.StoreID, "payment_mpesa_push", "sale", sale.ID,
		fmt.Sprintf("amount=%d,checkout_request_id=%s", req.AmountCents, txn.CheckoutRequestID))
	return domain.MobilePaymentResponse{Settlement: settlement.View(sale), Transaction: txn}, nil
}

func (s *Service) ListMobilePayments(ctx context.Context, saleID string) ([]domain.MpesaTransaction, error) {
	return s.repo.ListMpesaTransactionsBySale(ctx, strings.TrimSpace(saleID))
}

// HandleMpesaCallback resolves a provider callback and completes the sale
// when the confirmation settles it.
func (s *Service) HandleMpesaCallback(ctx context.Context, token string, body []byte) (domain.MpesaTransaction, bool, error) {
	txn, changed, err := s.gateway.HandleCallback(ctx, token, body)
	if err != nil {
		return domain.MpesaTransaction{}, false, err
	}
	if changed {
		s.afterMobileResult(ctx, txn)
	}
	return txn, changed, nil
}

// ExpireStalePushes fails pushes that outlived the configured timeout.
func (s *Service) ExpireStalePushes(ctx context.Context) (int, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return 0, err
	}
	expired, err := s.gateway.ExpireStale(ctx, s.now(), settings.MpesaPushTimeout)
	for _, txn := range expired {
		s.afterMobileResult(ctx, txn)
	}
	return len(expired), err
}

func (s *Service) afterMobileResult(ctx context.Context, txn domain.MpesaTransaction) {
	s.settlement.Notify(ctx, txn.SaleID)
	if txn.Status != domain.MpesaStatusCompleted {
		return
	}
	sale, err := s.repo.GetSale(ctx, txn.SaleID)
	if err != nil {
		s.logger.Warn("load sale after mobile payment", zap.String("sale_id", txn.SaleID), zap.Error(err))
		return
	}
	resp := s.completeAfterPayment(ctx, *sale)
	if resp.CompletionError != "" {
		s.logger.Warn("sale paid but not completed",
			zap.String("sale_id", txn.SaleID),
			zap.String("checkout_request_id", txn.CheckoutRequestID),
			zap.String("error", resp.CompletionError),
		)
	}
}

// CompleteSale retries completion of a fully paid sale, for example once
// stock has been received after a shortage.
func (s *Service) CompleteSale(ctx context.Context, saleID string) (domain.SaleResponse, error) {
	sale, err := s.completeSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return saleResponse(sale, false), nil
}

// completeAfterPayment tries to complete sale once a payment committed. The
// payment stands even when completion fails; the reason is reported instead.
func (s *Service) completeAfterPayment(ctx context.Context, sale domain.Sale) domain.SaleResponse {
	if sale.Status != domain.SaleStatusPending || settlement.View(sale).Status != domain.SettlementPaid {
		return saleResponse(sale, false)
	}
	completed, err := s.completeSale(ctx, sale.ID)
	if err != nil {
		latest := sale
		if current, getErr := s.repo.GetSale(ctx, sale.ID); getErr == nil {
			latest = *current
		}
		resp := saleResponse(latest, false)
		resp.CompletionError = err.Error()
		return resp
	}
	return saleResponse(completed, false)
}

// completeSale debits stock, tags the payment method and awards loyalty
// points in one unit. Already completed sales are returned unchanged.
func (s *Service) completeSale(ctx context.Context, saleID string) (domain.Sale, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	var (
		out       domain.Sale
		completed bool
	)
	err = s.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		completed = false
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		out = *sale
		switch sale.Status {
		case domain.SaleStatusCompleted:
			return nil
		case domain.SaleStatusCancelled:
			return fmt.Errorf("%w: sale %s is cancelled", store.ErrInvalidTransaction, sale.ID)
		}
		if settlement.View(*sale).Status != domain.SettlementPaid {
			return fmt.Errorf("%w: sale %s is not fully paid", store.ErrInvalidTransaction, sale.ID)
		}

		movements := make([]ledger.Movement, 0, len(sale.Items))
		for _, item := range sale.Items {
			movements = append(movements, ledger.Movement{
				StoreID:       sale.StoreID,
				SKU:           item.SKU,
				Type:          domain.MovementSale,
				Delta:         -item.Qty,
				ReferenceType: domain.RefTypeSale,
				ReferenceID:   sale.ID,
				Actor:         sale.CashierUsername,
			})
		}
		if _, err := s.ledger.ApplyTx(ctx, tx, movements...); err != nil {
			return err
		}

		if sale.CustomerID != "" {
			if _, err := s.loyalty.AwardTx(ctx, tx, sale.CustomerID, sale.TotalCents, settings); err != nil {
				return err
			}
			sale.AwardedPoints = loyalty.PointsFor(sale.TotalCents, settings)
		}

		now := s.now()
		sale.Status = domain.SaleStatusCompleted
		sale.SettlementStatus = domain.SettlementPaid
		sale.PaymentMethod = settlement.PaymentMethod(sale.CashTenderedCents, sale.MpesaTenderedCents)
		sale.CompletedAt = &now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		out = *sale
		completed = true
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	if completed {
		s.settlement.Notify(ctx, out.ID)
		s.logAudit(ctx, out.StoreID, "sale_complete", "sale", out.ID,
			fmt.Sprintf("total=%d,payment=%s,points=%d", out.TotalCents, out.PaymentMethod, out.AwardedPoints))
	}
	return out, nil
}

// CancelSale voids a pending sale and gives back redeemed points. Manager
// authorization is checked by the caller.
func (s *Service) CancelSale(ctx context.Context, saleID string, req domain.SaleCancelRequest) (domain.SaleResponse, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: cancel reason is required", store.ErrInvalidTransaction)
	}

	var out domain.Sale
	err := s.ledger.RunAtomic(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, strings.TrimSpace(saleID))
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusPending {
			return fmt.Errorf("%w: sale %s is %s", store.ErrInvalidTransaction, sale.ID, sale.Status)
		}
		if sale.PendingCheckoutID != "" {
			return fmt.Errorf("%w: sale %s", settlement.ErrPushPending, sale.ID)
		}
		if sale.RedeemedPoints > 0 {
			if err := s.loyalty.RestoreTx(ctx, tx, sale.CustomerID, sale.RedeemedPoints); err != nil {
				return err
			}
		}
		now := s.now()
		sale.Status = domain.SaleStatusCancelled
		sale.CancelReason = reason
		sale.CancelledAt = &now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		out = *sale
		return nil
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.settlement.Notify(ctx, out.ID)
	s.logAudit(ctx, out.StoreID, "sale_cancel", "sale", out.ID,
		fmt.Sprintf("reason=%s,cash=%d,mpesa=%d", reason, out.CashTenderedCents, out.MpesaTenderedCents))
	return saleResponse(out, false), nil
}

func saleResponse(sale domain.Sale, duplicate bool) domain.SaleResponse {
	return domain.SaleResponse{Sale: sale, Settlement: settlement.View(sale), Duplicate: duplicate}
}

// normalizeItems upper-cases SKUs and merges repeated lines, keeping first-seen order.
func normalizeItems(items []domain.CartItem) []domain.CartItem {
	index := make(map[string]int, len(items))
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		if sku == "" || item.Qty < 1 {
			continue
		}
		if i, ok := index[sku]; ok {
			out[i].Qty += item.Qty
			continue
		}
		index[sku] = len(out)
		out = append(out, domain.CartItem{SKU: sku, Qty: item.Qty})
	}
	return out
}

func priceLines(items []domain.CartItem, products map[string]domain.Product, defaultRate float64) ([]domain.SaleLineItem, error) {
	lines := make([]domain.SaleLineItem, 0, len(items))
	var missing []string
	for _, item := range items {
		product, ok := products[item.SKU]
		if !ok || !product.Active {
			missing = append(missing, item.SKU)
			continue
		}
		rate := defaultRate
		if product.TaxRatePercent != nil {
			rate = *product.TaxRatePercent
		}
		lines = append(lines, domain.SaleLineItem{
			SKU:            product.SKU,
			Name:           product.Name,
			Qty:            item.Qty,
			UnitPriceCents: product.PriceCents,
			TaxRatePercent: rate,
			LineTotalCents: int64(item.Qty) * product.PriceCents,
		})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: unknown or inactive sku %s", store.ErrInvalidTransaction, strings.Join(missing, ", "))
	}
	return lines, nil
}

// taxCents applies each line's rate to its share of the discounted subtotal
// and rounds the sum half-up once.
func taxCents(lines []domain.SaleLineItem, subtotal int64, discount int64) int64 {
	if subtotal <= 0 || discount >= subtotal {
		return 0
	}
	gross := decimal.Zero
	for _, line := range lines {
		gross = gross.Add(decimal.NewFromInt(line.LineTotalCents).Mul(decimal.NewFromFloat(line.TaxRatePercent)).Div(hundred))
	}
	share := decimal.NewFromInt(subtotal - discount).Div(decimal.NewFromInt(subtotal))
	return gross.Mul(share).Round(0).IntPart()
}
