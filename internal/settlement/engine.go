package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/mpesa"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

// ErrPushPending means a mobile-money push for the sale is still outstanding.
var ErrPushPending = errors.New("mobile payment already pending")

type Store interface {
	store.SaleReader
}

// MobileGateway starts a push with the mobile-money provider.
type MobileGateway interface {
	Push(ctx context.Context, req mpesa.PushRequest) (domain.MpesaTransaction, error)
}

type Engine struct {
	atomic  store.Atomic
	repo    Store
	gateway MobileGateway
	hub     *Hub
	logger  *zap.Logger
}

// New wires the engine. atomic is usually the stock ledger, so a unit that
// loses a serialization race with a callback on the same sale is retried.
func New(atomic store.Atomic, repo Store, gateway MobileGateway, hub *Hub, l *zap.Logger) *Engine {
	if hub == nil {
		hub = NewHub()
	}
	return &Engine{atomic: atomic, repo: repo, gateway: gateway, hub: hub, logger: logger.OrNop(l)}
}

func (e *Engine) Get(ctx context.Context, saleID string) (domain.Settlement, error) {
	sale, err := e.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Settlement{}, err
	}
	return View(*sale), nil
}

func (e *Engine) Subscribe(saleID string) (<-chan domain.Settlement, func()) {
	return e.hub.Subscribe(saleID)
}

// Notify publishes the committed settlement of saleID to subscribers.
func (e *Engine) Notify(ctx context.Context, saleID string) {
	view, err := e.Get(ctx, saleID)
	if err != nil {
		e.logger.Warn("settlement notify failed", zap.String("sale_id", saleID), zap.Error(err))
		return
	}
	e.hub.Publish(view)
}

func payable(sale *domain.Sale) error {
	if sale.Status != domain.SaleStatusPending {
		return fmt.Errorf("%w: sale %s is %s", store.ErrInvalidTransaction, sale.ID, sale.Status)
	}
	if sale.CashTenderedCents+sale.MpesaTenderedCents >= sale.TotalCents {
		return fmt.Errorf("%w: sale %s is already settled", store.ErrInvalidTransaction, sale.ID)
	}
	return nil
}

// AddCash records a cash tender against the latest stored totals.
func (e *Engine) AddCash(ctx context.Context, saleID string, amountCents int64) (domain.Sale, error) {
	if amountCents <= 0 {
		return domain.Sale{}, fmt.Errorf("%w: cash amount must be positive", store.ErrInvalidTransaction)
	}

	var updated domain.Sale
	err := e.atomic.Atomic(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := payable(sale); err != nil {
			return err
		}
		sale.CashTenderedCents += amountCents
		sale.SettlementStatus = Compute(sale.TotalCents, sale.CashTenderedCents, sale.MpesaTenderedCents, sale.SettlementStatus, false).Status
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	e.logger.Info("cash tendered",
		zap.String("sale_id", saleID),
		zap.Int64("amount_cents", amountCents),
		zap.String("settlement_status", updated.SettlementStatus),
	)
	e.hub.Publish(View(updated))
	return updated, nil
}

// InitiateMobilePush reserves the sale's single correlation slot, asks the
// gateway to push, then attaches the provider's checkout id. The provider is
// never retried here. An empty shortCode uses the gateway's configured one.
func (e *Engine) InitiateMobilePush(ctx context.Context, saleID string, phone string, amountCents int64, shortCode string) (domain.MpesaTransaction, domain.Sale, error) {
	if amountCents <= 0 {
		return domain.MpesaTransaction{}, domain.Sale{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}
	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return domain.MpesaTransaction{}, domain.Sale{}, err
	}

	reservation := reservePrefix + xid.New("")
	err = e.atomic.Atomic(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := payable(sale); err != nil {
			return err
		}
		if sale.PendingCheckoutID != "" {
			return fmt.Errorf("%w: sale %s", ErrPushPending, saleID)
		}
		remaining := sale.TotalCents - sale.CashTenderedCents - sale.MpesaTenderedCents
		if amountCents > remaining {
			return fmt.Errorf("%w: amount %d exceeds remaining %d", store.ErrInvalidTransaction, amountCents, remaining)
		}
		sale.PendingCheckoutID = reservation
		sale.LastPaymentError = ""
		sale.SettlementStatus = Compute(sale.TotalCents, sale.CashTenderedCents, sale.MpesaTenderedCents, domain.SettlementPending, false).Status
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return domain.MpesaTransaction{}, domain.Sale{}, err
	}
	e.Notify(ctx, saleID)

	txn, pushErr := e.gateway.Push(ctx, mpesa.PushRequest{
		SaleID:      saleID,
		Phone:       normalized,
		AmountCents: amountCents,
		Reference:   saleID,
		ShortCode:   shortCode,
	})
	if pushErr != nil {
		if !errors.Is(pushErr, mpesa.ErrPushUnrecorded) {
			sale, err := e.release(ctx, saleID, reservation, pushErr)
			if err != nil {
				e.logger.Error("release mobile push reservation", zap.String("sale_id", saleID), zap.Error(err))
			} else {
				e.hub.Publish(View(sale))
			}
			return domain.MpesaTransaction{}, sale, pushErr
		}
		// The customer may still pay, so the slot stays taken until the
		// push resolves.
		e.logger.Error("mobile push not recorded, keeping reservation",
			zap.String("sale_id", saleID),
			zap.String("checkout_request_id", txn.CheckoutRequestID),
			zap.Error(pushErr),
		)
	}

	var updated domain.Sale
	err = e.atomic.Atomic(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.PendingCheckoutID == reservation && txn.CheckoutRequestID != "" {
			sale.PendingCheckoutID = txn.CheckoutRequestID
			if err := tx.UpdateSale(ctx, *sale); err != nil {
				return err
			}
		}
		updated = *sale
		return nil
	})
	if err != nil {
		if pushErr != nil {
			return txn, domain.Sale{}, pushErr
		}
		return txn, domain.Sale{}, fmt.Errorf("attach checkout request %s: %w", txn.CheckoutRequestID, err)
	}
	if pushErr != nil {
		e.hub.Publish(View(updated))
		return txn, updated, pushErr
	}

	e.logger.Info("mobile push initiated",
		zap.String("sale_id", saleID),
		zap.String("checkout_request_id", txn.CheckoutRequestID),
		zap.Int64("amount_cents", amountCents),
	)
	e.hub.Publish(View(updated))
	return txn, updated, nil
}

func (e *Engine) release(ctx context.Context, saleID string, reservation string, cause error) (domain.Sale, error) {
	var out domain.Sale
	err := e.atomic.Atomic(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		out = *sale
		if sale.PendingCheckoutID != reservation {
			return nil
		}
		sale.PendingCheckoutID = ""
		sale.LastPaymentError = cause.Error()
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		out = *sale
		return nil
	})
	return out, err
}

// ApplyMobileResult applies a terminal push outcome inside the caller's unit
// of work. Confirmed money is always credited, even on a sale that is no
// longer pending, so it shows up for refund.
func (e *Engine) ApplyMobileResult(ctx context.Context, tx store.Tx, result domain.MpesaResult) error {
	sale, err := tx.LockSale(ctx, result.SaleID)
	if err != nil {
		return fmt.Errorf("apply mobile result to sale %s: %w", result.SaleID, err)
	}

	owned := sale.PendingCheckoutID == result.CheckoutRequestID ||
		strings.HasPrefix(sale.PendingCheckoutID, reservePrefix)
	if owned {
		sale.PendingCheckoutID = ""
	}

	if result.Success {
		sale.MpesaTenderedCents += result.AmountCents
		sale.LastPaymentError = ""
		sale.SettlementStatus = Compute(sale.TotalCents, sale.CashTenderedCents, sale.MpesaTenderedCents, sale.SettlementStatus, false).Status
	} else {
		if !owned {
			return nil
		}
		sale.LastPaymentError = failureMessage(result)
		sale.SettlementStatus = Compute(sale.TotalCents, sale.CashTenderedCents, sale.MpesaTenderedCents, sale.SettlementStatus, true).Status
	}
	return tx.UpdateSale(ctx, *sale)
}

func failureMessage(result domain.MpesaResult) string {
	if result.ResultDesc != "" {
		return result.ResultDesc
	}
	return "mobile payment failed (" + result.ResultCode + ")"
}
