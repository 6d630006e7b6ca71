// Package settlement tracks how a sale is being paid across cash and mobile
// money and publishes every change to subscribers.
package settlement

import (
	"strings"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

// reservePrefix marks a correlation slot held while the provider is being
// contacted; it is never exposed as a correlation id.
const reservePrefix = "reserve:"

// Compute derives the settlement status from the tendered totals. Totals only
// grow, so once paid a sale stays paid. A failed attempt only shows as failed
// while nothing has been tendered.
func Compute(totalCents, cashCents, mpesaCents int64, previous string, failed bool) domain.Settlement {
	tendered := cashCents + mpesaCents
	out := domain.Settlement{
		TotalCents: totalCents,
		CashCents:  cashCents,
		MpesaCents: mpesaCents,
	}
	if remaining := totalCents - tendered; remaining > 0 {
		out.RemainingCents = remaining
	} else {
		out.ChangeCents = -remaining
	}

	switch {
	case out.RemainingCents == 0:
		out.Status = domain.SettlementPaid
	case tendered > 0:
		out.Status = domain.SettlementPartiallyPaid
	case failed || previous == domain.SettlementFailed:
		out.Status = domain.SettlementFailed
	default:
		out.Status = domain.SettlementPending
	}
	return out
}

// View is the settlement projection of a stored sale.
func View(sale domain.Sale) domain.Settlement {
	out := Compute(sale.TotalCents, sale.CashTenderedCents, sale.MpesaTenderedCents, sale.SettlementStatus, false)
	out.SaleID = sale.ID
	out.SaleStatus = sale.Status
	out.LastError = sale.LastPaymentError
	if sale.PendingCheckoutID != "" {
		out.AwaitingConfirmation = true
		if !strings.HasPrefix(sale.PendingCheckoutID, reservePrefix) {
			out.CorrelationID = sale.PendingCheckoutID
		}
	}
	return out
}

// PaymentMethod tags a sale by the tenders that settled it.
func PaymentMethod(cashCents, mpesaCents int64) string {
	switch {
	case cashCents > 0 && mpesaCents > 0:
		return domain.PaymentMethodHybrid
	case mpesaCents > 0:
		return domain.PaymentMethodMpesa
	case cashCents > 0:
		return domain.PaymentMethodCash
	default:
		return domain.PaymentMethodNone
	}
}
