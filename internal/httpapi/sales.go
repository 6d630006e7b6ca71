package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/mpesa"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

const maxCallbackBody = 64 << 10

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCashPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CashPaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.AddCashPayment(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMpesaPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.MobilePaymentRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.service.StartMobilePayment(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) handleListMpesaPayments(w http.ResponseWriter, r *http.Request) {
	txns, err := a.service.ListMobilePayments(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (a *API) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetSettlement(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSettlementStream pushes settlement changes as Server-Sent Events until
// the sale leaves pending or the client goes away.
func (a *API) handleSettlementStream(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	updates, cancel := a.service.SubscribeSettlement(saleID)
	defer cancel()

	current, err := a.service.GetSettlement(r.Context(), saleID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !writeEvent(w, current) {
		return
	}
	flusher.Flush()
	if current.SaleStatus != domain.SaleStatusPending {
		return
	}

	keepAlive := time.NewTicker(a.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case view, open := <-updates:
			if !open {
				return
			}
			if !writeEvent(w, view) {
				return
			}
			flusher.Flush()
			if view.SaleStatus != domain.SaleStatusPending {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, view domain.Settlement) bool {
	payload, err := json.Marshal(view)
	if err != nil {
		return false
	}
	_, err = fmt.Fprintf(w, "event: settlement\ndata: %s\n\n", payload)
	return err == nil
}

func (a *API) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.CompleteSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCancelRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.pinLimiter.Allow("pin:cancel:" + clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		a.writeError(w, r, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}
	resp, err := a.service.CancelSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMpesaCallback acknowledges callbacks it resolved or could not parse.
// Unknown checkout ids and storage failures answer 500 so Daraja redelivers.
func (a *API) handleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("read callback: %w", err))
		return
	}

	txn, changed, err := a.service.HandleMpesaCallback(r.Context(), r.URL.Query().Get("token"), body)
	switch {
	case errors.Is(err, mpesa.ErrUnauthorizedCallback):
		log.Warn("rejected mpesa callback", zap.String("remote", clientKey(r)))
		a.writeError(w, r, http.StatusUnauthorized, err)
		return
	case errors.Is(err, store.ErrNotFound):
		log.Error("mpesa callback for unknown checkout request", zap.Error(err))
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	case errors.Is(err, store.ErrInvalidTransaction):
		log.Warn("ignored mpesa callback", zap.Error(err))
	case err != nil:
		a.writeError(w, r, http.StatusInternalServerError, err)
		return
	default:
		log.Info("mpesa callback",
			zap.String("checkout_request_id", txn.CheckoutRequestID),
			zap.String("status", txn.Status),
			zap.Bool("changed", changed),
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}
