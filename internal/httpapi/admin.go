package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

func (a *API) handleGetLoyalty(w http.ResponseWriter, r *http.Request) {
	member, err := a.service.GetLoyaltyMember(r.Context(), r.PathValue("customer"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (a *API) handleRedeemLoyalty(w http.ResponseWriter, r *http.Request) {
	var req domain.LoyaltyRedeemRequest
	if !a.decode(w, r, &req) {
		return
	}
	member, err := a.service.RedeemLoyaltyPoints(r.Context(), r.PathValue("customer"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member": member})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": values})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if !a.decode(w, r, &req) {
		return
	}
	values, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": values})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("store_id"), r.URL.Query().Get("date"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.DailySummary(r.Context(), r.URL.Query().Get("store_id"), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-summary-%s.csv\"", summary.Date))
		_, _ = w.Write([]byte(dailySummaryCSV(summary)))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func dailySummaryCSV(s domain.DailySummary) string {
	rows := []string{
		"key,value",
		"date," + s.Date,
		"store_id," + s.StoreID,
		fmt.Sprintf("completed_sales,%d", s.CompletedSales),
		fmt.Sprintf("cancelled_sales,%d", s.CancelledSales),
		fmt.Sprintf("gross_sales_cents,%d", s.GrossSalesCents),
		fmt.Sprintf("discount_cents,%d", s.DiscountCents),
		fmt.Sprintf("tax_cents,%d", s.TaxCents),
		fmt.Sprintf("cash_cents,%d", s.CashCents),
		fmt.Sprintf("mpesa_cents,%d", s.MpesaCents),
		fmt.Sprintf("refunded_cents,%d", s.RefundedCents),
		fmt.Sprintf("low_stock_count,%d", s.LowStockCount),
	}
	return strings.Join(rows, "\n") + "\n"
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
