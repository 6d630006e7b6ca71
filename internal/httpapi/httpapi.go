package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/loyalty"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/mpesa"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/service"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/settlement"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

const maxJSONBody = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	validate      *validator.Validate
	logger        *zap.Logger
	keepAlive     time.Duration
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, l *zap.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		panic(fmt.Sprintf("read csrf secret: %v", err))
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		logger:        logger.OrNop(l).Named("http"),
		keepAlive:     15 * time.Second,
	}
}

// csrfTokenForHour is the hex HMAC of an hour bucket (unix seconds truncated
// to the hour).
func (a *API) csrfTokenForHour(bucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", bucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour's token.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	for _, bucket := range []int64{current, current - 3600} {
		if hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(bucket))) {
			return true
		}
	}
	return false
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

// Allow records an attempt for key and reports whether it is within the
// sliding window budget.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.entries[key][:0]
	for _, ts := range l.entries[key] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= l.max {
		l.entries[key] = recent
		return false
	}
	l.entries[key] = append(recent, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	anyRole := []string{domain.RoleCashier, domain.RoleAdmin}
	admin := []string{domain.RoleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("POST /api/v1/mpesa/callback", a.handleMpesaCallback)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyRole...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, admin...))
	mux.HandleFunc("GET /api/v1/products/{sku}", a.requireAuth(a.handleGetProduct, anyRole...))
	mux.HandleFunc("GET /api/v1/products/{sku}/movements", a.requireAuth(a.handleStockMovements, anyRole...))
	mux.HandleFunc("POST /api/v1/stock/adjustments", a.requireAuth(a.handleStockAdjustment, admin...))
	mux.HandleFunc("POST /api/v1/stock/transfers", a.requireAuth(a.handleStockTransfer, admin...))
	mux.HandleFunc("POST /api/v1/stock/counts", a.requireAuth(a.handleStockCount, admin...))
	mux.HandleFunc("GET /api/v1/stock/low", a.requireAuth(a.handleLowStock, anyRole...))

	mux.HandleFunc("POST /api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, anyRole...))
	mux.HandleFunc("POST /api/v1/shifts/close", a.requireAuth(a.handleShiftClose, anyRole...))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleShiftActive, anyRole...))

	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, anyRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, anyRole...))
	mux.HandleFunc("POST /api/v1/sales/{id}/payments/cash", a.requireAuth(a.handleCashPayment, anyRole...))
	mux.HandleFunc("POST /api/v1/sales/{id}/payments/mpesa", a.requireAuth(a.handleMpesaPayment, anyRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}/payments/mpesa", a.requireAuth(a.handleListMpesaPayments, anyRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}/settlement", a.requireAuth(a.handleGetSettlement, anyRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}/settlement/stream", a.requireAuth(a.handleSettlementStream, anyRole...))
	mux.HandleFunc("POST /api/v1/sales/{id}/complete", a.requireAuth(a.handleCompleteSale, anyRole...))
	mux.HandleFunc("POST /api/v1/sales/{id}/cancel", a.requireAuth(a.handleCancelSale, anyRole...))

	mux.HandleFunc("GET /api/v1/suppliers", a.requireAuth(a.handleListSuppliers, admin...))
	mux.HandleFunc("POST /api/v1/suppliers", a.requireAuth(a.handleCreateSupplier, admin...))
	mux.HandleFunc("GET /api/v1/purchase-orders", a.requireAuth(a.handleListPurchaseOrders, admin...))
	mux.HandleFunc("POST /api/v1/purchase-orders", a.requireAuth(a.handleCreatePurchaseOrder, admin...))
	mux.HandleFunc("GET /api/v1/purchase-orders/{id}", a.requireAuth(a.handleGetPurchaseOrder, admin...))
	mux.HandleFunc("POST /api/v1/purchase-orders/{id}/send", a.requireAuth(a.handleSendPurchaseOrder, admin...))
	mux.HandleFunc("POST /api/v1/purchase-orders/{id}/cancel", a.requireAuth(a.handleCancelPurchaseOrder, admin...))
	mux.HandleFunc("POST /api/v1/purchase-orders/{id}/receive", a.requireAuth(a.handleReceivePurchaseOrder, admin...))
	mux.HandleFunc("GET /api/v1/purchase-orders/{id}/grns", a.requireAuth(a.handleListDeliveryNotes, admin...))
	mux.HandleFunc("GET /api/v1/grns/{id}", a.requireAuth(a.handleGetDeliveryNote, admin...))
	mux.HandleFunc("POST /api/v1/grns/{id}/verify", a.requireAuth(a.handleVerifyDeliveryNote, admin...))
	mux.HandleFunc("POST /api/v1/grns/{id}/complete", a.requireAuth(a.handleCompleteDeliveryNote, admin...))

	mux.HandleFunc("GET /api/v1/returns", a.requireAuth(a.handleListReturns, anyRole...))
	mux.HandleFunc("POST /api/v1/returns", a.requireAuth(a.handleCreateReturn, anyRole...))
	mux.HandleFunc("GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, anyRole...))
	mux.HandleFunc("POST /api/v1/returns/{id}/approve", a.requireAuth(a.handleApproveReturn, admin...))
	mux.HandleFunc("POST /api/v1/returns/{id}/reject", a.requireAuth(a.handleRejectReturn, admin...))

	mux.HandleFunc("GET /api/v1/loyalty/{customer}", a.requireAuth(a.handleGetLoyalty, anyRole...))
	mux.HandleFunc("POST /api/v1/loyalty/{customer}/redeem", a.requireAuth(a.handleRedeemLoyalty, admin...))

	mux.HandleFunc("GET /api/v1/settings", a.requireAuth(a.handleGetSettings, anyRole...))
	mux.HandleFunc("PATCH /api/v1/settings", a.requireAuth(a.handleUpdateSettings, admin...))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, admin...))
	mux.HandleFunc("GET /api/v1/reports/daily", a.requireAuth(a.handleDailyReport, admin...))
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, admin...))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, admin...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, r, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("actor", actor.Username)))
		next(w, r.WithContext(ctx))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}
	var req domain.LoginRequest
	if !a.decode(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrInactiveAccount) {
			status = http.StatusInternalServerError
		}
		a.writeError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns the token mutating requests must echo in
// X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

// csrfExemptPaths are called without a prior token fetch. The M-Pesa callback
// is authenticated by its URL token instead.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/mpesa/callback",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		a.writeError(w, r, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		reqLogger := a.logger.With(zap.String("request_id", requestID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLogger))
		if !a.checkCSRF(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		reqLogger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// decode reads a JSON body into dest and runs its validate tags. An empty
// body decodes as an empty object. It writes a 400 and returns false on
// failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: %s", store.ErrInvalidTransaction, describeValidation(verrs)))
			return false
		}
		a.writeError(w, r, http.StatusBadRequest, err)
		return false
	}
	return true
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps an operation error to its HTTP status and whether the client
// may safely resend the same request.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, false
	case errors.Is(err, mpesa.ErrUnauthorizedCallback):
		return http.StatusUnauthorized, false
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, ledger.ErrConcurrentStockConflict),
		errors.Is(err, store.ErrStockConflict):
		return http.StatusConflict, true
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, settlement.ErrPushPending),
		errors.Is(err, loyalty.ErrInsufficientPoints),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, false
	case errors.Is(err, mpesa.ErrPushUnrecorded):
		return http.StatusInternalServerError, false
	case errors.Is(err, mpesa.ErrGatewayRejected):
		return http.StatusBadGateway, true
	case errors.Is(err, mpesa.ErrGatewayUnavailable):
		return http.StatusGatewayTimeout, false
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest, false
	default:
		return http.StatusInternalServerError, false
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, retry := statusFor(err)
	a.writeErrorBody(w, r, status, err, retry)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	a.writeErrorBody(w, r, status, err, false)
}

func (a *API) writeErrorBody(w http.ResponseWriter, r *http.Request, status int, err error, safeToRetry bool) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, map[string]any{
		"error":         msg,
		"safe_to_retry": safeToRetry,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
