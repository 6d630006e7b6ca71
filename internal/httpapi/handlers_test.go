package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/mpesa"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/service"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/memory"
)

const callbackToken = "cb-secret"

type testServer struct {
	api *API
	sim *mpesa.Simulator
	h   http.Handler
}

// newTestServer wires the real service over the seeded memory store so
// handler tests exercise the whole request path.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := memory.NewSeeded()
	sim := mpesa.NewSimulator()
	svc := service.New(repo, sim, service.WithCallbackToken(callbackToken))
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo, nil)
	api := New(svc, auth, "*", nil)
	return &testServer{api: api, sim: sim, h: api.Handler()}
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestServer(t).api
}

func (s *testServer) login(t *testing.T, username string, password string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp.AccessToken
}

func (s *testServer) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", s.api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	srv := newTestServer(t)
	if rec := srv.do(t, http.MethodGet, "/api/v1/products", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token := srv.login(t, "cashier", "cashier123")
	rec := srv.do(t, http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Products []domain.ProductView `json:"products"`
	}
	decodeBody(t, rec, &body)
	if len(body.Products) != 8 {
		t.Fatalf("expected 8 seeded products, got %d", len(body.Products))
	}

	create := domain.ProductCreateRequest{SKU: "SKU-X", Name: "X", PriceCents: 100}
	if rec := srv.do(t, http.MethodPost, "/api/v1/products", token, create); rec.Code != http.StatusForbidden {
		t.Fatalf("cashier create product expected 403, got %d", rec.Code)
	}
}

func TestCreateSaleValidationError(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "cashier", "cashier123")

	rec := srv.do(t, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{TerminalID: "till-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["safe_to_retry"] != false {
		t.Fatalf("expected safe_to_retry=false, got %v", body)
	}
}

func TestCashSaleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "cashier", "cashier123")

	if rec := srv.do(t, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{TerminalID: "till-1"}); rec.Code != http.StatusOK {
		t.Fatalf("open shift: %d %s", rec.Code, rec.Body.String())
	}
	rec := srv.do(t, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		TerminalID: "till-1",
		CartItems:  []domain.CartItem{{SKU: "SKU-MAJI-1L", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.SaleResponse
	decodeBody(t, rec, &created)

	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+created.Sale.ID+"/payments/cash", token, domain.CashPaymentRequest{AmountCents: 10000})
	if rec.Code != http.StatusOK {
		t.Fatalf("cash payment: %d %s", rec.Code, rec.Body.String())
	}
	var paid domain.SaleResponse
	decodeBody(t, rec, &paid)
	if paid.Sale.Status != domain.SaleStatusCompleted || paid.Settlement.Status != domain.SettlementPaid {
		t.Fatalf("expected completed sale, got %s/%s", paid.Sale.Status, paid.Settlement.Status)
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/sales/missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sale, got %d", rec.Code)
	}
}

func TestMpesaPaymentAndCallback(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "cashier", "cashier123")
	srv.do(t, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{TerminalID: "till-1"})
	rec := srv.do(t, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		TerminalID: "till-1",
		CartItems:  []domain.CartItem{{SKU: "SKU-MAJI-1L", Qty: 1}},
	})
	var created domain.SaleResponse
	decodeBody(t, rec, &created)
	saleID := created.Sale.ID

	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+saleID+"/payments/mpesa", token, domain.MobilePaymentRequest{Phone: "0712345678", AmountCents: 5000})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("push: %d %s", rec.Code, rec.Body.String())
	}
	var push domain.MobilePaymentResponse
	decodeBody(t, rec, &push)

	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+saleID+"/payments/mpesa", token, domain.MobilePaymentRequest{Phone: "0712345678", AmountCents: 5000})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second push expected 409, got %d", rec.Code)
	}

	body := fmt.Sprintf(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":50},{"Name":"MpesaReceiptNumber","Value":"QAB12CD34E"}]}}}}`, push.Transaction.CheckoutRequestID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mpesa/callback?token=wrong", strings.NewReader(body))
	res := httptest.NewRecorder()
	srv.h.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("bad callback token expected 401, got %d", res.Code)
	}

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/mpesa/callback?token="+callbackToken, strings.NewReader(body))
		res = httptest.NewRecorder()
		srv.h.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("callback %d expected 200, got %d (%s)", i+1, res.Code, res.Body.String())
		}
		var ack map[string]any
		decodeBody(t, res, &ack)
		if ack["ResultCode"] != float64(0) {
			t.Fatalf("unexpected ack %v", ack)
		}
	}

	rec = srv.do(t, http.MethodGet, "/api/v1/sales/"+saleID, token, nil)
	var done domain.SaleResponse
	decodeBody(t, rec, &done)
	if done.Sale.Status != domain.SaleStatusCompleted || done.Sale.MpesaTenderedCents != 5000 {
		t.Fatalf("expected completed sale credited once, got %s %d", done.Sale.Status, done.Sale.MpesaTenderedCents)
	}
}

func TestCallbackForUnknownCheckoutIsRedelivered(t *testing.T) {
	srv := newTestServer(t)
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m-9","CheckoutRequestID":"ws_CO_unknown","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":50},{"Name":"MpesaReceiptNumber","Value":"QAB12CD99Z"}]}}}}`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/mpesa/callback?token="+callbackToken, strings.NewReader(body))
		res := httptest.NewRecorder()
		srv.h.ServeHTTP(res, req)
		if res.Code != http.StatusInternalServerError {
			t.Fatalf("delivery %d expected 500 for unknown checkout id, got %d (%s)", i+1, res.Code, res.Body.String())
		}
	}
}

func TestGatewayRejectionIsSafeToRetry(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "cashier", "cashier123")
	srv.do(t, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{TerminalID: "till-1"})
	rec := srv.do(t, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		TerminalID: "till-1",
		CartItems:  []domain.CartItem{{SKU: "SKU-MAJI-1L", Qty: 1}},
	})
	var created domain.SaleResponse
	decodeBody(t, rec, &created)

	srv.sim.Err = fmt.Errorf("%w: bad credentials", mpesa.ErrGatewayRejected)
	rec = srv.do(t, http.MethodPost, "/api/v1/sales/"+created.Sale.ID+"/payments/mpesa", token, domain.MobilePaymentRequest{Phone: "0712345678", AmountCents: 5000})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["safe_to_retry"] != true {
		t.Fatalf("expected safe_to_retry=true, got %v", body)
	}
}

func TestSettlementStreamSendsCurrentState(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "cashier", "cashier123")
	srv.do(t, http.MethodPost, "/api/v1/shifts/open", token, domain.ShiftOpenRequest{TerminalID: "till-1"})
	rec := srv.do(t, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		TerminalID: "till-1",
		CartItems:  []domain.CartItem{{SKU: "SKU-MAJI-1L", Qty: 1}},
	})
	var created domain.SaleResponse
	decodeBody(t, rec, &created)

	server := httptest.NewServer(srv.h)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/sales/"+created.Sale.ID+"/settlement/stream", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var views []domain.Settlement
	paid := false
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var view domain.Settlement
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		views = append(views, view)
		if view.SaleStatus == domain.SaleStatusCompleted {
			break
		}
		if !paid {
			paid = true
			srv.do(t, http.MethodPost, "/api/v1/sales/"+created.Sale.ID+"/payments/cash", token, domain.CashPaymentRequest{AmountCents: 5000})
		}
	}
	if len(views) < 2 || views[0].Status != domain.SettlementPending {
		t.Fatalf("expected pending then completed events, got %+v", views)
	}
	if last := views[len(views)-1]; last.SaleStatus != domain.SaleStatusCompleted {
		t.Fatalf("stream ended before completion: %+v", last)
	}
}
