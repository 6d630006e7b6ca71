package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(config.MpesaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://pos.example.com/api/v1/mpesa/callback?token=abc",
		RequestTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2026, 5, 4, 6, 30, 0, 0, time.UTC) }
	return client
}

func TestPasswordIsBase64OfShortcodePasskeyTimestamp(t *testing.T) {
	got := Password("174379", "passkey", "20260504093000")
	raw, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20260504093000", string(raw))
}

func TestClientSTKPushCachesToken(t *testing.T) {
	var tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			atomic.AddInt32(&tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			var body stkPushBody
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "174379", body.BusinessShortCode)
			assert.Equal(t, "20260504093000", body.Timestamp)
			assert.Equal(t, Password("174379", "passkey", "20260504093000"), body.Password)
			assert.Equal(t, "CustomerPayBillOnline", body.TransactionType)
			assert.Equal(t, int64(151), body.Amount)
			assert.Equal(t, "254712345678", body.PartyA)
			assert.Equal(t, "254712345678", body.PhoneNumber)
			assert.Equal(t, "174379", body.PartyB)
			assert.LessOrEqual(t, len(body.AccountReference), 12)
			_ = json.NewEncoder(w).Encode(STKPushResponse{
				MerchantRequestID: "mr-1",
				CheckoutRequestID: "ws_CO_1",
				ResponseCode:      "0",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	for i := 0; i < 2; i++ {
		resp, err := client.STKPush(context.Background(), STKPushRequest{
			Phone:            "254712345678",
			AmountUnits:      151,
			AccountReference: "sale-0123456789abcdef",
			Description:      "POS payment",
		})
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestClientSTKPushUsesRequestShortCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
		case "/mpesa/stkpush/v1/processrequest":
			var body stkPushBody
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "600987", body.BusinessShortCode)
			assert.Equal(t, "600987", body.PartyB)
			assert.Equal(t, Password("600987", "passkey", "20260504093000"), body.Password)
			_ = json.NewEncoder(w).Encode(STKPushResponse{CheckoutRequestID: "ws_CO_2", ResponseCode: "0"})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.STKPush(context.Background(), STKPushRequest{
		Phone:       "254712345678",
		AmountUnits: 10,
		ShortCode:   "600987",
	})
	require.NoError(t, err)
}

func TestClientSTKPushErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(darajaError{ErrorCode: "400.002.02", ErrorMessage: "Bad Request - Invalid PhoneNumber"})
			},
			wantErr: ErrGatewayRejected,
		},
		{
			name: "non zero response code",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(STKPushResponse{ResponseCode: "1", ResponseDescription: "rejected"})
			},
			wantErr: ErrGatewayRejected,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantErr: ErrGatewayRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/v1/generate" {
					_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
					return
				}
				tt.handler(w, r)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "254712345678", AmountUnits: 10})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClientSTKPushUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, url)
	_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "254712345678", AmountUnits: 10})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.MpesaConfig{ShortCode: "174379"})
	assert.Error(t, err)
}
