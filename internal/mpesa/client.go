package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
)

var (
	// ErrGatewayRejected means the provider refused the request; no push is outstanding.
	ErrGatewayRejected = errors.New("mpesa gateway rejected request")
	// ErrGatewayUnavailable covers transport failures and timeouts talking to the provider.
	ErrGatewayUnavailable = errors.New("mpesa gateway unavailable")
)

const (
	oauthPath           = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath         = "/mpesa/stkpush/v1/processrequest"
	transactionType     = "CustomerPayBillOnline"
	timestampLayout     = "20060102150405"
	tokenRefreshLeeway  = time.Minute
	defaultHTTPTimeout  = 15 * time.Second
	maxReferenceLength  = 12
	maxDescriptionLen   = 13
	responseCodeSuccess = "0"
)

var nairobi = time.FixedZone("EAT", 3*60*60)

// Provider initiates an STK push with the mobile-money operator.
type Provider interface {
	STKPush(ctx context.Context, req STKPushRequest) (STKPushResponse, error)
}

type STKPushRequest struct {
	Phone            string
	AmountUnits      int64
	AccountReference string
	Description      string
	// ShortCode is the paybill to collect into; empty means the configured one.
	ShortCode string
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Client talks to the Safaricom Daraja API.
type Client struct {
	cfg        config.MpesaConfig
	httpClient *http.Client
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg config.MpesaConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mpesa: consumer key, secret, shortcode and passkey are required")
	}
	if cfg.CallbackURL == "" {
		return nil, errors.New("mpesa: callback url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode string, passKey string, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (STKPushResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return STKPushResponse{}, err
	}

	shortCode := req.ShortCode
	if shortCode == "" {
		shortCode = c.cfg.ShortCode
	}
	timestamp := c.now().In(nairobi).Format(timestampLayout)
	body := stkPushBody{
		BusinessShortCode: shortCode,
		Password:          Password(shortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            req.AmountUnits,
		PartyA:            req.Phone,
		PartyB:            shortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.AccountReference, maxReferenceLength),
		TransactionDesc:   truncate(req.Description, maxDescriptionLen),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return STKPushResponse{}, fmt.Errorf("mpesa: marshal stk push: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, stkPushPath, payload, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if err != nil {
		return STKPushResponse{}, err
	}

	var resp STKPushResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return STKPushResponse{}, fmt.Errorf("%w: unreadable stk push response", ErrGatewayRejected)
	}
	if resp.ResponseCode != responseCodeSuccess {
		return STKPushResponse{}, fmt.Errorf("%w: %s %s", ErrGatewayRejected, resp.ResponseCode, resp.ResponseDescription)
	}
	if resp.CheckoutRequestID == "" {
		return STKPushResponse{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrGatewayRejected)
	}
	return resp, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	respBody, err := c.do(ctx, http.MethodGet, oauthPath, nil, func(r *http.Request) {
		r.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	})
	if err != nil {
		return "", err
	}
	var token tokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil || token.AccessToken == "" {
		return "", fmt.Errorf("%w: unreadable oauth response", ErrGatewayRejected)
	}

	ttl := time.Hour
	if seconds, err := strconv.Atoi(token.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	c.token = token.AccessToken
	c.tokenExpiry = c.now().Add(ttl - tokenRefreshLeeway)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte, authorize func(*http.Request)) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("mpesa: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var derr darajaError
		if err := json.Unmarshal(respBody, &derr); err == nil && derr.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: %s - %s", ErrGatewayRejected, derr.ErrorCode, derr.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: HTTP %d", ErrGatewayRejected, resp.StatusCode)
	}
	return respBody, nil
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) > max {
		return value[:max]
	}
	return value
}
