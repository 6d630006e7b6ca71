package mpesa

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/cache"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/logger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

var (
	// ErrUnauthorizedCallback means the callback did not carry the shared token.
	ErrUnauthorizedCallback = errors.New("unauthorized mpesa callback")
	// ErrPushUnrecorded means the provider accepted a push that could not be
	// stored. The customer may still pay, so the push must not be repeated.
	ErrPushUnrecorded = errors.New("mpesa push accepted but not recorded")
)

const (
	DefaultPushTimeout = 90 * time.Second
	ResultCodeTimeout  = "timeout"
	expirySweepLimit   = 100
	callbackKeyTTL     = 24 * time.Hour
)

// ResultHandler applies a terminal push outcome inside the unit of work that
// resolves the transaction row. Returning an error rolls both back.
type ResultHandler func(ctx context.Context, tx store.Tx, result domain.MpesaResult) error

type Store interface {
	store.MpesaReader
}

type PushRequest struct {
	SaleID      string
	Phone       string
	AmountCents int64
	Reference   string
	// ShortCode overrides the paybill the provider was configured with.
	ShortCode string
}

type Gateway struct {
	atomic        store.Atomic
	reader        Store
	provider      Provider
	handler       ResultHandler
	idempotency   cache.IdempotencyStore
	callbackToken string
	logger        *zap.Logger
	now           func() time.Time

	mu         sync.Mutex
	unrecorded map[string]domain.MpesaTransaction
}

type Option func(*Gateway)

func WithIdempotencyStore(s cache.IdempotencyStore) Option {
	return func(g *Gateway) {
		if s != nil {
			g.idempotency = s
		}
	}
}

func WithCallbackToken(token string) Option {
	return func(g *Gateway) { g.callbackToken = strings.TrimSpace(token) }
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway wires the adapter. atomic is usually the stock ledger so a
// resolution that races a stock write is retried as a whole.
func NewGateway(atomic store.Atomic, reader Store, provider Provider, opts ...Option) *Gateway {
	g := &Gateway{
		atomic:      atomic,
		reader:      reader,
		provider:    provider,
		idempotency: cache.NoopIdempotencyStore{},
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		unrecorded:  make(map[string]domain.MpesaTransaction),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnResult registers the handler invoked for every terminal resolution.
func (g *Gateway) OnResult(handler ResultHandler) {
	g.handler = handler
}

// Push asks the provider to prompt the customer's phone and records the
// outstanding request. Nothing is stored when the provider refuses. When the
// provider accepts but the row cannot be written, the transaction is held in
// memory and ErrPushUnrecorded is returned alongside it; the callback or the
// next expiry sweep stores it.
func (g *Gateway) Push(ctx context.Context, req PushRequest) (domain.MpesaTransaction, error) {
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return domain.MpesaTransaction{}, err
	}
	if req.AmountCents <= 0 {
		return domain.MpesaTransaction{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}
	units := WholeUnits(req.AmountCents)
	reference := req.Reference
	if reference == "" {
		reference = req.SaleID
	}

	resp, err := g.provider.STKPush(ctx, STKPushRequest{
		Phone:            phone,
		AmountUnits:      units,
		AccountReference: reference,
		Description:      "POS payment",
		ShortCode:        strings.TrimSpace(req.ShortCode),
	})
	if err != nil {
		g.logger.Warn("stk push failed",
			zap.String("sale_id", req.SaleID),
			zap.Int64("amount_units", units),
			zap.Error(err),
		)
		return domain.MpesaTransaction{}, err
	}

	txn := domain.MpesaTransaction{
		ID:                xid.New("mpesa"),
		SaleID:            req.SaleID,
		Phone:             phone,
		AmountUnits:       units,
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		Status:            domain.MpesaStatusPending,
		CreatedAt:         g.now(),
	}
	err = g.atomic.Atomic(ctx, func(tx store.Tx) error {
		return tx.InsertMpesaTransaction(ctx, txn)
	})
	if err != nil {
		g.hold(txn)
		g.logger.Error("stk push accepted but not recorded",
			zap.String("sale_id", req.SaleID),
			zap.String("checkout_request_id", txn.CheckoutRequestID),
			zap.Int64("amount_units", units),
			zap.Error(err),
		)
		return txn, fmt.Errorf("%w: checkout request %s: %v", ErrPushUnrecorded, txn.CheckoutRequestID, err)
	}

	g.logger.Info("stk push accepted",
		zap.String("sale_id", req.SaleID),
		zap.String("checkout_request_id", txn.CheckoutRequestID),
		zap.Int64("amount_units", units),
	)
	return txn, nil
}

// Resolve moves a pending transaction to its terminal state exactly once.
// A repeated notice for a terminal row returns changed=false and no error.
func (g *Gateway) Resolve(ctx context.Context, result domain.MpesaResult) (domain.MpesaTransaction, bool, error) {
	var (
		resolved domain.MpesaTransaction
		changed  bool
		adopted  bool
	)
	err := g.atomic.Atomic(ctx, func(tx store.Tx) error {
		changed, adopted = false, false
		txn, err := tx.LockMpesaTransaction(ctx, result.CheckoutRequestID)
		if errors.Is(err, store.ErrNotFound) {
			txn, err = g.adopt(ctx, tx, result.CheckoutRequestID)
			adopted = err == nil
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: checkout request %s", store.ErrNotFound, result.CheckoutRequestID)
			}
			return err
		}
		resolved = *txn
		if txn.Status != domain.MpesaStatusPending {
			return nil
		}

		now := g.now()
		txn.ResultCode = result.ResultCode
		txn.ResultDesc = result.ResultDesc
		txn.ResolvedAt = &now
		if result.Success {
			txn.Status = domain.MpesaStatusCompleted
			txn.ReceiptCode = result.ReceiptCode
			if result.AmountCents <= 0 {
				result.AmountCents = txn.AmountUnits * 100
			}
		} else {
			txn.Status = domain.MpesaStatusFailed
			result.AmountCents = 0
		}
		if err := tx.UpdateMpesaTransaction(ctx, *txn); err != nil {
			return err
		}

		result.SaleID = txn.SaleID
		if g.handler != nil {
			if err := g.handler(ctx, tx, result); err != nil {
				return err
			}
		}
		resolved = *txn
		changed = true
		return nil
	})
	if err != nil {
		return domain.MpesaTransaction{}, false, err
	}
	if adopted {
		g.forget(result.CheckoutRequestID)
	}

	if changed {
		g.logger.Info("mpesa transaction resolved",
			zap.String("checkout_request_id", resolved.CheckoutRequestID),
			zap.String("sale_id", resolved.SaleID),
			zap.String("status", resolved.Status),
			zap.String("result_code", resolved.ResultCode),
		)
	} else {
		g.logger.Info("ignoring notice for resolved mpesa transaction",
			zap.String("checkout_request_id", resolved.CheckoutRequestID),
			zap.String("status", resolved.Status),
			zap.String("result_code", result.ResultCode),
		)
	}
	return resolved, changed, nil
}

// VerifyCallbackToken compares the token carried on the callback URL with
// the configured secret. An empty secret disables the check.
func (g *Gateway) VerifyCallbackToken(token string) error {
	if g.callbackToken == "" {
		return nil
	}
	if !hmac.Equal([]byte(strings.TrimSpace(token)), []byte(g.callbackToken)) {
		return ErrUnauthorizedCallback
	}
	return nil
}

// HandleCallback authenticates, parses and resolves one provider callback.
// Redeliveries short-circuit on the idempotency store before touching the
// database.
func (g *Gateway) HandleCallback(ctx context.Context, token string, body []byte) (domain.MpesaTransaction, bool, error) {
	if err := g.VerifyCallbackToken(token); err != nil {
		return domain.MpesaTransaction{}, false, err
	}
	result, err := ParseCallback(body)
	if err != nil {
		return domain.MpesaTransaction{}, false, err
	}

	key := callbackKey(result)
	first, err := g.idempotency.MarkProcessed(ctx, key, callbackKeyTTL)
	if err != nil {
		g.logger.Warn("idempotency store unavailable", zap.String("key", key), zap.Error(err))
		first = true
	}
	if !first {
		txn, err := g.reader.GetMpesaTransaction(ctx, result.CheckoutRequestID)
		if err != nil {
			return domain.MpesaTransaction{}, false, err
		}
		return *txn, false, nil
	}

	txn, changed, err := g.Resolve(ctx, result)
	if err != nil {
		if releaseErr := g.idempotency.Release(ctx, key); releaseErr != nil {
			g.logger.Warn("release idempotency key", zap.String("key", key), zap.Error(releaseErr))
		}
		return domain.MpesaTransaction{}, false, err
	}
	return txn, changed, nil
}

// ExpireStale fails pending pushes older than timeout. Their correlation ids
// are retired, so a late callback finds a terminal row and is ignored.
func (g *Gateway) ExpireStale(ctx context.Context, now time.Time, timeout time.Duration) ([]domain.MpesaTransaction, error) {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	var errs []error
	if err := g.RecordHeld(ctx); err != nil {
		errs = append(errs, err)
	}
	stale, err := g.reader.ListPendingMpesaTransactions(ctx, now.Add(-timeout), expirySweepLimit)
	if err != nil {
		return nil, errors.Join(append(errs, err)...)
	}

	var expired []domain.MpesaTransaction
	for _, txn := range stale {
		resolved, changed, err := g.Resolve(ctx, domain.MpesaResult{
			CheckoutRequestID: txn.CheckoutRequestID,
			SaleID:            txn.SaleID,
			Success:           false,
			ResultCode:        ResultCodeTimeout,
			ResultDesc:        fmt.Sprintf("no confirmation within %s", timeout),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", txn.CheckoutRequestID, err))
			continue
		}
		if changed {
			expired = append(expired, resolved)
		}
	}
	return expired, errors.Join(errs...)
}

func callbackKey(result domain.MpesaResult) string {
	return "mpesa:callback:" + result.CheckoutRequestID + ":" + result.ResultCode
}

// RecordHeld retries storing accepted pushes whose first write failed.
func (g *Gateway) RecordHeld(ctx context.Context) error {
	var errs []error
	for _, txn := range g.held() {
		err := g.atomic.Atomic(ctx, func(tx store.Tx) error {
			return tx.InsertMpesaTransaction(ctx, txn)
		})
		if err != nil && !errors.Is(err, store.ErrDuplicate) {
			errs = append(errs, fmt.Errorf("record held push %s: %w", txn.CheckoutRequestID, err))
			continue
		}
		g.forget(txn.CheckoutRequestID)
		g.logger.Info("held mpesa push recorded",
			zap.String("sale_id", txn.SaleID),
			zap.String("checkout_request_id", txn.CheckoutRequestID),
		)
	}
	return errors.Join(errs...)
}

// adopt stores a held push inside tx so its callback can resolve it.
func (g *Gateway) adopt(ctx context.Context, tx store.Tx, checkoutRequestID string) (*domain.MpesaTransaction, error) {
	g.mu.Lock()
	txn, ok := g.unrecorded[checkoutRequestID]
	g.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := tx.InsertMpesaTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

func (g *Gateway) hold(txn domain.MpesaTransaction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unrecorded[txn.CheckoutRequestID] = txn
}

func (g *Gateway) forget(checkoutRequestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.unrecorded, checkoutRequestID)
}

func (g *Gateway) held() []domain.MpesaTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.MpesaTransaction, 0, len(g.unrecorded))
	for _, txn := range g.unrecorded {
		out = append(out, txn)
	}
	return out
}
