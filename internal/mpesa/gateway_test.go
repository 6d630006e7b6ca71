package mpesa

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/cache"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/memory"
)

type recordedResults struct {
	results []domain.MpesaResult
	fail    error
}

func (r *recordedResults) handle(_ context.Context, _ store.Tx, result domain.MpesaResult) error {
	if r.fail != nil {
		return r.fail
	}
	r.results = append(r.results, result)
	return nil
}

func newTestGateway(t *testing.T, now time.Time, opts ...Option) (*Gateway, *memory.Store, *Simulator, *recordedResults) {
	t.Helper()
	repo := memory.New()
	sim := NewSimulator()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	g := NewGateway(repo, repo, sim, opts...)
	rec := &recordedResults{}
	g.OnResult(rec.handle)
	return g, repo, sim, rec
}

// flakyRepo fails every M-Pesa row insert while down is set.
type flakyRepo struct {
	*memory.Store
	down bool
}

func (f *flakyRepo) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.Atomic(ctx, func(tx store.Tx) error {
		return fn(flakyTx{Tx: tx, down: f.down})
	})
}

type flakyTx struct {
	store.Tx
	down bool
}

func (f flakyTx) InsertMpesaTransaction(ctx context.Context, txn domain.MpesaTransaction) error {
	if f.down {
		return errors.New("db unavailable")
	}
	return f.Tx.InsertMpesaTransaction(ctx, txn)
}

func callbackBody(checkoutID string, code int, amount string) []byte {
	if code != 0 {
		return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"CheckoutRequestID":%q,"ResultCode":%d,"ResultDesc":"failed"}}}`, checkoutID, code))
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{"CheckoutRequestID":%q,"ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":%s},{"Name":"MpesaReceiptNumber","Value":"RCP123"}]}}}}`, checkoutID, amount))
}

func TestPushPersistsPendingRow(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	g, repo, sim, _ := newTestGateway(t, now)
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 15050})
	require.NoError(t, err)
	assert.Equal(t, domain.MpesaStatusPending, txn.Status)
	assert.Equal(t, int64(151), txn.AmountUnits)
	assert.Equal(t, "254712345678", txn.Phone)

	stored, err := repo.GetMpesaTransaction(ctx, txn.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, "sale-1", stored.SaleID)
	require.Len(t, sim.Pushes(), 1)
	assert.Equal(t, "sale-1", sim.Pushes()[0].AccountReference)
}

func TestPushRejectsBadPhoneWithoutCallingProvider(t *testing.T) {
	g, _, sim, _ := newTestGateway(t, time.Now())

	_, err := g.Push(context.Background(), PushRequest{SaleID: "sale-1", Phone: "12345", AmountCents: 1000})
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Empty(t, sim.Pushes())
}

func TestPushRejectedStoresNothing(t *testing.T) {
	g, repo, sim, _ := newTestGateway(t, time.Now())
	sim.Err = fmt.Errorf("%w: insufficient balance", ErrGatewayRejected)

	_, err := g.Push(context.Background(), PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 1000})
	assert.ErrorIs(t, err, ErrGatewayRejected)

	pending, err := repo.ListMpesaTransactionsBySale(context.Background(), "sale-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResolveIsExactlyOnce(t *testing.T) {
	g, repo, _, rec := newTestGateway(t, time.Now())
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 20000})
	require.NoError(t, err)

	resolved, changed, err := g.Resolve(ctx, domain.MpesaResult{CheckoutRequestID: txn.CheckoutRequestID, Success: true, ResultCode: "0", ReceiptCode: "RCP1"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.MpesaStatusCompleted, resolved.Status)
	require.Len(t, rec.results, 1)
	assert.Equal(t, "sale-1", rec.results[0].SaleID)
	assert.Equal(t, int64(20000), rec.results[0].AmountCents)

	again, changed, err := g.Resolve(ctx, domain.MpesaResult{CheckoutRequestID: txn.CheckoutRequestID, Success: false, ResultCode: "1032"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.MpesaStatusCompleted, again.Status)
	assert.Len(t, rec.results, 1)

	stored, err := repo.GetMpesaTransaction(ctx, txn.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, "RCP1", stored.ReceiptCode)

	_, _, err = g.Resolve(ctx, domain.MpesaResult{CheckoutRequestID: "ws_CO_unknown", Success: true})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveRollsBackWhenHandlerFails(t *testing.T) {
	g, repo, _, rec := newTestGateway(t, time.Now())
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 20000})
	require.NoError(t, err)

	rec.fail = errors.New("sale locked")
	_, _, err = g.Resolve(ctx, domain.MpesaResult{CheckoutRequestID: txn.CheckoutRequestID, Success: true, ResultCode: "0"})
	require.Error(t, err)

	stored, err := repo.GetMpesaTransaction(ctx, txn.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.MpesaStatusPending, stored.Status)
}

func TestHandleCallbackChecksTokenAndDeduplicates(t *testing.T) {
	idem := cache.NewMemoryIdempotencyStore()
	g, _, _, rec := newTestGateway(t, time.Now(), WithCallbackToken("s3cret"), WithIdempotencyStore(idem))
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 15100})
	require.NoError(t, err)
	body := callbackBody(txn.CheckoutRequestID, 0, "151.00")

	_, _, err = g.HandleCallback(ctx, "wrong", body)
	assert.ErrorIs(t, err, ErrUnauthorizedCallback)
	assert.Empty(t, rec.results)

	resolved, changed, err := g.HandleCallback(ctx, "s3cret", body)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.MpesaStatusCompleted, resolved.Status)

	dup, changed, err := g.HandleCallback(ctx, "s3cret", body)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.MpesaStatusCompleted, dup.Status)
	assert.Len(t, rec.results, 1)
	assert.Equal(t, int64(15100), rec.results[0].AmountCents)
}

func TestHandleCallbackReleasesKeyOnFailure(t *testing.T) {
	idem := cache.NewMemoryIdempotencyStore()
	g, _, _, rec := newTestGateway(t, time.Now(), WithIdempotencyStore(idem))
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 1000})
	require.NoError(t, err)
	body := callbackBody(txn.CheckoutRequestID, 1032, "")

	rec.fail = errors.New("temporary")
	_, _, err = g.HandleCallback(ctx, "", body)
	require.Error(t, err)

	rec.fail = nil
	resolved, changed, err := g.HandleCallback(ctx, "", body)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.MpesaStatusFailed, resolved.Status)
}

func TestExpireStaleFailsOldPushes(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	now := start
	repo := memory.New()
	g := NewGateway(repo, repo, NewSimulator(), WithClock(func() time.Time { return now }))
	rec := &recordedResults{}
	g.OnResult(rec.handle)
	ctx := context.Background()

	old, err := g.Push(ctx, PushRequest{SaleID: "sale-old", Phone: "0712345678", AmountCents: 1000})
	require.NoError(t, err)
	now = start.Add(60 * time.Second)
	fresh, err := g.Push(ctx, PushRequest{SaleID: "sale-new", Phone: "0712345678", AmountCents: 1000})
	require.NoError(t, err)

	now = start.Add(100 * time.Second)
	expired, err := g.ExpireStale(ctx, now, 90*time.Second)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.CheckoutRequestID, expired[0].CheckoutRequestID)
	assert.Equal(t, ResultCodeTimeout, expired[0].ResultCode)
	require.Len(t, rec.results, 1)
	assert.False(t, rec.results[0].Success)

	late, changed, err := g.Resolve(ctx, domain.MpesaResult{CheckoutRequestID: old.CheckoutRequestID, Success: true, ResultCode: "0"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, domain.MpesaStatusFailed, late.Status)

	stillPending, err := repo.GetMpesaTransaction(ctx, fresh.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.MpesaStatusPending, stillPending.Status)
}

func TestAcceptedPushThatCannotBeStoredIsHeldForItsCallback(t *testing.T) {
	repo := &flakyRepo{Store: memory.New(), down: true}
	g := NewGateway(repo, repo, NewSimulator())
	rec := &recordedResults{}
	g.OnResult(rec.handle)
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 1000})
	require.ErrorIs(t, err, ErrPushUnrecorded)
	require.NotEmpty(t, txn.CheckoutRequestID)
	_, err = repo.GetMpesaTransaction(ctx, txn.CheckoutRequestID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	body := callbackBody(txn.CheckoutRequestID, 0, "10")
	_, _, err = g.HandleCallback(ctx, "", body)
	require.Error(t, err)
	assert.Empty(t, rec.results)

	repo.down = false
	resolved, changed, err := g.HandleCallback(ctx, "", body)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.MpesaStatusCompleted, resolved.Status)
	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Success)
	assert.Equal(t, "sale-1", rec.results[0].SaleID)

	stored, err := repo.GetMpesaTransaction(ctx, txn.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.MpesaStatusCompleted, stored.Status)
	assert.Empty(t, g.held())
}

func TestExpireStaleStoresHeldPushes(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	repo := &flakyRepo{Store: memory.New(), down: true}
	g := NewGateway(repo, repo, NewSimulator(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	txn, err := g.Push(ctx, PushRequest{SaleID: "sale-1", Phone: "0712345678", AmountCents: 1000})
	require.ErrorIs(t, err, ErrPushUnrecorded)

	_, err = g.ExpireStale(ctx, now, 90*time.Second)
	require.Error(t, err)
	assert.Len(t, g.held(), 1)

	repo.down = false
	expired, err := g.ExpireStale(ctx, now, 90*time.Second)
	require.NoError(t, err)
	assert.Empty(t, expired)
	assert.Empty(t, g.held())

	stored, err := repo.GetMpesaTransaction(ctx, txn.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.MpesaStatusPending, stored.Status)

	_, _, err = g.Resolve(ctx, domain.MpesaResult{CheckoutRequestID: "ws_CO_unknown", Success: true, ResultCode: "0"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
