package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/memory"
)

var fixedNow = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func TestPlan(t *testing.T) {
	level := domain.StockLevel{StoreID: "main-store", SKU: "SKU-A", OnHand: 10, ReorderLevel: 5, Version: 3}

	tests := []struct {
		name      string
		level     domain.StockLevel
		movement  Movement
		wantAfter int
		wantLow   bool
		wantAlert bool
		wantErr   error
	}{
		{
			name:      "sale above reorder level",
			level:     level,
			movement:  Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementSale, Delta: -3},
			wantAfter: 7,
		},
		{
			name:      "sale crossing reorder level raises alert",
			level:     level,
			movement:  Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementSale, Delta: -5},
			wantAfter: 5,
			wantLow:   true,
			wantAlert: true,
		},
		{
			name:      "already low does not alert twice",
			level:     domain.StockLevel{StoreID: "main-store", SKU: "SKU-A", OnHand: 4, ReorderLevel: 5, LowStock: true},
			movement:  Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementDamaged, Delta: -1},
			wantAfter: 3,
			wantLow:   true,
		},
		{
			name:      "receipt above reorder clears flag",
			level:     domain.StockLevel{StoreID: "main-store", SKU: "SKU-A", OnHand: 4, ReorderLevel: 5, LowStock: true},
			movement:  Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementPurchaseReceipt, Delta: 2},
			wantAfter: 6,
		},
		{
			name:      "receipt to exactly reorder keeps flag",
			level:     domain.StockLevel{StoreID: "main-store", SKU: "SKU-A", OnHand: 4, ReorderLevel: 5, LowStock: true},
			movement:  Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementSaleReturn, Delta: 1},
			wantAfter: 5,
			wantLow:   true,
		},
		{
			name:      "sale to exactly zero is allowed",
			level:     level,
			movement:  Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementSale, Delta: -10},
			wantAfter: 0,
			wantLow:   true,
			wantAlert: true,
		},
		{
			name:     "oversell rejected",
			level:    level,
			movement: Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementSale, Delta: -11},
			wantErr:  store.ErrInsufficientStock,
		},
		{
			name:     "outbound with positive delta",
			level:    level,
			movement: Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementTransferOut, Delta: 2},
			wantErr:  store.ErrInvalidTransaction,
		},
		{
			name:     "inbound with negative delta",
			level:    level,
			movement: Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementPurchaseReceipt, Delta: -2},
			wantErr:  store.ErrInvalidTransaction,
		},
		{
			name:     "zero delta",
			level:    level,
			movement: Movement{StoreID: "main-store", SKU: "SKU-A", Type: domain.MovementAdjustmentIn},
			wantErr:  store.ErrInvalidTransaction,
		},
		{
			name:     "unknown type",
			level:    level,
			movement: Movement{StoreID: "main-store", SKU: "SKU-A", Type: "shrinkage", Delta: -1},
			wantErr:  store.ErrInvalidTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, err := Plan(tt.level, tt.movement, fixedNow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAfter, planned.Level.OnHand)
			assert.Equal(t, tt.wantLow, planned.Level.LowStock)
			assert.Equal(t, tt.wantAlert, planned.Alert != nil)
			assert.Equal(t, tt.level.OnHand, planned.Entry.QuantityBefore)
			assert.Equal(t, tt.wantAfter, planned.Entry.QuantityAfter)
			assert.Equal(t, tt.level.Version, planned.Level.Version, "plan never bumps the version")
		})
	}
}

type alertRecorder struct {
	ch chan domain.LowStockAlert
}

func (r *alertRecorder) NotifyLowStock(_ context.Context, alert domain.LowStockAlert) error {
	r.ch <- alert
	return nil
}

func TestApplyTxIsAllOrNothing(t *testing.T) {
	repo := memory.NewSeeded()
	l := New(repo, WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	_, err := l.ApplyMovement(ctx, Movement{StoreID: "main-store", SKU: "SKU-CHAI-100", Type: domain.MovementSale, Delta: -1})
	require.NoError(t, err)

	err = l.RunAtomic(ctx, func(tx store.Tx) error {
		_, err := l.ApplyTx(ctx, tx,
			Movement{StoreID: "main-store", SKU: "SKU-UNGA-2KG", Type: domain.MovementSale, Delta: -2},
			Movement{StoreID: "main-store", SKU: "SKU-CHAI-100", Type: domain.MovementSale, Delta: -500},
		)
		return err
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	unga, err := repo.GetStockLevel(ctx, "main-store", "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, 120, unga.OnHand)

	history, err := l.History(ctx, "main-store", "", 0)
	require.NoError(t, err)
	require.NoError(t, VerifyChain(history))
}

func TestApplyTxSameSKUTwiceChainsEntries(t *testing.T) {
	repo := memory.NewSeeded()
	l := New(repo)
	ctx := context.Background()

	var entries []domain.StockMovement
	err := l.RunAtomic(ctx, func(tx store.Tx) error {
		var err error
		entries, err = l.ApplyTx(ctx, tx,
			Movement{StoreID: "main-store", SKU: "SKU-MKATE-400", Type: domain.MovementSale, Delta: -4},
			Movement{StoreID: "main-store", SKU: "SKU-MKATE-400", Type: domain.MovementSale, Delta: -6},
		)
		return err
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 116, entries[0].QuantityAfter)
	assert.Equal(t, 116, entries[1].QuantityBefore)
	assert.Equal(t, 110, entries[1].QuantityAfter)

	level, err := repo.GetStockLevel(ctx, "main-store", "SKU-MKATE-400")
	require.NoError(t, err)
	assert.Equal(t, 110, level.OnHand)
	assert.Equal(t, int64(2), level.Version)
}

func TestLowStockAlertDispatchedAfterCommit(t *testing.T) {
	repo := memory.NewSeeded()
	sink := &alertRecorder{ch: make(chan domain.LowStockAlert, 4)}
	l := New(repo, WithAlertSink(sink))
	ctx := context.Background()

	_, err := l.ApplyMovement(ctx, Movement{StoreID: "main-store", SKU: "SKU-CHAI-100", Type: domain.MovementSale, Delta: -112})
	require.NoError(t, err)

	select {
	case alert := <-sink.ch:
		assert.Equal(t, "SKU-CHAI-100", alert.SKU)
		assert.Equal(t, 8, alert.OnHand)
		assert.Equal(t, 10, alert.ReorderLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a low stock alert")
	}

	err = l.RunAtomic(ctx, func(tx store.Tx) error {
		if _, err := l.ApplyTx(ctx, tx, Movement{StoreID: "main-store", SKU: "SKU-SABUNI-BAR", Type: domain.MovementSale, Delta: -115}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	select {
	case alert := <-sink.ch:
		t.Fatalf("rolled back unit must not alert, got %+v", alert)
	case <-time.After(100 * time.Millisecond):
	}
}

type conflictingStore struct {
	*memory.Store
	failures int32
	calls    int32
}

func (c *conflictingStore) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	n := atomic.AddInt32(&c.calls, 1)
	if n <= atomic.LoadInt32(&c.failures) {
		return store.ErrStockConflict
	}
	return c.Store.Atomic(ctx, fn)
}

func TestRunAtomicRetriesConflicts(t *testing.T) {
	repo := &conflictingStore{Store: memory.NewSeeded(), failures: 2}
	l := New(repo)
	l.retryBackoff = time.Millisecond

	err := l.RunAtomic(context.Background(), func(tx store.Tx) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int32(3), repo.calls)
}

func TestRunAtomicGivesUpAfterBudget(t *testing.T) {
	repo := &conflictingStore{Store: memory.NewSeeded(), failures: 10}
	l := New(repo)
	l.retryBackoff = time.Millisecond

	err := l.RunAtomic(context.Background(), func(tx store.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrConcurrentStockConflict)
	assert.Equal(t, int32(defaultMaxAttempts), repo.calls)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	repo := memory.NewSeeded()
	l := New(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	var sold int32
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyMovement(ctx, Movement{StoreID: "main-store", SKU: "SKU-MAJI-1L", Type: domain.MovementSale, Delta: -7})
			if err == nil {
				atomic.AddInt32(&sold, 7)
			}
		}()
	}
	wg.Wait()

	level, err := repo.GetStockLevel(ctx, "main-store", "SKU-MAJI-1L")
	require.NoError(t, err)
	assert.Equal(t, 120-int(sold), level.OnHand)
	assert.GreaterOrEqual(t, level.OnHand, 0)
	assert.Less(t, level.OnHand, 7)
}
