package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

func TestAtomicRollsBackEveryWriteOnError(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	before, err := repo.GetStockLevel(ctx, "main-store", "SKU-UNGA-2KG")
	require.NoError(t, err)
	movementsBefore, err := repo.ListMovements(ctx, "main-store", "SKU-UNGA-2KG", 0)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = repo.Atomic(ctx, func(tx store.Tx) error {
		level, err := tx.LockStock(ctx, "main-store", "SKU-UNGA-2KG")
		if err != nil {
			return err
		}
		version := level.Version
		level.OnHand -= 5
		if err := tx.SaveStock(ctx, level, version); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, domain.StockMovement{ID: "mov-x", StoreID: "main-store", SKU: "SKU-UNGA-2KG", Delta: -5}); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, domain.Sale{ID: "sale-x", IdempotencyKey: "idem-x"}); err != nil {
			return err
		}
		if _, err := tx.NextSequence(ctx, "grn"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := repo.GetStockLevel(ctx, "main-store", "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	movementsAfter, err := repo.ListMovements(ctx, "main-store", "SKU-UNGA-2KG", 0)
	require.NoError(t, err)
	assert.Len(t, movementsAfter, len(movementsBefore))

	_, err = repo.GetSale(ctx, "sale-x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = repo.FindSaleByIdempotency(ctx, "idem-x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.Atomic(ctx, func(tx store.Tx) error {
		n, err := tx.NextSequence(ctx, "grn")
		assert.Equal(t, int64(1), n)
		return err
	})
	require.NoError(t, err)
}

func TestSaveStockRejectsStaleVersion(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	err := repo.Atomic(ctx, func(tx store.Tx) error {
		level, err := tx.LockStock(ctx, "main-store", "SKU-CHAI-100")
		if err != nil {
			return err
		}
		return tx.SaveStock(ctx, level, level.Version+7)
	})
	assert.ErrorIs(t, err, store.ErrStockConflict)
}

func TestLockStockCreatesEmptyCounterForKnownSKU(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	err := repo.Atomic(ctx, func(tx store.Tx) error {
		level, err := tx.LockStock(ctx, "branch-2", "SKU-CHAI-100")
		require.NoError(t, err)
		assert.Equal(t, 0, level.OnHand)
		assert.Equal(t, int64(0), level.Version)

		level.OnHand = 4
		return tx.SaveStock(ctx, level, 0)
	})
	require.NoError(t, err)

	level, err := repo.GetStockLevel(ctx, "branch-2", "SKU-CHAI-100")
	require.NoError(t, err)
	assert.Equal(t, 4, level.OnHand)
	assert.Equal(t, int64(1), level.Version)

	err = repo.Atomic(ctx, func(tx store.Tx) error {
		_, err := tx.LockStock(ctx, "branch-2", "SKU-DOES-NOT-EXIST")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReturnedQtyBySaleIgnoresRejected(t *testing.T) {
	repo := New()
	ctx := context.Background()

	err := repo.Atomic(ctx, func(tx store.Tx) error {
		for _, ret := range []domain.Return{
			{ID: "ret-1", SaleID: "sale-1", Status: domain.ReturnStatusPending, Items: []domain.ReturnItem{{SKU: "A", Qty: 2}}},
			{ID: "ret-2", SaleID: "sale-1", Status: domain.ReturnStatusCompleted, Items: []domain.ReturnItem{{SKU: "A", Qty: 1}, {SKU: "B", Qty: 3}}},
			{ID: "ret-3", SaleID: "sale-1", Status: domain.ReturnStatusRejected, Items: []domain.ReturnItem{{SKU: "A", Qty: 9}}},
			{ID: "ret-4", SaleID: "sale-2", Status: domain.ReturnStatusPending, Items: []domain.ReturnItem{{SKU: "A", Qty: 5}}},
		} {
			if err := tx.InsertReturn(ctx, ret); err != nil {
				return err
			}
		}
		qty, err := tx.ReturnedQtyBySale(ctx, "sale-1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 3, "B": 3}, qty)
		return nil
	})
	require.NoError(t, err)
}

func TestShiftLifecycle(t *testing.T) {
	repo := New()
	ctx := context.Background()

	shift, err := repo.CreateShift(ctx, domain.Shift{StoreID: "main-store", TerminalID: "till-1", OpeningFloatCents: 500000, OpenedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusOpen, shift.Status)

	_, err = repo.CreateShift(ctx, domain.Shift{StoreID: "main-store", TerminalID: "till-1"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	closed, err := repo.CloseActiveShift(ctx, "main-store", "till-1", 510000, 505000, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	assert.Equal(t, int64(505000), closed.ExpectedCashCents)

	_, err = repo.GetActiveShift(ctx, "main-store", "till-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestShiftCashTotalsSubtractsChange(t *testing.T) {
	repo := New()
	ctx := context.Background()

	err := repo.Atomic(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "s1", ShiftID: "shift-1", Status: domain.SaleStatusCompleted, TotalCents: 1000, CashTenderedCents: 1500}); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, domain.Sale{ID: "s2", ShiftID: "shift-1", Status: domain.SaleStatusCompleted, TotalCents: 1000, CashTenderedCents: 400, MpesaTenderedCents: 600}); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{ID: "s3", ShiftID: "shift-1", Status: domain.SaleStatusPending, TotalCents: 1000, CashTenderedCents: 500})
	})
	require.NoError(t, err)

	total, err := repo.ShiftCashTotals(ctx, "shift-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1400), total)
}
