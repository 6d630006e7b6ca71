package returns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/ledger"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store/memory"
)

func newTestProcessor(t *testing.T, status string) (*Processor, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	err := repo.Atomic(context.Background(), func(tx store.Tx) error {
		return tx.InsertSale(context.Background(), domain.Sale{
			ID:         "sale-1",
			StoreID:    "main-store",
			Status:     status,
			TotalCents: 3 * 6500,
			CreatedAt:  time.Now(),
			Items: []domain.SaleLineItem{
				{SKU: "SKU-MAZIWA-500", Name: "Fresh Milk 500ml", Qty: 2, UnitPriceCents: 6000, LineTotalCents: 12000},
				{SKU: "SKU-MKATE-400", Name: "White Bread 400g", Qty: 1, UnitPriceCents: 6500, LineTotalCents: 6500},
			},
		})
	})
	require.NoError(t, err)
	return New(repo, ledger.New(repo), nil), repo
}

func TestCreateUsesSnapshotPrice(t *testing.T) {
	p, _ := newTestProcessor(t, domain.SaleStatusCompleted)

	ret, err := p.Create(context.Background(), domain.ReturnCreateRequest{
		SaleID:       "sale-1",
		Reason:       "expired on shelf",
		RefundMethod: "cash",
		Items:        []domain.ReturnItemRequest{{SKU: "SKU-MAZIWA-500", Qty: 2}},
	}, "cashier")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusPending, ret.Status)
	assert.False(t, ret.StockRestored)
	assert.Equal(t, int64(12000), ret.RefundCents, "snapshot price, not catalog 6500")
}

func TestCreateBoundsQuantities(t *testing.T) {
	p, _ := newTestProcessor(t, domain.SaleStatusCompleted)
	ctx := context.Background()
	req := func(sku string, qty int) domain.ReturnCreateRequest {
		return domain.ReturnCreateRequest{SaleID: "sale-1", Reason: "damaged", RefundMethod: "cash", Items: []domain.ReturnItemRequest{{SKU: sku, Qty: qty}}}
	}

	_, err := p.Create(ctx, req("SKU-MAZIWA-500", 3), "cashier")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = p.Create(ctx, req("SKU-CHAI-100", 1), "cashier")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = p.Create(ctx, req("SKU-MAZIWA-500", 1), "cashier")
	require.NoError(t, err)
	_, err = p.Create(ctx, req("SKU-MAZIWA-500", 1), "cashier")
	require.NoError(t, err)
	_, err = p.Create(ctx, req("SKU-MAZIWA-500", 1), "cashier")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction, "pending returns count against the sale")
}

func TestCreateRequiresCompletedSale(t *testing.T) {
	p, _ := newTestProcessor(t, domain.SaleStatusPending)
	_, err := p.Create(context.Background(), domain.ReturnCreateRequest{
		SaleID: "sale-1", Reason: "changed mind", RefundMethod: "cash",
		Items: []domain.ReturnItemRequest{{SKU: "SKU-MKATE-400", Qty: 1}},
	}, "cashier")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestApproveRestoresStockExactlyOnce(t *testing.T) {
	p, repo := newTestProcessor(t, domain.SaleStatusCompleted)
	ctx := context.Background()

	ret, err := p.Create(ctx, domain.ReturnCreateRequest{
		SaleID: "sale-1", Reason: "sour", RefundMethod: "cash",
		Items: []domain.ReturnItemRequest{{SKU: "SKU-MAZIWA-500", Qty: 2}, {SKU: "SKU-MKATE-400", Qty: 1}},
	}, "cashier")
	require.NoError(t, err)

	approved, err := p.Approve(ctx, ret.ID, "admin", "ok")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusCompleted, approved.Status)
	assert.True(t, approved.StockRestored)

	again, err := p.Approve(ctx, ret.ID, "admin", "ok")
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)
	assert.Equal(t, domain.ReturnStatusCompleted, again.Status)

	milk, err := repo.GetStockLevel(ctx, "main-store", "SKU-MAZIWA-500")
	require.NoError(t, err)
	assert.Equal(t, 122, milk.OnHand)

	sale, err := repo.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, int64(18500), sale.RefundedCents)

	history, err := repo.ListMovements(ctx, "main-store", "SKU-MAZIWA-500", 0)
	require.NoError(t, err)
	returned := 0
	for _, m := range history {
		if m.Type == domain.MovementSaleReturn {
			returned++
			assert.Equal(t, ret.ID, m.ReferenceID)
		}
	}
	assert.Equal(t, 1, returned)
}

func TestRejectNeverTouchesStock(t *testing.T) {
	p, repo := newTestProcessor(t, domain.SaleStatusCompleted)
	ctx := context.Background()

	ret, err := p.Create(ctx, domain.ReturnCreateRequest{
		SaleID: "sale-1", Reason: "opened", RefundMethod: "cash",
		Items: []domain.ReturnItemRequest{{SKU: "SKU-MKATE-400", Qty: 1}},
	}, "cashier")
	require.NoError(t, err)

	rejected, err := p.Reject(ctx, ret.ID, "admin", "opened packaging")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, rejected.Status)
	assert.False(t, rejected.StockRestored)

	_, err = p.Approve(ctx, ret.ID, "admin", "")
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)
	_, err = p.Reject(ctx, ret.ID, "admin", "")
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)

	bread, err := repo.GetStockLevel(ctx, "main-store", "SKU-MKATE-400")
	require.NoError(t, err)
	assert.Equal(t, 120, bread.OnHand)

	_, err = p.Create(ctx, domain.ReturnCreateRequest{
		SaleID: "sale-1", Reason: "second try", RefundMethod: "cash",
		Items: []domain.ReturnItemRequest{{SKU: "SKU-MKATE-400", Qty: 1}},
	}, "cashier")
	require.NoError(t, err, "rejected returns free the quantity again")
}
