package receiving

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

func newTestProcessor(t *testing.T) (*Processor, *memory.Store, domain.PurchaseOrder) {
	t.Helper()
	repo := memory.NewSeeded()
	p := New(repo, ledger.New(repo), nil)
	p.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	supplier, err := repo.CreateSupplier(ctx, domain.Supplier{Name: "Mombasa Millers"})
	require.NoError(t, err)
	po, err := p.Create(ctx, domain.PurchaseOrderCreateRequest{
		StoreID:    "main-store",
		SupplierID: supplier.ID,
		Items: []domain.PurchaseOrderItem{
			{SKU: "SKU-UNGA-2KG", OrderedQty: 10, UnitCostCents: 16000},
			{SKU: "SKU-SUKARI-1KG", OrderedQty: 5, UnitCostCents: 14000},
		},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusDraft, po.Status)
	return p, repo, po
}

func TestCreateValidatesLines(t *testing.T) {
	p, repo, _ := newTestProcessor(t)
	ctx := context.Background()
	suppliers, err := repo.ListSuppliers(ctx)
	require.NoError(t, err)

	_, err = p.Create(ctx, domain.PurchaseOrderCreateRequest{StoreID: "main-store", SupplierID: suppliers[0].ID, Items: []domain.PurchaseOrderItem{{SKU: "SKU-NOPE", OrderedQty: 1, UnitCostCents: 10}}}, "admin")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = p.Create(ctx, domain.PurchaseOrderCreateRequest{StoreID: "main-store", SupplierID: suppliers[0].ID, Items: []domain.PurchaseOrderItem{{SKU: "SKU-UNGA-2KG", OrderedQty: 0, UnitCostCents: 10}}}, "admin")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = p.Create(ctx, domain.PurchaseOrderCreateRequest{StoreID: "main-store", SupplierID: "sup-missing", Items: []domain.PurchaseOrderItem{{SKU: "SKU-UNGA-2KG", OrderedQty: 1, UnitCostCents: 10}}}, "admin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStateMachine(t *testing.T) {
	p, _, po := newTestProcessor(t)
	ctx := context.Background()

	_, err := p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{Lines: []domain.ReceiveLine{{SKU: "SKU-UNGA-2KG", ReceivedQty: 1}}}, "admin")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction, "draft cannot receive")

	_, err = p.Cancel(ctx, po.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction, "draft cannot be cancelled")

	sent, err := p.Send(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	_, err = p.Send(ctx, po.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	cancelled, err := p.Cancel(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.POStatusCancelled, cancelled.Status)

	_, err = p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{Lines: []domain.ReceiveLine{{SKU: "SKU-UNGA-2KG", ReceivedQty: 1}}}, "admin")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestPartialThenFullReceipt(t *testing.T) {
	p, repo, po := newTestProcessor(t)
	ctx := context.Background()
	_, err := p.Send(ctx, po.ID)
	require.NoError(t, err)

	first, err := p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Lines: []domain.ReceiveLine{
			{SKU: "SKU-UNGA-2KG", ReceivedQty: 6, RejectedQty: 1, RejectReason: "torn bag"},
			{SKU: "SKU-SUKARI-1KG", ReceivedQty: 5},
		},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "GRN-20260504-000001", first.DeliveryNote.GRNNumber)
	assert.Equal(t, domain.POStatusPartiallyReceived, first.PurchaseOrder.Status)
	assert.Equal(t, int64(6*16000+5*14000), first.DeliveryNote.TotalCents)
	assert.Equal(t, "admin", first.DeliveryNote.ReceivedBy)

	unga, err := repo.GetStockLevel(ctx, "main-store", "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, 126, unga.OnHand, "rejected goods never enter stock")

	_, err = p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{Lines: []domain.ReceiveLine{{SKU: "SKU-UNGA-2KG", ReceivedQty: 4, RejectedQty: 1}}}, "admin")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction, "over-receipt")

	second, err := p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{Lines: []domain.ReceiveLine{{SKU: "SKU-UNGA-2KG", ReceivedQty: 4}}}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "GRN-20260504-000002", second.DeliveryNote.GRNNumber)
	assert.Equal(t, domain.POStatusReceived, second.PurchaseOrder.Status)
	assert.NotNil(t, second.PurchaseOrder.ReceivedAt)

	history, err := repo.ListMovements(ctx, "main-store", "SKU-UNGA-2KG", 0)
	require.NoError(t, err)
	require.NoError(t, ledger.VerifyChain(history))
	last := history[len(history)-1]
	assert.Equal(t, domain.MovementPurchaseReceipt, last.Type)
	assert.Equal(t, second.DeliveryNote.ID, last.ReferenceID)
	require.NotNil(t, last.UnitCostCents)
	assert.Equal(t, int64(16000), *last.UnitCostCents)
}

func TestReceiveIsAllOrNothing(t *testing.T) {
	p, repo, po := newTestProcessor(t)
	ctx := context.Background()
	_, err := p.Send(ctx, po.ID)
	require.NoError(t, err)

	_, err = p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{
		Lines: []domain.ReceiveLine{
			{SKU: "SKU-UNGA-2KG", ReceivedQty: 3},
			{SKU: "SKU-SUKARI-1KG", ReceivedQty: 6},
		},
	}, "admin")
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	unga, err := repo.GetStockLevel(ctx, "main-store", "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, 120, unga.OnHand)

	stored, err := repo.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Items[0].ReceivedQty)
	notes, err := repo.ListDeliveryNotes(ctx, po.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestCompleteIsIdempotentAndRollsCost(t *testing.T) {
	p, repo, po := newTestProcessor(t)
	ctx := context.Background()
	_, err := p.Send(ctx, po.ID)
	require.NoError(t, err)
	received, err := p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{Lines: []domain.ReceiveLine{{SKU: "SKU-UNGA-2KG", ReceivedQty: 10}}}, "admin")
	require.NoError(t, err)
	noteID := received.DeliveryNote.ID

	verified, err := p.Verify(ctx, noteID, "manager")
	require.NoError(t, err)
	assert.Equal(t, domain.GRNStatusVerified, verified.Status)

	completed, err := p.Complete(ctx, noteID, "manager")
	require.NoError(t, err)
	assert.Equal(t, domain.GRNStatusCompleted, completed.Status)

	product, err := repo.GetProduct(ctx, "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, weightedCostCents(15750, 120, 16000, 10), product.UnitCostCents)
	assert.Equal(t, int64(15769), product.UnitCostCents)

	again, err := p.Complete(ctx, noteID, "manager")
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)
	assert.Equal(t, domain.GRNStatusCompleted, again.Status)

	product, err = repo.GetProduct(ctx, "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, int64(15769), product.UnitCostCents)
	unga, err := repo.GetStockLevel(ctx, "main-store", "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, 130, unga.OnHand)

	_, err = p.Verify(ctx, noteID, "manager")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestWeightedCostCents(t *testing.T) {
	assert.Equal(t, int64(500), weightedCostCents(0, 0, 500, 10))
	assert.Equal(t, int64(400), weightedCostCents(400, 10, 0, 10))
	assert.Equal(t, int64(450), weightedCostCents(400, 10, 500, 10))
	assert.Equal(t, int64(101), weightedCostCents(100, 1, 101, 1), "half a cent rounds up")
	assert.Equal(t, int64(15769), weightedCostCents(15750, 120, 16000, 10))
}

func TestCompleteUsesOnHandSnapshotFromReceipt(t *testing.T) {
	p, repo, po := newTestProcessor(t)
	ctx := context.Background()
	_, err := p.Send(ctx, po.ID)
	require.NoError(t, err)
	received, err := p.Receive(ctx, po.ID, domain.PurchaseOrderReceiveRequest{Lines: []domain.ReceiveLine{{SKU: "SKU-UNGA-2KG", ReceivedQty: 10}}}, "admin")
	require.NoError(t, err)
	require.Len(t, received.DeliveryNote.Items, 1)
	assert.Equal(t, 120, received.DeliveryNote.Items[0].PriorOnHand)

	// Sales between receipt and completion must not skew the cost roll.
	_, err = p.ledger.ApplyMovement(ctx, ledger.Movement{StoreID: "main-store", SKU: "SKU-UNGA-2KG", Type: domain.MovementSale, Delta: -100, Actor: "cashier"})
	require.NoError(t, err)

	_, err = p.Complete(ctx, received.DeliveryNote.ID, "manager")
	require.NoError(t, err)
	product, err := repo.GetProduct(ctx, "SKU-UNGA-2KG")
	require.NoError(t, err)
	assert.Equal(t, int64(15769), product.UnitCostCents)
}
