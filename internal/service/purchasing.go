package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return domain.Supplier{}, fmt.Errorf("%w: supplier name is required", store.ErrInvalidTransaction)
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "supplier_create", "supplier", saved.ID, "name="+saved.Name)
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrderResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	for i := range req.Items {
		req.Items[i].SKU = strings.ToUpper(strings.TrimSpace(req.Items[i].SKU))
	}

	po, err := s.receiving.Create(ctx, req, actor.Username)
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, po.StoreID, "purchase_order_create", "purchase_order", po.ID, fmt.Sprintf("supplier=%s,items=%d", po.SupplierID, len(po.Items)))
	return domain.PurchaseOrderResponse{PurchaseOrder: po}, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, strings.TrimSpace(purchaseOrderID))
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	return domain.PurchaseOrderResponse{PurchaseOrder: *po}, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, storeID string, status string) (domain.PurchaseOrderListResponse, error) {
	pos, err := s.repo.ListPurchaseOrders(ctx, defaultString(storeID, s.defaultStoreID), strings.ToLower(strings.TrimSpace(status)), 200)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: pos}, nil
}

func (s *Service) SendPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.receiving.Send(ctx, strings.TrimSpace(purchaseOrderID))
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, po.StoreID, "purchase_order_send", "purchase_order", po.ID, "")
	return domain.PurchaseOrderResponse{PurchaseOrder: po}, nil
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, purchaseOrderID string) (domain.PurchaseOrderResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	po, err := s.receiving.Cancel(ctx, strings.TrimSpace(purchaseOrderID))
	if err != nil {
		return domain.PurchaseOrderResponse{}, err
	}
	s.logAudit(ctx, po.StoreID, "purchase_order_cancel", "purchase_order", po.ID, "")
	return domain.PurchaseOrderResponse{PurchaseOrder: po}, nil
}

// ReceivePurchaseOrder books a delivery against the order as a new GRN.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, purchaseOrderID string, req domain.PurchaseOrderReceiveRequest) (domain.ReceiveResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ReceiveResponse{}, err
	}
	req.ReceivedBy = defaultString(req.ReceivedBy, actor.Username)
	for i := range req.Lines {
		req.Lines[i].SKU = strings.ToUpper(strings.TrimSpace(req.Lines[i].SKU))
	}

	resp, err := s.receiving.Receive(ctx, strings.TrimSpace(purchaseOrderID), req, actor.Username)
	if err != nil {
		return domain.ReceiveResponse{}, err
	}
	s.logAudit(ctx, resp.PurchaseOrder.StoreID, "purchase_order_receive", "delivery_note", resp.DeliveryNote.ID,
		fmt.Sprintf("grn=%s,po=%s,status=%s", resp.DeliveryNote.GRNNumber, resp.PurchaseOrder.ID, resp.PurchaseOrder.Status))
	return resp, nil
}

func (s *Service) ListDeliveryNotes(ctx context.Context, purchaseOrderID string) ([]domain.DeliveryNote, error) {
	return s.receiving.ListNotes(ctx, strings.TrimSpace(purchaseOrderID))
}

func (s *Service) GetDeliveryNote(ctx context.Context, noteID string) (domain.DeliveryNote, error) {
	note, err := s.receiving.Get(ctx, strings.TrimSpace(noteID))
	if err != nil {
		return domain.DeliveryNote{}, err
	}
	return *note, nil
}

func (s *Service) VerifyDeliveryNote(ctx context.Context, noteID string) (domain.DeliveryNoteResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.DeliveryNoteResponse{}, err
	}
	note, err := s.receiving.Verify(ctx, strings.TrimSpace(noteID), actor.Username)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return domain.DeliveryNoteResponse{DeliveryNote: note, AlreadyProcessed: true, Message: "delivery note already verified"}, nil
	}
	if err != nil {
		return domain.DeliveryNoteResponse{}, err
	}
	s.logAudit(ctx, note.StoreID, "grn_verify", "delivery_note", note.ID, "grn="+note.GRNNumber)
	return domain.DeliveryNoteResponse{DeliveryNote: note}, nil
}

// CompleteDeliveryNote closes a GRN exactly once. Repeats report
// already_processed with the current note and change nothing.
func (s *Service) CompleteDeliveryNote(ctx context.Context, noteID string) (domain.DeliveryNoteResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.DeliveryNoteResponse{}, err
	}
	note, err := s.receiving.Complete(ctx, strings.TrimSpace(noteID), actor.Username)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return domain.DeliveryNoteResponse{DeliveryNote: note, AlreadyProcessed: true, Message: "delivery note already completed"}, nil
	}
	if err != nil {
		return domain.DeliveryNoteResponse{}, err
	}
	s.logAudit(ctx, note.StoreID, "grn_complete", "delivery_note", note.ID,
		fmt.Sprintf("grn=%s,total=%d", note.GRNNumber, note.TotalCents))
	return domain.DeliveryNoteResponse{DeliveryNote: note}, nil
}
