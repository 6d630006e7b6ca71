package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnCreateRequest) (domain.ReturnResponse, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	req.RefundMethod = strings.ToLower(strings.TrimSpace(req.RefundMethod))
	for i := range req.Items {
		req.Items[i].SKU = strings.ToUpper(strings.TrimSpace(req.Items[i].SKU))
	}

	ret, err := s.returns.Create(ctx, req, actorName(ctx))
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	s.logAudit(ctx, ret.StoreID, "return_create", "return", ret.ID,
		fmt.Sprintf("sale=%s,refund=%d,method=%s", ret.SaleID, ret.RefundCents, ret.RefundMethod))
	return domain.ReturnResponse{Return: ret}, nil
}

// ApproveReturn restocks and books the refund once; a repeat reports
// already_processed without side effects.
func (s *Service) ApproveReturn(ctx context.Context, returnID string, req domain.ReturnDecisionRequest) (domain.ReturnResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	ret, err := s.returns.Approve(ctx, strings.TrimSpace(returnID), actor.Username, req.Note)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return domain.ReturnResponse{Return: ret, AlreadyProcessed: true, Message: "return already " + ret.Status}, nil
	}
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	s.settlement.Notify(ctx, ret.SaleID)
	s.logAudit(ctx, ret.StoreID, "return_approve", "return", ret.ID, fmt.Sprintf("sale=%s,refund=%d", ret.SaleID, ret.RefundCents))
	return domain.ReturnResponse{Return: ret}, nil
}

func (s *Service) RejectReturn(ctx context.Context, returnID string, req domain.ReturnDecisionRequest) (domain.ReturnResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	ret, err := s.returns.Reject(ctx, strings.TrimSpace(returnID), actor.Username, req.Note)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		return domain.ReturnResponse{Return: ret, AlreadyProcessed: true, Message: "return already " + ret.Status}, nil
	}
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	s.logAudit(ctx, ret.StoreID, "return_reject", "return", ret.ID, "note="+ret.DecisionNote)
	return domain.ReturnResponse{Return: ret}, nil
}

func (s *Service) GetReturn(ctx context.Context, returnID string) (domain.ReturnResponse, error) {
	ret, err := s.returns.Get(ctx, strings.TrimSpace(returnID))
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	return domain.ReturnResponse{Return: *ret}, nil
}

func (s *Service) ListReturns(ctx context.Context, status string, limit int) ([]domain.Return, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return s.returns.List(ctx, status, limit)
}
