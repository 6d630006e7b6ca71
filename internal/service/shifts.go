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

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CashierName = defaultString(req.CashierName, actorName(ctx))
	if req.TerminalID == "" || req.OpeningFloatCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: terminal_id is required and float must not be negative", store.ErrInvalidTransaction)
	}

	saved, err := s.repo.CreateShift(ctx, domain.Shift{
		ID:                xid.New("shift"),
		StoreID:           req.StoreID,
		TerminalID:        req.TerminalID,
		CashierName:       req.CashierName,
		OpeningFloatCents: req.OpeningFloatCents,
		Status:            domain.ShiftStatusOpen,
		OpenedAt:          s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.ShiftResponse{}, fmt.Errorf("%w: shift already open on %s", store.ErrInvalidTransaction, req.TerminalID)
		}
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "shift_open", "shift", saved.ID, fmt.Sprintf("cashier=%s,float=%d", saved.CashierName, saved.OpeningFloatCents))
	return domain.ShiftResponse{Shift: *saved}, nil
}

// CloseShift closes the terminal's shift and reports the drawer variance
// against the opening float plus cash kept from completed sales.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	req.StoreID = defaultString(req.StoreID, s.defaultStoreID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	if req.TerminalID == "" || req.ClosingCashCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: terminal_id is required and cash must not be negative", store.ErrInvalidTransaction)
	}

	active, err := s.repo.GetActiveShift(ctx, req.StoreID, req.TerminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	cash, err := s.repo.ShiftCashTotals(ctx, active.ID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	expected := active.OpeningFloatCents + cash

	closed, err := s.repo.CloseActiveShift(ctx, req.StoreID, req.TerminalID, req.ClosingCashCents, expected, s.now())
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	variance := req.ClosingCashCents - expected
	s.logAudit(ctx, req.StoreID, "shift_close", "shift", closed.ID,
		fmt.Sprintf("closing_cash=%d,expected=%d,variance=%d", req.ClosingCashCents, expected, variance))
	return domain.ShiftResponse{Shift: *closed, VarianceCents: variance}, nil
}

func (s *Service) GetActiveShift(ctx context.Context, storeID string, terminalID string) (domain.ShiftResponse, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: terminal_id is required", store.ErrInvalidTransaction)
	}
	shift, err := s.repo.GetActiveShift(ctx, defaultString(storeID, s.defaultStoreID), terminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}
