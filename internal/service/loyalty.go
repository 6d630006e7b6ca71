package service

import (
	"context"
	"fmt"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
)

func (s *Service) GetLoyaltyMember(ctx context.Context, customerID string) (domain.LoyaltyMember, error) {
	member, err := s.loyalty.Get(ctx, customerID)
	if err != nil {
		return domain.LoyaltyMember{}, err
	}
	return *member, nil
}

// RedeemLoyaltyPoints deducts points outside a sale, for example a voucher
// issued at the service desk.
func (s *Service) RedeemLoyaltyPoints(ctx context.Context, customerID string, req domain.LoyaltyRedeemRequest) (domain.LoyaltyMember, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.LoyaltyMember{}, err
	}
	member, err := s.loyalty.Redeem(ctx, customerID, req.Points)
	if err != nil {
		return domain.LoyaltyMember{}, err
	}
	s.logAudit(ctx, s.defaultStoreID, "loyalty_redeem", "loyalty_member", member.CustomerID, fmt.Sprintf("points=%d", req.Points))
	return member, nil
}
