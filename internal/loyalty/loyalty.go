// Package loyalty accrues points on completed sales and redeems them as
// discounts.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/config"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

var ErrInsufficientPoints = errors.New("insufficient loyalty points")

var hundred = decimal.NewFromInt(100)

// PointsFor converts a spend in cents into points:
// floor(units / LoyaltyPointsPerAmount * LoyaltyPointsRate).
func PointsFor(amountCents int64, settings config.Settings) int64 {
	if amountCents <= 0 || settings.LoyaltyPointsPerAmount < 1 {
		return 0
	}
	units := decimal.NewFromInt(amountCents).Div(hundred)
	points := units.
		Div(decimal.NewFromInt(settings.LoyaltyPointsPerAmount)).
		Mul(decimal.NewFromFloat(settings.LoyaltyPointsRate)).
		Floor()
	return points.IntPart()
}

// TierFor returns the first tier whose threshold lifetimeCents reaches.
// Tiers are expected highest first; Bronze when none match.
func TierFor(lifetimeCents int64, tiers []config.Tier) string {
	for _, tier := range tiers {
		if lifetimeCents >= tier.MinLifetimeCents {
			return tier.Name
		}
	}
	return domain.TierBronze
}

// PointsValue is the discount in cents that points buy.
func PointsValue(points int64, settings config.Settings) int64 {
	if points <= 0 {
		return 0
	}
	return points * settings.LoyaltyPointValueCents
}

// MaxRedemptionDiscount caps a loyalty discount to LoyaltyMaxRedeemPercent of
// the pre-discount total, rounded down to the cent. The percent never exceeds
// config.MaxLoyaltyRedeemPercent.
func MaxRedemptionDiscount(preDiscountTotalCents int64, settings config.Settings) int64 {
	percent := min(settings.LoyaltyMaxRedeemPercent, config.MaxLoyaltyRedeemPercent)
	if preDiscountTotalCents <= 0 || percent <= 0 {
		return 0
	}
	return decimal.NewFromInt(preDiscountTotalCents).
		Mul(decimal.NewFromInt(percent)).
		Div(hundred).
		Floor().
		IntPart()
}

type Store interface {
	store.Atomic
	store.LoyaltyReader
}

type Engine struct {
	repo Store
	now  func() time.Time
}

func New(repo Store) *Engine {
	return &Engine{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Get(ctx context.Context, customerID string) (*domain.LoyaltyMember, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", store.ErrInvalidTransaction)
	}
	return e.repo.GetLoyaltyMember(ctx, customerID)
}

// Award credits points for a completed purchase in its own unit of work.
func (e *Engine) Award(ctx context.Context, customerID string, amountCents int64, settings config.Settings) (domain.LoyaltyMember, error) {
	var member domain.LoyaltyMember
	err := e.repo.Atomic(ctx, func(tx store.Tx) error {
		var err error
		member, err = e.AwardTx(ctx, tx, customerID, amountCents, settings)
		return err
	})
	return member, err
}

// AwardTx creates the member on first purchase, otherwise adds points and
// lifetime spend and re-evaluates the tier.
func (e *Engine) AwardTx(ctx context.Context, tx store.Tx, customerID string, amountCents int64, settings config.Settings) (domain.LoyaltyMember, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.LoyaltyMember{}, fmt.Errorf("%w: customer id is required", store.ErrInvalidTransaction)
	}
	if amountCents < 0 {
		return domain.LoyaltyMember{}, fmt.Errorf("%w: award amount must not be negative", store.ErrInvalidTransaction)
	}

	now := e.now()
	member, err := tx.LockLoyaltyMember(ctx, customerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		member = &domain.LoyaltyMember{CustomerID: customerID, CreatedAt: now}
	case err != nil:
		return domain.LoyaltyMember{}, err
	}

	member.PointsBalance += PointsFor(amountCents, settings)
	member.LifetimeSpendCents += amountCents
	member.Tier = TierFor(member.LifetimeSpendCents, settings.Tiers)
	member.UpdatedAt = now
	if err := tx.UpsertLoyaltyMember(ctx, *member); err != nil {
		return domain.LoyaltyMember{}, err
	}
	return *member, nil
}

func (e *Engine) Redeem(ctx context.Context, customerID string, points int64) (domain.LoyaltyMember, error) {
	var member domain.LoyaltyMember
	err := e.repo.Atomic(ctx, func(tx store.Tx) error {
		var err error
		member, err = e.RedeemTx(ctx, tx, customerID, points)
		return err
	})
	return member, err
}

// RedeemTx deducts points. Lifetime spend and tier are untouched.
func (e *Engine) RedeemTx(ctx context.Context, tx store.Tx, customerID string, points int64) (domain.LoyaltyMember, error) {
	if points < 1 {
		return domain.LoyaltyMember{}, fmt.Errorf("%w: points must be positive", store.ErrInvalidTransaction)
	}
	member, err := tx.LockLoyaltyMember(ctx, strings.TrimSpace(customerID))
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoyaltyMember{}, fmt.Errorf("%w: %s has no points", ErrInsufficientPoints, customerID)
	}
	if err != nil {
		return domain.LoyaltyMember{}, err
	}
	if points > member.PointsBalance {
		return domain.LoyaltyMember{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientPoints, member.PointsBalance, points)
	}
	member.PointsBalance -= points
	member.UpdatedAt = e.now()
	if err := tx.UpsertLoyaltyMember(ctx, *member); err != nil {
		return domain.LoyaltyMember{}, err
	}
	return *member, nil
}

// RestoreTx gives back points redeemed on a sale that never completed.
func (e *Engine) RestoreTx(ctx context.Context, tx store.Tx, customerID string, points int64) error {
	if points <= 0 {
		return nil
	}
	member, err := tx.LockLoyaltyMember(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return err
	}
	member.PointsBalance += points
	member.UpdatedAt = e.now()
	return tx.UpsertLoyaltyMember(ctx, *member)
}
