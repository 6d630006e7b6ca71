package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidSetting = errors.New("invalid setting")

// MaxLoyaltyRedeemPercent is the ceiling on how much of a sale's pre-discount
// subtotal loyalty points may pay for. Settings can lower it, never raise it.
const MaxLoyaltyRedeemPercent = 50

const (
	KeyTaxRatePercent          = "tax_rate_percent"
	KeyLoyaltyPointsRate       = "loyalty_points_rate"
	KeyLoyaltyPointsPerAmount  = "loyalty_points_per_amount"
	KeyLoyaltyPointValueCents  = "loyalty_point_value_cents"
	KeyLoyaltyMaxRedeemPercent = "loyalty_max_redeem_percent"
	KeyTierSilverCents         = "tier_silver_cents"
	KeyTierGoldCents           = "tier_gold_cents"
	KeyTierPlatinumCents       = "tier_platinum_cents"
	KeyMpesaShortCode          = "mpesa_shortcode"
	KeyMpesaPushTimeoutSeconds = "mpesa_push_timeout_seconds"
	KeyDefaultReorderLevel     = "default_reorder_level"
)

// Tier is a loyalty tier reached once lifetime spend is at least MinLifetimeCents.
type Tier struct {
	Name             string
	MinLifetimeCents int64
}

// Settings is the business snapshot read once per operation and passed into
// the engines. It is a value; callers never share a mutable copy.
type Settings struct {
	TaxRatePercent float64

	// PointsFor = floor(amount / LoyaltyPointsPerAmount * LoyaltyPointsRate), amount in whole currency units.
	LoyaltyPointsRate       float64
	LoyaltyPointsPerAmount  int64
	LoyaltyPointValueCents  int64
	LoyaltyMaxRedeemPercent int64
	Tiers                   []Tier

	MpesaShortCode      string
	MpesaPushTimeout    time.Duration
	DefaultReorderLevel int
}

func DefaultSettings() Settings {
	return Settings{
		TaxRatePercent:          16,
		LoyaltyPointsRate:       1,
		LoyaltyPointsPerAmount:  100,
		LoyaltyPointValueCents:  100,
		LoyaltyMaxRedeemPercent: 50,
		Tiers: []Tier{
			{Name: "Platinum", MinLifetimeCents: 50_000_000},
			{Name: "Gold", MinLifetimeCents: 15_000_000},
			{Name: "Silver", MinLifetimeCents: 5_000_000},
		},
		MpesaPushTimeout:    90 * time.Second,
		DefaultReorderLevel: 10,
	}
}

func (s Settings) Validate() error {
	switch {
	case s.TaxRatePercent < 0 || s.TaxRatePercent > 100:
		return fmt.Errorf("%w: %s must be between 0 and 100", ErrInvalidSetting, KeyTaxRatePercent)
	case s.LoyaltyPointsRate < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidSetting, KeyLoyaltyPointsRate)
	case s.LoyaltyPointsPerAmount < 1:
		return fmt.Errorf("%w: %s must be at least 1", ErrInvalidSetting, KeyLoyaltyPointsPerAmount)
	case s.LoyaltyPointValueCents < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidSetting, KeyLoyaltyPointValueCents)
	case s.LoyaltyMaxRedeemPercent < 0 || s.LoyaltyMaxRedeemPercent > MaxLoyaltyRedeemPercent:
		return fmt.Errorf("%w: %s must be between 0 and %d", ErrInvalidSetting, KeyLoyaltyMaxRedeemPercent, MaxLoyaltyRedeemPercent)
	case s.MpesaPushTimeout <= 0:
		return fmt.Errorf("%w: %s must be positive", ErrInvalidSetting, KeyMpesaPushTimeoutSeconds)
	case s.DefaultReorderLevel < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidSetting, KeyDefaultReorderLevel)
	}
	return nil
}

// WithOverrides returns a copy of s with the stored key-value overrides applied.
// Unknown keys and unparsable values are rejected.
func (s Settings) WithOverrides(values map[string]string) (Settings, error) {
	out := s
	out.Tiers = append([]Tier(nil), s.Tiers...)

	for key, raw := range values {
		raw = strings.TrimSpace(raw)
		var err error
		switch key {
		case KeyTaxRatePercent:
			out.TaxRatePercent, err = strconv.ParseFloat(raw, 64)
		case KeyLoyaltyPointsRate:
			out.LoyaltyPointsRate, err = strconv.ParseFloat(raw, 64)
		case KeyLoyaltyPointsPerAmount:
			out.LoyaltyPointsPerAmount, err = strconv.ParseInt(raw, 10, 64)
		case KeyLoyaltyPointValueCents:
			out.LoyaltyPointValueCents, err = strconv.ParseInt(raw, 10, 64)
		case KeyLoyaltyMaxRedeemPercent:
			out.LoyaltyMaxRedeemPercent, err = strconv.ParseInt(raw, 10, 64)
		case KeyTierSilverCents:
			err = out.setTier("Silver", raw)
		case KeyTierGoldCents:
			err = out.setTier("Gold", raw)
		case KeyTierPlatinumCents:
			err = out.setTier("Platinum", raw)
		case KeyMpesaShortCode:
			out.MpesaShortCode = raw
		case KeyMpesaPushTimeoutSeconds:
			var seconds int64
			seconds, err = strconv.ParseInt(raw, 10, 64)
			out.MpesaPushTimeout = time.Duration(seconds) * time.Second
		case KeyDefaultReorderLevel:
			out.DefaultReorderLevel, err = strconv.Atoi(raw)
		default:
			return Settings{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
		}
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s: %v", ErrInvalidSetting, key, err)
		}
	}

	sort.SliceStable(out.Tiers, func(i, j int) bool {
		return out.Tiers[i].MinLifetimeCents > out.Tiers[j].MinLifetimeCents
	})
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

func (s *Settings) setTier(name string, raw string) error {
	threshold, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	if threshold < 0 {
		return errors.New("threshold must not be negative")
	}
	for i := range s.Tiers {
		if s.Tiers[i].Name == name {
			s.Tiers[i].MinLifetimeCents = threshold
			return nil
		}
	}
	s.Tiers = append(s.Tiers, Tier{Name: name, MinLifetimeCents: threshold})
	return nil
}

// Values renders the snapshot with the same keys WithOverrides accepts.
func (s Settings) Values() map[string]string {
	values := map[string]string{
		KeyTaxRatePercent:          strconv.FormatFloat(s.TaxRatePercent, 'f', -1, 64),
		KeyLoyaltyPointsRate:       strconv.FormatFloat(s.LoyaltyPointsRate, 'f', -1, 64),
		KeyLoyaltyPointsPerAmount:  strconv.FormatInt(s.LoyaltyPointsPerAmount, 10),
		KeyLoyaltyPointValueCents:  strconv.FormatInt(s.LoyaltyPointValueCents, 10),
		KeyLoyaltyMaxRedeemPercent: strconv.FormatInt(s.LoyaltyMaxRedeemPercent, 10),
		KeyMpesaShortCode:          s.MpesaShortCode,
		KeyMpesaPushTimeoutSeconds: strconv.FormatInt(int64(s.MpesaPushTimeout/time.Second), 10),
		KeyDefaultReorderLevel:     strconv.Itoa(s.DefaultReorderLevel),
	}
	for _, tier := range s.Tiers {
		values["tier_"+strings.ToLower(tier.Name)+"_cents"] = strconv.FormatInt(tier.MinLifetimeCents, 10)
	}
	return values
}
