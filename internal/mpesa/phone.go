package mpesa

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

// ErrInvalidPhone is a validation error; the provider is never contacted.
var ErrInvalidPhone = fmt.Errorf("%w: invalid phone number", store.ErrInvalidTransaction)

var msisdnPattern = regexp.MustCompile(`^254(7|1)\d{8}$`)

// NormalizePhone converts local and international Kenyan mobile formats to
// the 2547XXXXXXXX / 2541XXXXXXXX form Daraja expects.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	phone = strings.TrimPrefix(phone, "+")
	switch {
	case strings.HasPrefix(phone, "254"):
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = "254" + phone[1:]
	case len(phone) == 9 && (strings.HasPrefix(phone, "7") || strings.HasPrefix(phone, "1")):
		phone = "254" + phone
	}
	if !msisdnPattern.MatchString(phone) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phone, nil
}

// WholeUnits rounds an amount in cents up to whole currency units, so a
// confirmed push never leaves a fraction of the balance unpaid. The overpaid
// cents come back as change.
func WholeUnits(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return decimal.New(amountCents, -2).Ceil().IntPart()
}

// UnitsToCents converts whole units reported by the provider back to cents.
func UnitsToCents(units decimal.Decimal) int64 {
	return units.Shift(2).Round(0).IntPart()
}
