package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Numeric currency codes used by the direct-push notification.
const (
	CurrencyCodeEUR     = 0
	CurrencyCodeDefault = 1
	CurrencyCodeUSD     = 2
)

// CurrencyCode returns the numeric code the payment party uses for an ISO
// currency. Anything that is not EUR or USD is the default (ILS) code.
func CurrencyCode(currency string) int {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "EUR":
		return CurrencyCodeEUR
	case "USD":
		return CurrencyCodeUSD
	default:
		return CurrencyCodeDefault
	}
}

// FormatAmount renders an amount with exactly two decimals and "." as the
// separator. This is a wire format, not a display format.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// ParseMinorUnits converts an integer amount in minor units ("4000") to
// major units (40.00).
func ParseMinorUnits(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse minor units %q: %w", raw, err)
	}
	return decimal.New(n, -2), nil
}

func parseCurrencyCode(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse currency code %q: %w", raw, err)
	}
	return code, nil
}
