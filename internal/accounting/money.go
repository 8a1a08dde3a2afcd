package accounting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// AmountScale is the number of decimal places kept for accounted amounts.
const AmountScale = 2

// Epsilon is the balancing tolerance in reference units.
var Epsilon = decimal.New(1, -AmountScale)

// Round rounds half away from zero to AmountScale places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// WithinEpsilon reports whether |a-b| <= Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// IsNegligible reports whether |d| <= Epsilon.
func IsNegligible(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}

// SplitSigned turns a signed amount into a debit/credit pair.
func SplitSigned(amount decimal.Decimal) (debit, credit decimal.Decimal) {
	if amount.IsNegative() {
		return decimal.Zero, amount.Neg()
	}
	return amount, decimal.Zero
}

// NormalizeCurrency upper-cases and validates an ISO-4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}
