package journals

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

type totals struct {
	debit  decimal.Decimal
	credit decimal.Decimal
}

func (t totals) add(debit, credit decimal.Decimal) totals {
	return totals{debit: t.debit.Add(debit), credit: t.credit.Add(credit)}
}

// CheckBalanced verifies entered debits equal credits per currency and
// accounted debits equal credits overall, within accounting.Epsilon.
func CheckBalanced(functional string, lines []accounting.JournalLine) error {
	entered := make(map[string]totals)
	accounted := totals{debit: decimal.Zero, credit: decimal.Zero}
	for _, l := range lines {
		t, ok := entered[l.Currency]
		if !ok {
			t = totals{debit: decimal.Zero, credit: decimal.Zero}
		}
		entered[l.Currency] = t.add(l.EnteredDebit, l.EnteredCredit)
		accounted = accounted.add(l.AccountedDebit, l.AccountedCredit)
	}
	currencies := make([]string, 0, len(entered))
	for c := range entered {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		t := entered[c]
		if !accounting.WithinEpsilon(t.debit, t.credit) {
			return &accounting.UnbalancedError{Currency: c, Debit: t.debit, Credit: t.credit}
		}
	}
	if !accounting.WithinEpsilon(accounted.debit, accounted.credit) {
		return &accounting.UnbalancedError{Currency: functional, Debit: accounted.debit, Credit: accounted.credit}
	}
	return nil
}

func checkAmounts(debit, credit decimal.Decimal) error {
	if debit.IsNegative() || credit.IsNegative() {
		return accounting.ErrInvalidAmount
	}
	if debit.IsPositive() == credit.IsPositive() {
		return accounting.ErrInvalidAmount
	}
	return nil
}
