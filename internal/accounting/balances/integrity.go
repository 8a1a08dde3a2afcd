package balances

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Violation kinds reported by Verify.
const (
	ViolationRollForward  = "ROLL_FORWARD"
	ViolationTrialBalance = "TRIAL_BALANCE"
)

// Violation describes one inconsistent cube cell or period total.
type Violation struct {
	Kind        string          `json:"kind"`
	AccountCode string          `json:"account_code,omitempty"`
	Currency    string          `json:"currency"`
	Expected    decimal.Decimal `json:"expected"`
	Actual      decimal.Decimal `json:"actual"`
}

func (v Violation) String() string {
	if v.AccountCode == "" {
		return fmt.Sprintf("%s %s: expected %s, got %s", v.Kind, v.Currency, v.Expected, v.Actual)
	}
	return fmt.Sprintf("%s %s %s: expected %s, got %s", v.Kind, v.AccountCode, v.Currency, v.Expected, v.Actual)
}

// Verify checks that every row rolls forward (end = begin + period net) and
// that functional-currency period nets sum to zero. Each posted journal may
// leave up to one Epsilon of rounding, so the trial balance tolerance grows
// with the number of functional rows.
func Verify(ledger accounting.Ledger, rows []accounting.BalanceRow) []Violation {
	var out []Violation
	net := decimal.Zero
	functional := 0
	for _, row := range rows {
		expected := row.BeginBalance.Add(row.PeriodNet())
		if !accounting.WithinEpsilon(expected, row.EndBalance) {
			out = append(out, Violation{
				Kind:        ViolationRollForward,
				AccountCode: row.AccountCode,
				Currency:    row.Currency,
				Expected:    expected,
				Actual:      row.EndBalance,
			})
		}
		if row.Currency == ledger.FunctionalCurrency {
			net = net.Add(row.PeriodNet())
			functional++
		}
	}
	tolerance := accounting.Epsilon.Mul(decimal.NewFromInt(int64(max(functional, 1))))
	if net.Abs().GreaterThan(tolerance) {
		out = append(out, Violation{
			Kind:     ViolationTrialBalance,
			Currency: ledger.FunctionalCurrency,
			Expected: decimal.Zero,
			Actual:   net,
		})
	}
	return out
}
