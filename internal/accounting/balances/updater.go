// Package balances accumulates posted journal amounts into the balances cube.
package balances

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Writer increments one cube row atomically.
type Writer interface {
	UpsertBalance(ctx context.Context, delta accounting.BalanceDelta) (accounting.BalanceRow, error)
}

// Updater turns journal lines into cube deltas.
type Updater struct{}

// NewUpdater constructs an Updater.
func NewUpdater() *Updater {
	return &Updater{}
}

type cellKey struct {
	account  int64
	currency string
}

// Deltas aggregates journal lines into one delta per touched cube cell, in
// order of first appearance. Lines in a foreign currency touch both their
// entered-currency cell and the functional-currency cell.
func (u *Updater) Deltas(ledger accounting.Ledger, journal accounting.Journal) []accounting.BalanceDelta {
	index := make(map[cellKey]int)
	var out []accounting.BalanceDelta
	add := func(accountID int64, currency string, debit, credit decimal.Decimal) {
		key := cellKey{accountID, currency}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, accounting.BalanceDelta{
				LedgerID:  ledger.ID,
				AccountID: accountID,
				Period:    journal.Period,
				Currency:  currency,
				Debit:     decimal.Zero,
				Credit:    decimal.Zero,
			})
		}
		out[i].Debit = out[i].Debit.Add(debit)
		out[i].Credit = out[i].Credit.Add(credit)
	}
	for _, line := range journal.Lines {
		currency := line.Currency
		if currency == "" {
			currency = journal.Currency
		}
		if currency == ledger.FunctionalCurrency {
			add(line.AccountID, currency, line.AccountedDebit, line.AccountedCredit)
			continue
		}
		add(line.AccountID, currency, line.EnteredDebit, line.EnteredCredit)
		add(line.AccountID, ledger.FunctionalCurrency, line.AccountedDebit, line.AccountedCredit)
	}
	return out
}

// Apply writes every delta of journal. It must run inside the transaction
// that marks the journal posted.
func (u *Updater) Apply(ctx context.Context, w Writer, ledger accounting.Ledger, journal accounting.Journal) ([]accounting.BalanceRow, error) {
	deltas := u.Deltas(ledger, journal)
	rows := make([]accounting.BalanceRow, 0, len(deltas))
	for _, delta := range deltas {
		row, err := w.UpsertBalance(ctx, delta)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
