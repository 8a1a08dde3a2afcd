package balances

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestApplyAccumulatesPerCurrency(t *testing.T) {
	fx := memory.NewFixture()
	bank := fx.Account("01-000-1200")
	revenue := fx.Account("01-000-4000")
	journal := accounting.Journal{
		LedgerID: fx.Ledger.ID,
		Period:   memory.FixtureOpenPeriod,
		Currency: "EUR",
		Lines: []accounting.JournalLine{
			{AccountID: bank.ID, Currency: "EUR", EnteredDebit: d("100"), EnteredCredit: decimal.Zero, ExchangeRate: d("1.1"), AccountedDebit: d("110"), AccountedCredit: decimal.Zero},
			{AccountID: revenue.ID, Currency: "USD", EnteredDebit: decimal.Zero, EnteredCredit: d("110"), ExchangeRate: decimal.NewFromInt(1), AccountedDebit: decimal.Zero, AccountedCredit: d("110")},
		},
	}
	updater := NewUpdater()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := fx.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
			_, err := updater.Apply(ctx, tx, fx.Ledger, journal)
			return err
		})
		require.NoError(t, err)
	}

	rows := fx.Store.Balances()
	require.Len(t, rows, 3)

	byKey := map[string]accounting.BalanceRow{}
	for _, r := range rows {
		byKey[r.AccountCode+"/"+r.Currency] = r
	}
	eur := byKey["01-000-1200/EUR"]
	require.True(t, eur.PeriodNetDebit.Equal(d("200")))
	require.True(t, eur.EndBalance.Equal(d("200")))
	usdBank := byKey["01-000-1200/USD"]
	require.True(t, usdBank.EndBalance.Equal(d("220")))
	rev := byKey["01-000-4000/USD"]
	require.True(t, rev.PeriodNetCredit.Equal(d("220")))
	require.True(t, rev.EndBalance.Equal(d("-220")))
	require.True(t, rev.BeginBalance.IsZero())
}

func TestDeltasMergeSameCell(t *testing.T) {
	fx := memory.NewFixture()
	cash := fx.Account("01-000-1000")
	journal := accounting.Journal{
		LedgerID: fx.Ledger.ID,
		Period:   memory.FixtureOpenPeriod,
		Currency: "USD",
		Lines: []accounting.JournalLine{
			{AccountID: cash.ID, Currency: "USD", AccountedDebit: d("10"), AccountedCredit: decimal.Zero},
			{AccountID: cash.ID, Currency: "USD", AccountedDebit: decimal.Zero, AccountedCredit: d("4")},
		},
	}
	deltas := NewUpdater().Deltas(fx.Ledger, journal)
	require.Len(t, deltas, 1)
	require.True(t, deltas[0].Debit.Equal(d("10")))
	require.True(t, deltas[0].Credit.Equal(d("4")))
}
