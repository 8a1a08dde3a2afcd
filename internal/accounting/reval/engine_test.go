package reval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type env struct {
	fx     *memory.Fixture
	bank   accounting.Account
	inline *journals.InlineDispatcher
	audit  *shared.AuditTrail
	engine *Engine
}

func newEnv(t *testing.T, locker Locker, endRate string) *env {
	t.Helper()
	fx := memory.NewFixture()
	bank := fx.Account("01-000-1200")
	fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: fx.Ledger.ID, AccountID: bank.ID, Period: memory.FixtureOpenPeriod, Currency: "EUR",
		PeriodNetDebit: d("100"), PeriodNetCredit: decimal.Zero, BeginBalance: decimal.Zero, EndBalance: d("100"),
	})
	fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: fx.Ledger.ID, AccountID: bank.ID, Period: memory.FixtureOpenPeriod, Currency: "USD",
		PeriodNetDebit: d("110"), PeriodNetCredit: decimal.Zero, BeginBalance: decimal.Zero, EndBalance: d("110"),
	})
	fx.Store.AddExchangeRate(accounting.ExchangeRate{
		FromCurrency: "EUR", ToCurrency: "USD", Period: memory.FixtureOpenPeriod,
		Rate: d("1.1"), EffectiveAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if endRate != "" {
		fx.Store.AddExchangeRate(accounting.ExchangeRate{
			FromCurrency: "EUR", ToCurrency: "USD", Period: memory.FixtureOpenPeriod,
			Rate: d(endRate), EffectiveAt: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		})
	}

	audit := shared.NewAuditTrail()
	poster := journals.NewPoster(fx.Store, nil, nil, audit, nil)
	inline := journals.NewInlineDispatcher(poster.Process, nil)
	poster.SetDispatcher(inline)
	service := journals.NewService(fx.Store, nil, poster, audit, nil)
	return &env{fx: fx, bank: bank, inline: inline, audit: audit, engine: NewEngine(fx.Store, service, locker, audit, nil)}
}

func (e *env) balance(code, currency string) decimal.Decimal {
	for _, row := range e.fx.Store.Balances() {
		if row.AccountCode == code && row.Currency == currency {
			return row.EndBalance
		}
	}
	return decimal.Zero
}

func input() RunInput {
	return RunInput{LedgerID: memory.FixtureLedgerID, Period: memory.FixtureOpenPeriod, Currency: "EUR", OffsetAccount: "01-000-7900"}
}

func TestRunBooksUnrealizedGain(t *testing.T) {
	e := newEnv(t, nil, "1.2")

	result, err := e.engine.Run(context.Background(), input())
	require.NoError(t, err)
	e.inline.Wait()

	require.NotZero(t, result.JournalID)
	require.True(t, result.TotalVariance.Equal(d("10")), result.TotalVariance.String())
	require.Len(t, result.Variances, 1)
	require.True(t, result.Variances[0].Target.Equal(d("120")))

	journal, ok := e.fx.Store.Journal(result.JournalID)
	require.True(t, ok)
	require.Equal(t, accounting.JournalStatusPosted, journal.Status)
	require.Equal(t, SourceModule, journal.SourceModule)
	require.Equal(t, accounting.SystemUserID, journal.CreatedBy)
	require.Len(t, journal.Lines, 2)
	require.True(t, journal.Lines[0].AccountedDebit.Equal(d("10")))
	require.Equal(t, "01-000-7900", journal.Lines[1].AccountCode)
	require.True(t, journal.Lines[1].AccountedCredit.Equal(d("10")))

	require.True(t, e.balance("01-000-1200", "USD").Equal(d("120")))
	require.True(t, e.balance("01-000-7900", "USD").Equal(d("-10")))
	require.True(t, e.balance("01-000-1200", "EUR").Equal(d("100")))
	require.Contains(t, e.audit.Actions(), "reval.run")
}

func TestRunBooksUnrealizedLoss(t *testing.T) {
	e := newEnv(t, nil, "1.05")

	result, err := e.engine.Run(context.Background(), input())
	require.NoError(t, err)
	e.inline.Wait()

	require.True(t, result.TotalVariance.Equal(d("-5")))
	journal, _ := e.fx.Store.Journal(result.JournalID)
	require.True(t, journal.Lines[0].AccountedCredit.Equal(d("5")))
	require.True(t, journal.Lines[1].AccountedDebit.Equal(d("5")))
	require.True(t, e.balance("01-000-1200", "USD").Equal(d("105")))
}

func TestRunOffsetsSubEpsilonTotal(t *testing.T) {
	e := newEnv(t, nil, "1.2")
	e.fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: e.fx.Ledger.ID, AccountID: e.bank.ID, Period: memory.FixtureOpenPeriod, Currency: "USD",
		PeriodNetDebit: d("119.95"), PeriodNetCredit: decimal.Zero, BeginBalance: decimal.Zero, EndBalance: d("119.95"),
	})
	other := e.fx.Account("01-100-1200")
	e.fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: e.fx.Ledger.ID, AccountID: other.ID, Period: memory.FixtureOpenPeriod, Currency: "EUR",
		PeriodNetDebit: d("50"), PeriodNetCredit: decimal.Zero, BeginBalance: decimal.Zero, EndBalance: d("50"),
	})
	e.fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: e.fx.Ledger.ID, AccountID: other.ID, Period: memory.FixtureOpenPeriod, Currency: "USD",
		PeriodNetDebit: d("60.04"), PeriodNetCredit: decimal.Zero, BeginBalance: decimal.Zero, EndBalance: d("60.04"),
	})

	result, err := e.engine.Run(context.Background(), input())
	require.NoError(t, err)
	e.inline.Wait()

	require.Len(t, result.Variances, 2)
	require.True(t, result.TotalVariance.Equal(d("0.01")), result.TotalVariance.String())
	journal, _ := e.fx.Store.Journal(result.JournalID)
	require.Equal(t, accounting.JournalStatusPosted, journal.Status)
	require.Len(t, journal.Lines, 3)
	offset := journal.Lines[2]
	require.Equal(t, "01-000-7900", offset.AccountCode)
	require.True(t, offset.AccountedCredit.Equal(d("0.01")))

	sum := decimal.Zero
	for _, l := range journal.Lines {
		sum = sum.Add(l.AccountedNet())
	}
	require.True(t, sum.IsZero(), sum.String())
}

func TestRunWithoutVarianceCreatesNoJournal(t *testing.T) {
	e := newEnv(t, nil, "")

	result, err := e.engine.Run(context.Background(), input())
	require.NoError(t, err)
	require.Zero(t, result.JournalID)
	require.True(t, result.TotalVariance.IsZero())
	require.Empty(t, e.audit.Actions())
}

func TestRunRejectsFunctionalCurrency(t *testing.T) {
	e := newEnv(t, nil, "1.2")
	in := input()
	in.Currency = "usd"

	_, err := e.engine.Run(context.Background(), in)
	require.ErrorIs(t, err, accounting.ErrInvalidCurrency)
}

func TestRunMissingRate(t *testing.T) {
	e := newEnv(t, nil, "1.2")
	e.fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: e.fx.Ledger.ID, AccountID: e.bank.ID, Period: memory.FixtureOpenPeriod, Currency: "GBP",
		PeriodNetDebit: d("10"), PeriodNetCredit: decimal.Zero, BeginBalance: decimal.Zero, EndBalance: d("10"),
	})
	in := input()
	in.Currency = "GBP"

	_, err := e.engine.Run(context.Background(), in)
	require.ErrorIs(t, err, accounting.ErrMissingExchangeRate)
}

func TestRunHonoursBatchLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewRedisLocker(client, time.Minute)
	e := newEnv(t, locker, "1.2")

	release, err := locker.Acquire(context.Background(), shared.BatchLockKey("reval:EUR", memory.FixtureLedgerID, memory.FixtureOpenPeriod))
	require.NoError(t, err)
	_, err = e.engine.Run(context.Background(), input())
	require.ErrorIs(t, err, accounting.ErrBatchInProgress)

	require.NoError(t, release(context.Background()))
	_, err = e.engine.Run(context.Background(), input())
	require.NoError(t, err)
	e.inline.Wait()
}
