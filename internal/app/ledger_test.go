package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

func TestNewLedgerPostsInlineAndBumpsReportCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fx := memory.NewFixture()
	audit := shared.NewAuditTrail()
	ledger := NewLedger(LedgerDeps{
		Store:  fx.Store,
		Audit:  audit,
		Redis:  client,
		Config: &Config{PostingMode: PostingModeInline},
	})
	require.NotNil(t, ledger.Inline)
	require.NotNil(t, ledger.Idempotency)

	ctx := context.Background()
	before, err := ledger.Cache.Version(ctx)
	require.NoError(t, err)

	journal, err := ledger.Journals.CreateJournal(ctx, journals.CreateJournalInput{
		LedgerID: fx.Ledger.ID,
		Period:   memory.FixtureOpenPeriod,
		UserID:   7,
		Lines: []journals.LineInput{
			{AccountCode: "01-100-5000", Debit: decimal.NewFromInt(50)},
			{AccountCode: "01-000-1000", Credit: decimal.NewFromInt(50)},
		},
	})
	require.NoError(t, err)

	_, err = ledger.Poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)
	ledger.Inline.Wait()

	posted, err := ledger.Journals.GetJournal(ctx, journal.ID)
	require.NoError(t, err)
	require.Equal(t, accounting.JournalStatusPosted, posted.Status)

	after, err := ledger.Cache.Version(ctx)
	require.NoError(t, err)
	require.Greater(t, after, before)
}

type nopDispatcher struct{ calls int }

func (d *nopDispatcher) Dispatch(context.Context, journals.PostRequest) error {
	d.calls++
	return nil
}

func TestNewLedgerUsesProvidedDispatcher(t *testing.T) {
	fx := memory.NewFixture()
	d := &nopDispatcher{}
	ledger := NewLedger(LedgerDeps{Store: fx.Store, Dispatcher: d})
	require.Nil(t, ledger.Inline)
	require.Nil(t, ledger.Idempotency)

	services := ledger.HTTPServices()
	require.Same(t, ledger.Journals, services.Journals)
	require.Same(t, ledger.Reports, services.Reports)
}
