package journals

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type queue struct {
	mu   sync.Mutex
	reqs []PostRequest
	err  error
}

func (q *queue) Dispatch(ctx context.Context, req PostRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.reqs = append(q.reqs, req)
	return nil
}

type harness struct {
	fx      *memory.Fixture
	audit   *shared.AuditTrail
	queue   *queue
	poster  *Poster
	service *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fx := memory.NewFixture()
	audit := shared.NewAuditTrail()
	q := &queue{}
	poster := NewPoster(fx.Store, nil, q, audit, nil)
	now := func() time.Time { return time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC) }
	poster.WithNow(now)
	service := NewService(fx.Store, nil, poster, audit, nil)
	service.WithNow(now)
	return &harness{fx: fx, audit: audit, queue: q, poster: poster, service: service}
}

func simple(period string, debit, credit string) CreateJournalInput {
	return CreateJournalInput{
		LedgerID: memory.FixtureLedgerID,
		Period:   period,
		UserID:   7,
		Lines: []LineInput{
			{AccountCode: "01-100-5000", Debit: d(debit), Credit: decimal.Zero},
			{AccountCode: "01-000-1000", Debit: decimal.Zero, Credit: d(credit)},
		},
	}
}

func TestCreateJournalResolvesAccounts(t *testing.T) {
	h := newHarness(t)

	journal, err := h.service.CreateJournal(context.Background(), simple(memory.FixtureOpenPeriod, "100", "100"))
	require.NoError(t, err)
	require.Equal(t, accounting.JournalStatusDraft, journal.Status)
	require.Equal(t, accounting.ApprovalNotRequired, journal.ApprovalStatus)
	require.Equal(t, "USD", journal.Currency)
	require.Equal(t, SourceManual, journal.SourceModule)
	require.Len(t, journal.Lines, 2)
	require.Equal(t, "01-100-5000", journal.Lines[0].AccountCode)
	require.True(t, journal.Lines[0].AccountedDebit.Equal(d("100")))
	require.Len(t, h.fx.Store.Accounts(), 2)
	require.Equal(t, []string{"journal.create"}, h.audit.Actions())
}

func TestCreateJournalBalanceTolerance(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.CreateJournal(context.Background(), simple(memory.FixtureOpenPeriod, "100", "99.99"))
	require.NoError(t, err)

	_, err = h.service.CreateJournal(context.Background(), simple(memory.FixtureOpenPeriod, "100", "99.98"))
	require.ErrorIs(t, err, accounting.ErrUnbalanced)
	var unbalanced *accounting.UnbalancedError
	require.True(t, errors.As(err, &unbalanced))
	require.Equal(t, "USD", unbalanced.Currency)
}

func TestCreateJournalRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateJournalInput)
		want   error
	}{
		{"closed period", func(in *CreateJournalInput) { in.Period = memory.FixtureClosedPeriod }, accounting.ErrPeriodClosed},
		{"unknown period", func(in *CreateJournalInput) { in.Period = "2030-01" }, accounting.ErrPeriodNotFound},
		{"single line", func(in *CreateJournalInput) { in.Lines = in.Lines[:1] }, accounting.ErrTooFewLines},
		{"negative amount", func(in *CreateJournalInput) {
			in.Lines[0].Debit = d("-100")
		}, accounting.ErrInvalidAmount},
		{"double sided", func(in *CreateJournalInput) {
			in.Lines[0].Credit = d("5")
		}, accounting.ErrInvalidAmount},
		{"disabled value", func(in *CreateJournalInput) { in.Lines[0].AccountCode = "01-100-9999" }, accounting.ErrInvalidSegmentValue},
		{"short code", func(in *CreateJournalInput) { in.Lines[0].AccountCode = "01-5000" }, accounting.ErrSegmentCountMismatch},
		{"bad currency", func(in *CreateJournalInput) { in.Currency = "ZZZ" }, accounting.ErrInvalidCurrency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			in := simple(memory.FixtureOpenPeriod, "100", "100")
			tc.mutate(&in)
			_, err := h.service.CreateJournal(context.Background(), in)
			require.ErrorIs(t, err, tc.want)
			require.Empty(t, h.audit.Actions())
		})
	}
}

func TestCreateJournalAccessDenied(t *testing.T) {
	h := newHarness(t)
	h.fx.Store.AssignDataAccessSet(7, accounting.DataAccessSet{
		ID: 1, LedgerID: memory.FixtureLedgerID, Name: "Company 02",
		Segments: map[string]string{"Company": "02"},
	})

	_, err := h.service.CreateJournal(context.Background(), simple(memory.FixtureOpenPeriod, "100", "100"))
	require.ErrorIs(t, err, accounting.ErrAccessDenied)
}

func TestCreateJournalForeignCurrency(t *testing.T) {
	h := newHarness(t)
	h.fx.Store.AddExchangeRate(accounting.ExchangeRate{
		FromCurrency: "EUR", ToCurrency: "USD", Period: memory.FixtureOpenPeriod,
		Rate: d("1.1"), EffectiveAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	in := simple(memory.FixtureOpenPeriod, "100", "100")
	in.Currency = "eur"

	journal, err := h.service.CreateJournal(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "EUR", journal.Currency)
	for _, l := range journal.Lines {
		require.Equal(t, "EUR", l.Currency)
		require.True(t, l.ExchangeRate.Equal(d("1.1")))
	}
	require.True(t, journal.Lines[0].AccountedDebit.Equal(d("110")))

	in.Currency = "GBP"
	_, err = h.service.CreateJournal(context.Background(), in)
	require.ErrorIs(t, err, accounting.ErrMissingExchangeRate)

	in.Lines[0].ExchangeRate = d("1.25")
	in.Lines[1].ExchangeRate = d("1.25")
	journal, err = h.service.CreateJournal(context.Background(), in)
	require.NoError(t, err)
	require.True(t, journal.Lines[1].AccountedCredit.Equal(d("125")))
}

func TestPostAndProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	journal, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "250", "250"))
	require.NoError(t, err)

	receipt, err := h.poster.Post(ctx, journal.ID, 9)
	require.NoError(t, err)
	require.Equal(t, accounting.JournalStatusProcessing, receipt.Status)
	require.Equal(t, []PostRequest{{JournalID: journal.ID, ActorID: 9}}, h.queue.reqs)

	_, err = h.poster.Post(ctx, journal.ID, 9)
	require.ErrorIs(t, err, accounting.ErrJournalProcessing)

	var observed []int64
	h.poster.Observe(func(ctx context.Context, j accounting.Journal) { observed = append(observed, j.ID) })
	require.NoError(t, h.poster.Process(ctx, journal.ID))
	require.Equal(t, []int64{journal.ID}, observed)

	stored, ok := h.fx.Store.Journal(journal.ID)
	require.True(t, ok)
	require.Equal(t, accounting.JournalStatusPosted, stored.Status)
	require.NotNil(t, stored.PostedAt)
	require.Equal(t, int64(9), stored.SubmittedBy)

	rows := h.fx.Store.Balances()
	require.Len(t, rows, 2)
	net := decimal.Zero
	for _, r := range rows {
		net = net.Add(r.PeriodNet())
	}
	require.True(t, net.IsZero())

	_, err = h.poster.Post(ctx, journal.ID, 9)
	require.ErrorIs(t, err, accounting.ErrJournalPosted)

	require.NoError(t, h.poster.Process(ctx, journal.ID))
	require.Len(t, h.fx.Store.Balances(), 2)
	require.Equal(t, []string{"journal.create", "journal.post.submit", "journal.post"}, h.audit.Actions())
}

func TestProcessFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expense := h.fx.Account("01-100-5000")
	h.fx.Store.AddBudget(accounting.Budget{ID: 1, LedgerID: memory.FixtureLedgerID, Name: "FY24", Status: accounting.BudgetOpen})
	bal := h.fx.Store.AddBudgetBalance(accounting.BudgetBalance{
		BudgetID: 1, Period: memory.FixtureOpenPeriod, AccountID: expense.ID,
		BudgetAmount: d("1000"), ActualAmount: decimal.Zero, EncumbranceAmount: decimal.Zero,
	})
	h.fx.Store.AddBudgetControlRule(accounting.BudgetControlRule{ID: 1, LedgerID: memory.FixtureLedgerID, AccountFilter: "5000", Level: accounting.ControlTrack})

	journal, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "100", "100"))
	require.NoError(t, err)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)

	writes := 0
	h.fx.Store.BeforeUpsertBalance = func(accounting.BalanceDelta) error {
		writes++
		if writes == 2 {
			return errors.New("disk full")
		}
		return nil
	}
	err = h.poster.Process(ctx, journal.ID)
	var postErr *PostingError
	require.True(t, errors.As(err, &postErr))
	require.Equal(t, journal.ID, postErr.JournalID)

	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
	require.Nil(t, stored.PostedAt)
	require.Empty(t, h.fx.Store.Balances())
	got, _ := h.fx.Store.BudgetBalance(bal.ID)
	require.True(t, got.ActualAmount.IsZero())
	require.Contains(t, h.audit.Actions(), "journal.post.failed")

	h.fx.Store.BeforeUpsertBalance = nil
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)
	require.NoError(t, h.poster.Process(ctx, journal.ID))
	got, _ = h.fx.Store.BudgetBalance(bal.ID)
	require.True(t, got.ActualAmount.Equal(d("100")))
}

func TestProcessRejectsFutureEntryPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	journal, err := h.service.CreateJournal(ctx, simple(memory.FixtureFuturePeriod, "10", "10"))
	require.NoError(t, err)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)

	err = h.poster.Process(ctx, journal.ID)
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)
	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
}

func TestProcessFundsCheckBlocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expense := h.fx.Account("01-100-5000")
	h.fx.Store.AddBudget(accounting.Budget{ID: 1, LedgerID: memory.FixtureLedgerID, Name: "FY24", Status: accounting.BudgetOpen})
	h.fx.Store.AddBudgetBalance(accounting.BudgetBalance{
		BudgetID: 1, Period: memory.FixtureOpenPeriod, AccountID: expense.ID,
		BudgetAmount: d("50"), ActualAmount: decimal.Zero, EncumbranceAmount: decimal.Zero,
	})
	h.fx.Store.AddBudgetControlRule(accounting.BudgetControlRule{ID: 1, LedgerID: memory.FixtureLedgerID, AccountFilter: "5*", Level: accounting.ControlAbsolute})

	journal, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "100", "100"))
	require.NoError(t, err)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)

	err = h.poster.Process(ctx, journal.ID)
	require.ErrorIs(t, err, accounting.ErrInsufficientFunds)
	require.Equal(t, "INSUFFICIENT_FUNDS", accounting.ErrorCode(err))
	require.Empty(t, h.fx.Store.Balances())
}

func TestProcessAddsIntercompanyLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fx.Store.AddIntercompanyRule(accounting.IntercompanyRule{
		LedgerID: memory.FixtureLedgerID, FromCompany: "01", ToCompany: "02",
		PayableAccount: "01-000-2100", ReceivableAccount: "02-000-1300",
	})
	in := simple(memory.FixtureOpenPeriod, "75", "75")
	in.Lines[1].AccountCode = "02-000-1000"

	journal, err := h.service.CreateJournal(ctx, in)
	require.NoError(t, err)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)
	require.NoError(t, h.poster.Process(ctx, journal.ID))

	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Len(t, stored.Lines, 4)
	require.Equal(t, accounting.LineSourceIntercompany, stored.Lines[2].Source)
	require.Equal(t, 3, stored.Lines[2].LineNumber)
	require.NoError(t, CheckBalanced("USD", stored.Lines))
}

func TestApprovalGatesPosting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := simple(memory.FixtureOpenPeriod, "10", "10")
	in.RequiresApproval = true
	journal, err := h.service.CreateJournal(ctx, in)
	require.NoError(t, err)
	require.Equal(t, accounting.ApprovalPending, journal.ApprovalStatus)

	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.ErrorIs(t, err, accounting.ErrApprovalRequired)

	_, err = h.service.Approve(ctx, journal.ID, 3)
	require.NoError(t, err)
	_, err = h.service.Approve(ctx, journal.ID, 3)
	require.ErrorIs(t, err, accounting.ErrInvalidStatus)

	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)
}

func TestRejectedJournalCannotPost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := simple(memory.FixtureOpenPeriod, "10", "10")
	in.RequiresApproval = true
	journal, err := h.service.CreateJournal(ctx, in)
	require.NoError(t, err)

	rejected, err := h.service.Reject(ctx, journal.ID, 3)
	require.NoError(t, err)
	require.Equal(t, accounting.ApprovalRejected, rejected.ApprovalStatus)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.ErrorIs(t, err, accounting.ErrApprovalRejected)
}

func TestDispatchFailureReverts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	journal, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "10", "10"))
	require.NoError(t, err)
	h.queue.err = errors.New("broker down")

	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.Error(t, err)
	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
}

func TestInlineDispatcherPostsImmediately(t *testing.T) {
	h := newHarness(t)
	inline := NewInlineDispatcher(h.poster.Process, nil)
	h.poster.SetDispatcher(inline)
	in := simple(memory.FixtureOpenPeriod, "40", "40")
	in.PostImmediately = true

	journal, err := h.service.CreateJournal(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, accounting.JournalStatusProcessing, journal.Status)

	inline.Wait()
	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusPosted, stored.Status)
}

func failRevert(store *memory.Store, times int) {
	store.BeforeTransitionJournal = func(_ int64, from, to accounting.JournalStatus) error {
		if to == accounting.JournalStatusDraft && times > 0 {
			times--
			return errors.New("connection refused")
		}
		return nil
	}
}

func breakCube(store *memory.Store) {
	store.BeforeUpsertBalance = func(accounting.BalanceDelta) error { return errors.New("disk full") }
}

func TestFailedRevertIsReleasedLater(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	journal, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "10", "10"))
	require.NoError(t, err)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)

	breakCube(h.fx.Store)
	failRevert(h.fx.Store, 1)
	err = h.poster.Process(ctx, journal.ID)
	require.ErrorContains(t, err, "connection refused")
	var postErr *PostingError
	require.False(t, errors.As(err, &postErr))
	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusProcessing, stored.Status)
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.ErrorIs(t, err, accounting.ErrJournalProcessing)

	require.NoError(t, h.poster.Release(ctx, journal.ID, err))
	stored, _ = h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
	require.Contains(t, h.audit.Actions(), "journal.post.abandoned")

	// Releasing again is a no-op.
	require.NoError(t, h.poster.Release(ctx, journal.ID, nil))

	h.fx.Store.BeforeUpsertBalance = nil
	_, err = h.poster.Post(ctx, journal.ID, 7)
	require.NoError(t, err)
	require.NoError(t, h.poster.Process(ctx, journal.ID))
}

func TestProcessRevertsOnCancelledContext(t *testing.T) {
	h := newHarness(t)
	journal, err := h.service.CreateJournal(context.Background(), simple(memory.FixtureOpenPeriod, "10", "10"))
	require.NoError(t, err)
	_, err = h.poster.Post(context.Background(), journal.ID, 7)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.poster.Process(ctx, journal.ID)
	require.ErrorIs(t, err, context.Canceled)
	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
}

func TestRecoverStaleReleasesOnlyOldJournals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "10", "10"))
	require.NoError(t, err)
	recent, err := h.service.CreateJournal(ctx, simple(memory.FixtureOpenPeriod, "20", "20"))
	require.NoError(t, err)

	h.fx.Store.WithNow(func() time.Time { return time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC) })
	_, err = h.poster.Post(ctx, old.ID, 7)
	require.NoError(t, err)
	h.fx.Store.WithNow(func() time.Time { return time.Date(2024, 1, 15, 8, 58, 0, 0, time.UTC) })
	_, err = h.poster.Post(ctx, recent.ID, 7)
	require.NoError(t, err)

	released, err := h.poster.RecoverStale(ctx, 15*time.Minute, 10)
	require.NoError(t, err)
	require.Equal(t, 1, released)
	stored, _ := h.fx.Store.Journal(old.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
	stored, _ = h.fx.Store.Journal(recent.ID)
	require.Equal(t, accounting.JournalStatusProcessing, stored.Status)

	_, err = h.poster.RecoverStale(ctx, 0, 10)
	require.Error(t, err)
}

func TestInlineDispatcherReleasesUnresolvedJournal(t *testing.T) {
	h := newHarness(t)
	inline := NewInlineDispatcher(h.poster.Process, nil).WithRelease(h.poster.Release)
	h.poster.SetDispatcher(inline)
	breakCube(h.fx.Store)
	failRevert(h.fx.Store, 1)
	in := simple(memory.FixtureOpenPeriod, "40", "40")
	in.PostImmediately = true

	journal, err := h.service.CreateJournal(context.Background(), in)
	require.NoError(t, err)
	inline.Wait()

	stored, _ := h.fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
	require.Contains(t, h.audit.Actions(), "journal.post.abandoned")
}
