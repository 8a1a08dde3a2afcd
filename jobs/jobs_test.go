package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/allocation"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: QueuePosting}, nil
}

type processorFunc func(ctx context.Context, journalID int64) error

func (f processorFunc) Process(ctx context.Context, journalID int64) error { return f(ctx, journalID) }

func TestPostingDispatcherEnqueuesTask(t *testing.T) {
	q := &recordingEnqueuer{}
	d := NewPostingDispatcher(q, nil)

	require.NoError(t, d.Dispatch(context.Background(), journals.PostRequest{JournalID: 42, ActorID: 7}))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TaskJournalPost, q.tasks[0].Type())
	var req journals.PostRequest
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &req))
	require.Equal(t, journals.PostRequest{JournalID: 42, ActorID: 7}, req)

	q.err = errors.New("redis down")
	require.ErrorContains(t, d.Dispatch(context.Background(), journals.PostRequest{JournalID: 43}), "enqueue journal 43")
}

func TestJournalPostJobOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	task, err := NewJournalPostTask(journals.PostRequest{JournalID: 5, ActorID: 7})
	require.NoError(t, err)

	ok := NewJournalPostJob(processorFunc(func(context.Context, int64) error { return nil }), nil, metrics)
	require.NoError(t, ok.Handle(context.Background(), task))

	rejected := NewJournalPostJob(processorFunc(func(_ context.Context, id int64) error {
		return &journals.PostingError{JournalID: id, Err: accounting.ErrInsufficientFunds}
	}), nil, metrics)
	err = rejected.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	transient := NewJournalPostJob(processorFunc(func(context.Context, int64) error {
		return errors.New("connection reset")
	}), nil, metrics)
	err = transient.Handle(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	bad := asynq.NewTask(TaskJournalPost, []byte("{"))
	require.ErrorIs(t, ok.Handle(context.Background(), bad), asynq.SkipRetry)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "odyssey_gl_postings_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			counts[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, map[string]float64{
		jobmetrics.OutcomePosted:   1,
		jobmetrics.OutcomeRejected: 1,
		jobmetrics.OutcomeRetry:    1,
	}, counts)
}

func TestIntegrityJob(t *testing.T) {
	fx := memory.NewFixture()
	cash := fx.Account("01-000-1000")
	revenue := fx.Account("01-000-4000")
	fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: fx.Ledger.ID, AccountID: cash.ID, Period: memory.FixtureOpenPeriod, Currency: "USD",
		PeriodNetDebit: decimal.NewFromInt(100), PeriodNetCredit: decimal.Zero,
		BeginBalance: decimal.Zero, EndBalance: decimal.NewFromInt(100),
	})
	fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: fx.Ledger.ID, AccountID: revenue.ID, Period: memory.FixtureOpenPeriod, Currency: "USD",
		PeriodNetDebit: decimal.Zero, PeriodNetCredit: decimal.NewFromInt(100),
		BeginBalance: decimal.Zero, EndBalance: decimal.NewFromInt(-100),
	})
	reg := prometheus.NewRegistry()
	job := NewIntegrityJob(fx.Store, nil, jobmetrics.NewMetrics(reg))

	task, err := NewIntegrityTask(fx.Ledger.ID, memory.FixtureOpenPeriod)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	fx.Store.SetBalance(accounting.BalanceRow{
		LedgerID: fx.Ledger.ID, AccountID: revenue.ID, Period: memory.FixtureOpenPeriod, Currency: "USD",
		PeriodNetDebit: decimal.Zero, PeriodNetCredit: decimal.NewFromInt(90),
		BeginBalance: decimal.Zero, EndBalance: decimal.NewFromInt(-100),
	})
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrIntegrityViolation)
	require.ErrorIs(t, err, asynq.SkipRetry)

	_, err = job.Run(context.Background(), fx.Ledger.ID, "1999-01")
	require.ErrorIs(t, err, accounting.ErrPeriodNotFound)
}

func TestIntegrityJobScheduledUsesCurrentMonth(t *testing.T) {
	fx := memory.NewFixture()
	job := NewIntegrityJob(fx.Store, nil, nil)
	task, err := NewIntegrityTask(fx.Ledger.ID, "")
	require.NoError(t, err)

	job.Now = func() time.Time { return time.Date(1999, 1, 15, 0, 0, 0, 0, time.UTC) }
	require.ErrorIs(t, job.Handle(context.Background(), task), accounting.ErrPeriodNotFound)

	open, err := time.Parse("2006-01", memory.FixtureOpenPeriod)
	require.NoError(t, err)
	job.Now = func() time.Time { return open.Add(48 * time.Hour) }
	require.NoError(t, job.Handle(context.Background(), task))
}

type stubAllocator struct{ err error }

func (s stubAllocator) Run(ctx context.Context, allocationID int64, period string) (allocation.Result, error) {
	return allocation.Result{JournalID: 9}, s.err
}

type stubRevaluer struct{ err error }

func (s stubRevaluer) Run(ctx context.Context, input reval.RunInput) (reval.Result, error) {
	return reval.Result{}, s.err
}

func TestBatchJobRetryPolicy(t *testing.T) {
	task, err := NewAllocationTask(1, memory.FixtureOpenPeriod)
	require.NoError(t, err)

	require.NoError(t, NewBatchJob(nil, stubAllocator{}, nil, nil).HandleAllocation(context.Background(), task))

	err = NewBatchJob(nil, stubAllocator{err: accounting.ErrBatchInProgress}, nil, nil).HandleAllocation(context.Background(), task)
	require.ErrorIs(t, err, accounting.ErrBatchInProgress)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	err = NewBatchJob(nil, stubAllocator{err: accounting.ErrZeroBasis}, nil, nil).HandleAllocation(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	revalTask, err := NewRevaluationTask(reval.RunInput{LedgerID: 1, Period: memory.FixtureOpenPeriod, Currency: "EUR", OffsetAccount: "01-000-7900"})
	require.NoError(t, err)
	err = NewBatchJob(stubRevaluer{err: accounting.ErrLedgerNotFound}, nil, nil, nil).HandleRevaluation(context.Background(), revalTask)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"queue":"gl_posting","pending":0,"retry":0,"archived":0},{"queue":"default","pending":0,"retry":0,"archived":0}]`, rec.Body.String())
}

type releaser struct {
	released []int64
	stale    int
	err      error
}

func (r *releaser) Release(ctx context.Context, journalID int64, cause error) error {
	if r.err != nil {
		return r.err
	}
	r.released = append(r.released, journalID)
	return nil
}

func (r *releaser) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	return r.stale, r.err
}

func TestReleaseExhaustedOnlyOnFinalAttempt(t *testing.T) {
	task, err := NewJournalPostTask(journals.PostRequest{JournalID: 12, ActorID: 7})
	require.NoError(t, err)
	cause := errors.New("connection reset")
	r := &releaser{}

	released, err := releaseExhausted(context.Background(), r, task, cause, 2, 5)
	require.NoError(t, err)
	require.False(t, released)

	released, err = releaseExhausted(context.Background(), r, task, fmt.Errorf("%w: rejected", asynq.SkipRetry), 5, 5)
	require.NoError(t, err)
	require.False(t, released)

	integrity, err := NewIntegrityTask(1, memory.FixtureOpenPeriod)
	require.NoError(t, err)
	released, err = releaseExhausted(context.Background(), r, integrity, cause, 5, 5)
	require.NoError(t, err)
	require.False(t, released)
	require.Empty(t, r.released)

	released, err = releaseExhausted(context.Background(), r, task, cause, 5, 5)
	require.NoError(t, err)
	require.True(t, released)
	require.Equal(t, []int64{12}, r.released)

	r.err = errors.New("db down")
	_, err = releaseExhausted(context.Background(), r, task, cause, 5, 5)
	require.ErrorContains(t, err, "db down")
}

func TestReleaseExhaustedResolvesStuckJournal(t *testing.T) {
	fx := memory.NewFixture()
	poster := journals.NewPoster(fx.Store, nil, processorDispatcher{}, nil, nil)
	service := journals.NewService(fx.Store, nil, poster, nil, nil)
	in := journals.CreateJournalInput{
		LedgerID: fx.Ledger.ID,
		Period:   memory.FixtureOpenPeriod,
		UserID:   7,
		Lines: []journals.LineInput{
			{AccountCode: "01-100-5000", Debit: decimal.NewFromInt(5), Credit: decimal.Zero},
			{AccountCode: "01-000-1000", Debit: decimal.Zero, Credit: decimal.NewFromInt(5)},
		},
		PostImmediately: true,
	}
	journal, err := service.CreateJournal(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, accounting.JournalStatusProcessing, journal.Status)

	task, err := NewJournalPostTask(journals.PostRequest{JournalID: journal.ID, ActorID: 7})
	require.NoError(t, err)
	released, err := releaseExhausted(context.Background(), poster, task, errors.New("timeout"), 5, 5)
	require.NoError(t, err)
	require.True(t, released)
	stored, _ := fx.Store.Journal(journal.ID)
	require.Equal(t, accounting.JournalStatusDraft, stored.Status)
}

type processorDispatcher struct{}

func (processorDispatcher) Dispatch(context.Context, journals.PostRequest) error { return nil }

func TestRecoveryJobCountsReleased(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewRecoveryJob(&releaser{stale: 2}, 15*time.Minute, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewRecoveryTask()))
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var abandoned float64
	for _, mf := range mfs {
		if mf.GetName() != "odyssey_gl_postings_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == jobmetrics.OutcomeAbandoned {
				abandoned = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), abandoned)

	failing := NewRecoveryJob(&releaser{err: errors.New("db down")}, time.Minute, nil, nil)
	require.ErrorContains(t, failing.Handle(context.Background(), NewRecoveryTask()), "db down")
}
