package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/access"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/budget"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/coa"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/intercompany"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// PostRequest is the unit of work handed to a Dispatcher.
type PostRequest struct {
	JournalID int64 `json:"journal_id"`
	ActorID   int64 `json:"actor_id"`
}

// Dispatcher schedules asynchronous processing of a submitted journal.
type Dispatcher interface {
	Dispatch(ctx context.Context, req PostRequest) error
}

// ErrProcessingExpired is the cause recorded when a journal is released
// after sitting in Processing past the recovery threshold.
var ErrProcessingExpired = errors.New("journals: processing expired")

// PostReceipt acknowledges a submission.
type PostReceipt struct {
	JournalID int64                    `json:"journal_id"`
	Status    accounting.JournalStatus `json:"status"`
}

// Observer is notified after a journal posts.
type Observer func(ctx context.Context, journal accounting.Journal)

// PostingError reports a journal that failed validation during processing
// and was returned to Draft. Retrying will not help.
type PostingError struct {
	JournalID int64
	Err       error
}

func (e *PostingError) Error() string {
	return fmt.Sprintf("post journal %d: %v", e.JournalID, e.Err)
}

func (e *PostingError) Unwrap() error { return e.Err }

// Poster drives journals through Draft -> Processing -> Posted.
type Poster struct {
	store      accounting.Store
	cvr        coa.CrossValidator
	access     access.Checker
	funds      *budget.Checker
	ic         *intercompany.Resolver
	cube       *balances.Updater
	dispatcher Dispatcher
	audit      accounting.AuditPort
	logger     *slog.Logger
	now        func() time.Time
	observers  []Observer
}

// NewPoster wires the posting pipeline.
func NewPoster(store accounting.Store, resolver *coa.Resolver, dispatcher Dispatcher, audit accounting.AuditPort, logger *slog.Logger) *Poster {
	return &Poster{
		store:      store,
		funds:      budget.NewChecker(logger),
		ic:         intercompany.NewResolver(resolver),
		cube:       balances.NewUpdater(),
		dispatcher: dispatcher,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// SetDispatcher replaces the dispatcher. Inline dispatchers need the
// poster before they exist, so wiring happens after construction.
func (p *Poster) SetDispatcher(d Dispatcher) {
	p.dispatcher = d
}

// WithNow overrides the clock for testing.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Observe registers fn to run after each successful posting.
func (p *Poster) Observe(fn Observer) {
	if fn != nil {
		p.observers = append(p.observers, fn)
	}
}

// Post claims a Draft journal and schedules it for processing. The returned
// receipt always reports Processing; the final outcome is observable on the
// journal itself.
func (p *Poster) Post(ctx context.Context, journalID, userID int64) (PostReceipt, error) {
	if p.dispatcher == nil {
		return PostReceipt{}, errors.New("journals: posting dispatcher not configured")
	}
	err := p.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		journal, err := tx.GetJournal(ctx, journalID)
		if err != nil {
			return err
		}
		switch journal.Status {
		case accounting.JournalStatusPosted:
			return accounting.ErrJournalPosted
		case accounting.JournalStatusProcessing:
			return accounting.ErrJournalProcessing
		}
		if err := checkApproval(journal); err != nil {
			return err
		}
		err = tx.TransitionJournalStatus(ctx, journalID, accounting.JournalStatusDraft, accounting.JournalStatusProcessing, userID)
		if errors.Is(err, accounting.ErrInvalidStatus) {
			return accounting.ErrJournalProcessing
		}
		return err
	})
	if err != nil {
		return PostReceipt{}, err
	}

	if err := p.dispatcher.Dispatch(ctx, PostRequest{JournalID: journalID, ActorID: userID}); err != nil {
		if revertErr := p.revert(context.WithoutCancel(ctx), journalID, userID); revertErr != nil {
			p.log().Error("revert after dispatch failure", slog.Int64("journal_id", journalID), slog.Any("error", revertErr))
		}
		return PostReceipt{}, fmt.Errorf("dispatch journal %d: %w", journalID, err)
	}
	p.record(ctx, userID, "journal.post.submit", journalID, nil)
	return PostReceipt{JournalID: journalID, Status: accounting.JournalStatusProcessing}, nil
}

// Process validates and posts a Processing journal in one transaction.
// Journals in any other state are skipped so redelivered work is harmless.
// A validation failure reverts the journal to Draft and returns
// *PostingError.
func (p *Poster) Process(ctx context.Context, journalID int64) error {
	var (
		posted  accounting.Journal
		skipped bool
		actor   int64
	)
	err := p.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		journal, err := tx.GetJournal(ctx, journalID)
		if err != nil {
			return err
		}
		if journal.Status != accounting.JournalStatusProcessing {
			skipped = true
			return nil
		}
		actor = journal.SubmittedBy
		posted, err = p.post(ctx, tx, journal)
		return err
	})
	if skipped {
		p.log().Info("journal not processing, skipped", slog.Int64("journal_id", journalID))
		return nil
	}
	if err != nil {
		if errors.Is(err, accounting.ErrJournalNotFound) {
			return &PostingError{JournalID: journalID, Err: err}
		}
		return p.fail(ctx, journalID, actor, err)
	}

	p.log().Info("journal posted",
		slog.Int64("journal_id", posted.ID),
		slog.Int64("ledger_id", posted.LedgerID),
		slog.String("period", posted.Period),
		slog.Int("lines", len(posted.Lines)),
	)
	p.record(ctx, posted.SubmittedBy, "journal.post", posted.ID, map[string]any{
		"ledger_id": posted.LedgerID,
		"period":    posted.Period,
		"lines":     len(posted.Lines),
	})
	for _, fn := range p.observers {
		fn(ctx, posted)
	}
	return nil
}

func (p *Poster) post(ctx context.Context, tx accounting.Tx, journal accounting.Journal) (accounting.Journal, error) {
	ledger, err := tx.GetLedger(ctx, journal.LedgerID)
	if err != nil {
		return accounting.Journal{}, err
	}
	period, err := tx.GetPeriod(ctx, ledger.ID, journal.Period)
	if err != nil {
		return accounting.Journal{}, err
	}
	if period.Status != accounting.PeriodStatusOpen {
		return accounting.Journal{}, fmt.Errorf("%w: %s is %s", accounting.ErrPeriodClosed, period.Name, period.Status)
	}
	if err := checkApproval(journal); err != nil {
		return accounting.Journal{}, err
	}

	accounts := make(map[int64]accounting.Account)
	for _, line := range journal.Lines {
		if _, ok := accounts[line.AccountID]; ok {
			continue
		}
		account, err := tx.GetAccount(ctx, line.AccountID)
		if err != nil {
			return accounting.Journal{}, err
		}
		if !account.Enabled {
			return accounting.Journal{}, fmt.Errorf("%w: %s", accounting.ErrAccountDisabled, account.Code)
		}
		if err := p.cvr.Check(ctx, tx, ledger, account.Segments); err != nil {
			return accounting.Journal{}, err
		}
		if err := p.access.Require(ctx, tx, journal.SubmittedBy, ledger, account); err != nil {
			return accounting.Journal{}, err
		}
		accounts[account.ID] = account
	}
	if err := CheckBalanced(ledger.FunctionalCurrency, journal.Lines); err != nil {
		return accounting.Journal{}, err
	}

	reservations, err := p.funds.Check(ctx, tx, ledger, journal, accounts)
	if err != nil {
		return accounting.Journal{}, err
	}

	generated, err := p.ic.Balance(ctx, tx, ledger, journal, accounts)
	if err != nil {
		return accounting.Journal{}, err
	}
	if len(generated) > 0 {
		inserted, err := tx.InsertJournalLines(ctx, journal.ID, generated)
		if err != nil {
			return accounting.Journal{}, err
		}
		journal.Lines = append(journal.Lines, inserted...)
	}

	if _, err := p.cube.Apply(ctx, tx, ledger, journal); err != nil {
		return accounting.Journal{}, err
	}
	if err := p.funds.Consume(ctx, tx, reservations); err != nil {
		return accounting.Journal{}, err
	}
	postedAt := p.now()
	if err := tx.MarkJournalPosted(ctx, journal.ID, postedAt); err != nil {
		return accounting.Journal{}, err
	}
	journal.Status = accounting.JournalStatusPosted
	journal.PostedAt = &postedAt
	return journal, nil
}

// fail returns the journal to Draft. Infrastructure errors during the
// revert are returned as-is so the caller retries; Release and RecoverStale
// resolve journals whose retries run out.
func (p *Poster) fail(ctx context.Context, journalID, actorID int64, cause error) error {
	code := accounting.ErrorCode(cause)
	p.log().Warn("journal posting failed",
		slog.Int64("journal_id", journalID),
		slog.String("code", code),
		slog.Any("error", cause),
	)
	// A worker shutting down still owes the journal its revert.
	if err := p.revert(context.WithoutCancel(ctx), journalID, actorID); err != nil {
		return fmt.Errorf("revert journal %d: %w", journalID, err)
	}
	p.record(ctx, actorID, "journal.post.failed", journalID, map[string]any{
		"code":  code,
		"error": cause.Error(),
	})
	return &PostingError{JournalID: journalID, Err: cause}
}

// Release returns a journal abandoned in Processing to Draft so it can be
// posted again. Journals that already left Processing are left alone.
func (p *Poster) Release(ctx context.Context, journalID int64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var actor int64
	err := p.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		journal, err := tx.GetJournal(ctx, journalID)
		if err != nil {
			return err
		}
		if journal.Status != accounting.JournalStatusProcessing {
			return accounting.ErrInvalidStatus
		}
		actor = journal.SubmittedBy
		return tx.TransitionJournalStatus(ctx, journalID, accounting.JournalStatusProcessing, accounting.JournalStatusDraft, actor)
	})
	switch {
	case errors.Is(err, accounting.ErrInvalidStatus), errors.Is(err, accounting.ErrJournalNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("release journal %d: %w", journalID, err)
	}
	meta := map[string]any{}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	p.log().Warn("journal released to draft", slog.Int64("journal_id", journalID), slog.Any("cause", cause))
	p.record(ctx, actor, "journal.post.abandoned", journalID, meta)
	return nil
}

// RecoverStale releases journals left in Processing for longer than
// olderThan, at most limit per call, and returns how many were released.
func (p *Poster) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, errors.New("journals: stale threshold must be positive")
	}
	var ids []int64
	err := p.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		ids, err = tx.ListStaleJournals(ctx, accounting.JournalStatusProcessing, p.now().Add(-olderThan), limit)
		return err
	})
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		if err := p.Release(ctx, id, ErrProcessingExpired); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

func (p *Poster) revert(ctx context.Context, journalID, actorID int64) error {
	err := p.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		return tx.TransitionJournalStatus(ctx, journalID, accounting.JournalStatusProcessing, accounting.JournalStatusDraft, actorID)
	})
	if errors.Is(err, accounting.ErrInvalidStatus) {
		return nil
	}
	return err
}

func checkApproval(journal accounting.Journal) error {
	switch journal.ApprovalStatus {
	case accounting.ApprovalRequired, accounting.ApprovalPending:
		return accounting.ErrApprovalRequired
	case accounting.ApprovalRejected:
		return accounting.ErrApprovalRejected
	}
	return nil
}

func (p *Poster) record(ctx context.Context, actorID int64, action string, journalID int64, meta map[string]any) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "gl_journal",
		EntityID: strconv.FormatInt(journalID, 10),
		Meta:     meta,
		At:       p.now(),
	}); err != nil {
		p.log().Warn("audit record failed", slog.String("action", action), slog.Int64("journal_id", journalID), slog.Any("error", err))
	}
}

func (p *Poster) log() *slog.Logger {
	if p != nil && p.logger != nil {
		return p.logger.With(slog.String("component", "journal_poster"))
	}
	return slog.Default().With(slog.String("component", "journal_poster"))
}
