// Package journals builds, validates and posts ledger journals.
package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/access"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/coa"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// SourceManual tags journals keyed in by users.
const SourceManual = "GL_MANUAL"

// LineInput describes one requested journal line. Either AccountID or
// AccountCode identifies the account; a code is resolved and created on
// first valid use. A zero ExchangeRate on a foreign line means the latest
// stored rate for the period.
type LineInput struct {
	AccountID    int64
	AccountCode  string
	Currency     string
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	ExchangeRate decimal.Decimal
	Description  string
}

// CreateJournalInput captures header and lines for a new journal.
type CreateJournalInput struct {
	LedgerID         int64
	Period           string
	Currency         string
	Description      string
	SourceModule     string
	SourceID         uuid.UUID
	UserID           int64
	RequiresApproval bool
	PostImmediately  bool
	Lines            []LineInput
}

// Service creates journals and manages their approval.
type Service struct {
	store    accounting.Store
	resolver *coa.Resolver
	access   access.Checker
	poster   *Poster
	audit    accounting.AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the journal service. poster may be nil when
// immediate posting is not offered.
func NewService(store accounting.Store, resolver *coa.Resolver, poster *Poster, audit accounting.AuditPort, logger *slog.Logger) *Service {
	if resolver == nil {
		resolver = coa.NewResolver()
	}
	return &Service{store: store, resolver: resolver, poster: poster, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateJournal validates and stores a Draft journal. With PostImmediately
// the journal is submitted for posting and returned in Processing state.
func (s *Service) CreateJournal(ctx context.Context, input CreateJournalInput) (accounting.Journal, error) {
	if len(input.Lines) < 2 {
		return accounting.Journal{}, accounting.ErrTooFewLines
	}
	if strings.TrimSpace(input.Period) == "" {
		return accounting.Journal{}, accounting.ErrPeriodNotFound
	}
	var journal accounting.Journal
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		ledger, err := tx.GetLedger(ctx, input.LedgerID)
		if err != nil {
			return err
		}
		header := input.Currency
		if header == "" {
			header = ledger.FunctionalCurrency
		}
		header, err = accounting.NormalizeCurrency(header)
		if err != nil {
			return err
		}

		accounts, err := s.resolveAccounts(ctx, tx, ledger, input.Lines)
		if err != nil {
			return err
		}
		seen := make(map[int64]bool, len(accounts))
		for _, account := range accounts {
			if seen[account.ID] {
				continue
			}
			seen[account.ID] = true
			if err := s.access.Require(ctx, tx, input.UserID, ledger, account); err != nil {
				return err
			}
		}

		period, err := tx.GetPeriod(ctx, ledger.ID, input.Period)
		if err != nil {
			return err
		}
		if period.Status == accounting.PeriodStatusClosed {
			return fmt.Errorf("%w: %s", accounting.ErrPeriodClosed, period.Name)
		}

		lines := make([]accounting.JournalLine, 0, len(input.Lines))
		for i, in := range input.Lines {
			line, err := s.convertLine(ctx, tx, ledger, period.Name, header, accounts[i], in)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			lines = append(lines, line)
		}
		if err := CheckBalanced(ledger.FunctionalCurrency, lines); err != nil {
			return err
		}

		approval := accounting.ApprovalNotRequired
		if input.RequiresApproval {
			approval = accounting.ApprovalPending
		}
		source := input.SourceModule
		if source == "" {
			source = SourceManual
		}
		sourceID := input.SourceID
		if sourceID == uuid.Nil {
			sourceID = uuid.New()
		}
		journal, err = tx.InsertJournal(ctx, accounting.Journal{
			LedgerID:       ledger.ID,
			Period:         period.Name,
			Currency:       header,
			Description:    input.Description,
			Status:         accounting.JournalStatusDraft,
			ApprovalStatus: approval,
			SourceModule:   source,
			SourceID:       sourceID,
			CreatedBy:      input.UserID,
			Lines:          lines,
		})
		return err
	})
	if err != nil {
		return accounting.Journal{}, err
	}
	s.record(ctx, input.UserID, "journal.create", journal.ID, map[string]any{
		"ledger_id":     journal.LedgerID,
		"period":        journal.Period,
		"currency":      journal.Currency,
		"lines":         len(journal.Lines),
		"source_module": journal.SourceModule,
		"source_id":     journal.SourceID.String(),
		"approval":      string(journal.ApprovalStatus),
	})
	if !input.PostImmediately {
		return journal, nil
	}
	if s.poster == nil {
		return journal, errors.New("journals: immediate posting not configured")
	}
	receipt, err := s.poster.Post(ctx, journal.ID, input.UserID)
	if err != nil {
		return journal, err
	}
	journal.Status = receipt.Status
	journal.SubmittedBy = input.UserID
	return journal, nil
}

func (s *Service) resolveAccounts(ctx context.Context, tx accounting.Tx, ledger accounting.Ledger, lines []LineInput) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(lines))
	for i, in := range lines {
		var (
			account accounting.Account
			err     error
		)
		switch {
		case in.AccountID != 0:
			account, err = tx.GetAccount(ctx, in.AccountID)
			if err == nil && account.LedgerID != ledger.ID {
				err = accounting.ErrAccountNotFound
			}
		case strings.TrimSpace(in.AccountCode) != "":
			account, err = s.resolver.Resolve(ctx, tx, ledger.ID, in.AccountCode)
		default:
			err = accounting.ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !account.Enabled {
			return nil, fmt.Errorf("line %d: %w: %s", i+1, accounting.ErrAccountDisabled, account.Code)
		}
		out = append(out, account)
	}
	return out, nil
}

func (s *Service) convertLine(ctx context.Context, tx accounting.Tx, ledger accounting.Ledger, period, header string, account accounting.Account, in LineInput) (accounting.JournalLine, error) {
	if err := checkAmounts(in.Debit, in.Credit); err != nil {
		return accounting.JournalLine{}, err
	}
	currency := header
	if in.Currency != "" {
		c, err := accounting.NormalizeCurrency(in.Currency)
		if err != nil {
			return accounting.JournalLine{}, err
		}
		currency = c
	}
	rate := decimal.NewFromInt(1)
	if currency != ledger.FunctionalCurrency {
		switch {
		case in.ExchangeRate.IsPositive():
			rate = in.ExchangeRate
		case in.ExchangeRate.IsNegative():
			return accounting.JournalLine{}, accounting.ErrInvalidAmount
		default:
			stored, err := tx.LatestExchangeRate(ctx, currency, ledger.FunctionalCurrency, period)
			if err != nil {
				if errors.Is(err, accounting.ErrMissingExchangeRate) {
					return accounting.JournalLine{}, fmt.Errorf("%w: %s/%s %s", err, currency, ledger.FunctionalCurrency, period)
				}
				return accounting.JournalLine{}, err
			}
			rate = stored.Rate
		}
	}
	return accounting.JournalLine{
		AccountID:       account.ID,
		AccountCode:     account.Code,
		Currency:        currency,
		EnteredDebit:    in.Debit,
		EnteredCredit:   in.Credit,
		ExchangeRate:    rate,
		AccountedDebit:  accounting.Round(in.Debit.Mul(rate)),
		AccountedCredit: accounting.Round(in.Credit.Mul(rate)),
		Description:     in.Description,
		Source:          accounting.LineSourceUser,
	}, nil
}

// GetJournal loads a journal with its lines.
func (s *Service) GetJournal(ctx context.Context, journalID int64) (accounting.Journal, error) {
	var journal accounting.Journal
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		journal, err = tx.GetJournal(ctx, journalID)
		return err
	})
	return journal, err
}

// Approve releases a pending journal for posting.
func (s *Service) Approve(ctx context.Context, journalID, userID int64) (accounting.Journal, error) {
	return s.decide(ctx, journalID, userID, accounting.ApprovalApproved, "journal.approve")
}

// Reject blocks a pending journal from posting.
func (s *Service) Reject(ctx context.Context, journalID, userID int64) (accounting.Journal, error) {
	return s.decide(ctx, journalID, userID, accounting.ApprovalRejected, "journal.reject")
}

func (s *Service) decide(ctx context.Context, journalID, userID int64, status accounting.ApprovalStatus, action string) (accounting.Journal, error) {
	var (
		journal accounting.Journal
		before  accounting.ApprovalStatus
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		journal, err = tx.GetJournal(ctx, journalID)
		if err != nil {
			return err
		}
		if journal.Status != accounting.JournalStatusDraft {
			return accounting.ErrInvalidStatus
		}
		if journal.ApprovalStatus != accounting.ApprovalPending && journal.ApprovalStatus != accounting.ApprovalRequired {
			return accounting.ErrInvalidStatus
		}
		before = journal.ApprovalStatus
		if err := tx.UpdateJournalApproval(ctx, journalID, status); err != nil {
			return err
		}
		journal.ApprovalStatus = status
		return nil
	})
	if err != nil {
		return accounting.Journal{}, err
	}
	s.record(ctx, userID, action, journalID, map[string]any{
		"before": string(before),
		"after":  string(status),
	})
	return journal, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, journalID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "gl_journal",
		EntityID: strconv.FormatInt(journalID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.log().Warn("audit record failed", slog.String("action", action), slog.Int64("journal_id", journalID), slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "journal_service"))
	}
	return slog.Default().With(slog.String("component", "journal_service"))
}
