// Package reval revalues foreign-currency balances at period-end rates.
package reval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// SourceModule tags revaluation journals.
const SourceModule = "GL_REVALUATION"

// Locker serialises batch runs.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// JournalCreator submits generated journals.
type JournalCreator interface {
	CreateJournal(ctx context.Context, input journals.CreateJournalInput) (accounting.Journal, error)
}

// RunInput selects the balances to revalue.
type RunInput struct {
	LedgerID      int64  `json:"ledger_id" validate:"required"`
	Period        string `json:"period" validate:"required"`
	Currency      string `json:"currency" validate:"required,len=3"`
	OffsetAccount string `json:"offset_account" validate:"required"`
}

// Variance is the adjustment computed for one account.
type Variance struct {
	AccountID      int64           `json:"account_id"`
	AccountCode    string          `json:"account_code"`
	ForeignBalance decimal.Decimal `json:"foreign_balance"`
	Rate           decimal.Decimal `json:"rate"`
	Target         decimal.Decimal `json:"target"`
	Booked         decimal.Decimal `json:"booked"`
	Amount         decimal.Decimal `json:"amount"`
}

// Result summarises a revaluation run. JournalID is zero when nothing
// needed adjusting.
type Result struct {
	JournalID     int64           `json:"journal_id"`
	TotalVariance decimal.Decimal `json:"total_variance"`
	Variances     []Variance      `json:"variances"`
}

// Engine computes unrealized gains and losses.
type Engine struct {
	store    accounting.Store
	journals JournalCreator
	locker   Locker
	audit    accounting.AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs a revaluation engine. locker may be nil.
func NewEngine(store accounting.Store, creator JournalCreator, locker Locker, audit accounting.AuditPort, logger *slog.Logger) *Engine {
	return &Engine{store: store, journals: creator, locker: locker, audit: audit, logger: logger, now: time.Now}
}

// Run revalues every foreign balance of input.Currency and submits one
// journal for the combined variance.
func (e *Engine) Run(ctx context.Context, input RunInput) (Result, error) {
	currency, err := accounting.NormalizeCurrency(input.Currency)
	if err != nil {
		return Result{}, err
	}
	release, err := e.acquire(ctx, shared.BatchLockKey("reval:"+currency, input.LedgerID, input.Period))
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.log().Warn("release revaluation lock", slog.Any("error", err))
		}
	}()

	var (
		ledger    accounting.Ledger
		variances []Variance
	)
	err = e.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		ledger, err = tx.GetLedger(ctx, input.LedgerID)
		if err != nil {
			return err
		}
		if currency == ledger.FunctionalCurrency {
			return fmt.Errorf("%w: %s is the functional currency", accounting.ErrInvalidCurrency, currency)
		}
		variances, err = e.variances(ctx, tx, ledger, input.Period, currency)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{TotalVariance: decimal.Zero, Variances: variances}
	if len(variances) == 0 {
		e.log().Info("no revaluation variance", slog.Int64("ledger_id", ledger.ID), slog.String("period", input.Period), slog.String("currency", currency))
		return result, nil
	}
	lines := make([]journals.LineInput, 0, len(variances)+1)
	for _, v := range variances {
		result.TotalVariance = result.TotalVariance.Add(v.Amount)
		debit, credit := accounting.SplitSigned(v.Amount)
		lines = append(lines, journals.LineInput{
			AccountID:   v.AccountID,
			Debit:       debit,
			Credit:      credit,
			Description: fmt.Sprintf("Revaluation %s @ %s", currency, v.Rate.String()),
		})
	}
	// The offset always mirrors the summed variances, however small.
	if !result.TotalVariance.IsZero() {
		debit, credit := accounting.SplitSigned(result.TotalVariance.Neg())
		lines = append(lines, journals.LineInput{
			AccountCode: input.OffsetAccount,
			Debit:       debit,
			Credit:      credit,
			Description: "Unrealized gain/loss " + currency,
		})
	}

	journal, err := e.journals.CreateJournal(ctx, journals.CreateJournalInput{
		LedgerID:        ledger.ID,
		Period:          input.Period,
		Currency:        ledger.FunctionalCurrency,
		Description:     fmt.Sprintf("Revaluation %s %s", currency, input.Period),
		SourceModule:    SourceModule,
		UserID:          accounting.SystemUserID,
		PostImmediately: true,
		Lines:           lines,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit revaluation journal: %w", err)
	}
	result.JournalID = journal.ID

	e.log().Info("revaluation submitted",
		slog.Int64("journal_id", journal.ID),
		slog.String("currency", currency),
		slog.Int("accounts", len(variances)),
		slog.String("total_variance", result.TotalVariance.StringFixed(accounting.AmountScale)),
	)
	e.record(ctx, "reval.run", journal.ID, map[string]any{
		"ledger_id":      ledger.ID,
		"period":         input.Period,
		"currency":       currency,
		"offset_account": input.OffsetAccount,
		"total_variance": result.TotalVariance.StringFixed(accounting.AmountScale),
	})
	return result, nil
}

func (e *Engine) variances(ctx context.Context, tx accounting.Tx, ledger accounting.Ledger, period, currency string) ([]Variance, error) {
	rows, err := tx.ListBalances(ctx, accounting.BalanceFilter{LedgerID: ledger.ID, Period: period, Currency: currency})
	if err != nil {
		return nil, err
	}
	var (
		rate    decimal.Decimal
		hasRate bool
		out     []Variance
	)
	for _, row := range rows {
		if row.EndBalance.IsZero() {
			continue
		}
		if !hasRate {
			r, err := tx.LatestExchangeRate(ctx, currency, ledger.FunctionalCurrency, period)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s %s", err, currency, ledger.FunctionalCurrency, period)
			}
			rate, hasRate = r.Rate, true
		}
		booked := decimal.Zero
		functional, err := tx.GetBalance(ctx, ledger.ID, row.AccountID, period, ledger.FunctionalCurrency)
		switch {
		case err == nil:
			booked = functional.EndBalance
		case !errors.Is(err, accounting.ErrBalanceNotFound):
			return nil, err
		}
		target := accounting.Round(row.EndBalance.Mul(rate))
		amount := target.Sub(booked)
		if accounting.IsNegligible(amount) {
			continue
		}
		out = append(out, Variance{
			AccountID:      row.AccountID,
			AccountCode:    row.AccountCode,
			ForeignBalance: row.EndBalance,
			Rate:           rate,
			Target:         target,
			Booked:         booked,
			Amount:         amount,
		})
	}
	return out, nil
}

func (e *Engine) acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if e.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	release, err := e.locker.Acquire(ctx, key)
	if errors.Is(err, shared.ErrLockHeld) {
		return nil, accounting.ErrBatchInProgress
	}
	return release, err
}

func (e *Engine) record(ctx context.Context, action string, journalID int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, shared.AuditLog{
		ActorID:  accounting.SystemUserID,
		Action:   action,
		Entity:   "gl_journal",
		EntityID: strconv.FormatInt(journalID, 10),
		Meta:     meta,
		At:       e.now(),
	}); err != nil {
		e.log().Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "revaluation"))
	}
	return slog.Default().With(slog.String("component", "revaluation"))
}
