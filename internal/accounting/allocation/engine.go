// Package allocation redistributes pooled balances across driver buckets.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/segments"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// SourceModule tags allocation journals.
const SourceModule = "GL_ALLOCATION"

// Locker serialises batch runs.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// JournalCreator submits generated journals.
type JournalCreator interface {
	CreateJournal(ctx context.Context, input journals.CreateJournalInput) (accounting.Journal, error)
}

// Bucket is one driver value's share of the pool.
type Bucket struct {
	Driver  string          `json:"driver"`
	Basis   decimal.Decimal `json:"basis"`
	Amount  decimal.Decimal `json:"amount"`
	Account string          `json:"account"`
}

// Result summarises an allocation run. JournalID is zero when the pool
// was empty.
type Result struct {
	JournalID      int64           `json:"journal_id"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Pool           decimal.Decimal `json:"pool"`
	Buckets        []Bucket        `json:"buckets"`
}

// Engine runs mass allocations.
type Engine struct {
	store    accounting.Store
	journals JournalCreator
	locker   Locker
	audit    accounting.AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs an allocation engine. locker may be nil.
func NewEngine(store accounting.Store, creator JournalCreator, locker Locker, audit accounting.AuditPort, logger *slog.Logger) *Engine {
	return &Engine{store: store, journals: creator, locker: locker, audit: audit, logger: logger, now: time.Now}
}

// Run allocates the pool of rule allocationID for period and submits the
// resulting journal.
func (e *Engine) Run(ctx context.Context, allocationID int64, period string) (Result, error) {
	var (
		rule   accounting.AllocationRule
		ledger accounting.Ledger
		rows   []accounting.BalanceRow
	)
	err := e.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		rule, err = tx.GetAllocationRule(ctx, allocationID)
		if err != nil {
			return err
		}
		ledger, err = tx.GetLedger(ctx, rule.LedgerID)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	release, err := e.acquire(ctx, shared.BatchLockKey("alloc:"+strconv.FormatInt(rule.ID, 10), ledger.ID, period))
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.log().Warn("release allocation lock", slog.Any("error", err))
		}
	}()

	err = e.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		rows, err = tx.ListBalances(ctx, accounting.BalanceFilter{LedgerID: ledger.ID, Period: period, Currency: ledger.FunctionalCurrency})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	result, err := Compute(ledger.Structure, rule, rows)
	if err != nil {
		return Result{}, err
	}
	if len(result.Buckets) == 0 {
		e.log().Info("allocation pool empty", slog.Int64("rule_id", rule.ID), slog.String("period", period))
		return result, nil
	}

	lines := make([]journals.LineInput, 0, len(result.Buckets)+1)
	for _, b := range result.Buckets {
		debit, credit := accounting.SplitSigned(b.Amount)
		lines = append(lines, journals.LineInput{
			AccountCode: b.Account,
			Debit:       debit,
			Credit:      credit,
			Description: fmt.Sprintf("%s: %s", rule.Name, b.Driver),
		})
	}
	debit, credit := accounting.SplitSigned(result.Pool.Neg())
	lines = append(lines, journals.LineInput{
		AccountCode: rule.OffsetAccount,
		Debit:       debit,
		Credit:      credit,
		Description: rule.Name + " offset",
	})

	journal, err := e.journals.CreateJournal(ctx, journals.CreateJournalInput{
		LedgerID:        ledger.ID,
		Period:          period,
		Currency:        ledger.FunctionalCurrency,
		Description:     fmt.Sprintf("Allocation %s %s", rule.Name, period),
		SourceModule:    SourceModule,
		UserID:          accounting.SystemUserID,
		PostImmediately: true,
		Lines:           lines,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit allocation journal: %w", err)
	}
	result.JournalID = journal.ID

	e.log().Info("allocation submitted",
		slog.Int64("journal_id", journal.ID),
		slog.Int64("rule_id", rule.ID),
		slog.Int("buckets", len(result.Buckets)),
		slog.String("total_allocated", result.TotalAllocated.StringFixed(accounting.AmountScale)),
	)
	e.record(ctx, "allocation.run", journal.ID, map[string]any{
		"rule_id":         rule.ID,
		"ledger_id":       ledger.ID,
		"period":          period,
		"pool":            result.Pool.StringFixed(accounting.AmountScale),
		"total_allocated": result.TotalAllocated.StringFixed(accounting.AmountScale),
	})
	return result, nil
}

// Compute splits the pool across basis buckets without touching storage.
// Buckets are ordered by driver value and the last bucket absorbs the
// rounding remainder so the amounts always sum to the pool.
func Compute(structure accounting.COAStructure, rule accounting.AllocationRule, rows []accounting.BalanceRow) (Result, error) {
	driver := structure.IndexOf(rule.DriverSegment)
	if driver < 0 {
		return Result{}, &accounting.InvalidSegmentError{Segment: rule.DriverSegment, Reason: "driver segment not in structure"}
	}
	pool := decimal.Zero
	basis := make(map[string]decimal.Decimal)
	for _, row := range rows {
		values := structure.Split(row.AccountCode)
		if segments.MatchAccount(structure, values, rule.PoolFilter) {
			pool = pool.Add(row.PeriodNet())
		}
		if segments.MatchAccount(structure, values, rule.BasisFilter) && driver < len(values) {
			key := values[driver]
			basis[key] = basis[key].Add(row.PeriodNet())
		}
	}
	pool = accounting.Round(pool)
	result := Result{Pool: pool, TotalAllocated: decimal.Zero}
	if pool.IsZero() {
		return result, nil
	}
	total := decimal.Zero
	keys := make([]string, 0, len(basis))
	for k, v := range basis {
		total = total.Add(v)
		keys = append(keys, k)
	}
	if total.IsZero() {
		return Result{}, fmt.Errorf("%w: rule %d", accounting.ErrZeroBasis, rule.ID)
	}
	sort.Strings(keys)

	allocated := decimal.Zero
	for _, k := range keys {
		amount := accounting.Round(pool.Mul(basis[k]).Div(total))
		allocated = allocated.Add(amount)
		result.Buckets = append(result.Buckets, Bucket{
			Driver:  k,
			Basis:   basis[k],
			Amount:  amount,
			Account: targetAccount(rule, k),
		})
	}
	remainder := pool.Sub(allocated)
	for i := len(result.Buckets) - 1; i >= 0 && !remainder.IsZero(); i-- {
		if !result.Buckets[i].Amount.IsZero() {
			result.Buckets[i].Amount = result.Buckets[i].Amount.Add(remainder)
			remainder = decimal.Zero
		}
	}
	kept := result.Buckets[:0]
	for _, b := range result.Buckets {
		if b.Amount.Abs().LessThan(accounting.Epsilon) {
			continue
		}
		result.TotalAllocated = result.TotalAllocated.Add(b.Amount)
		kept = append(kept, b)
	}
	result.Buckets = kept
	return result, nil
}

func targetAccount(rule accounting.AllocationRule, driver string) string {
	return strings.NewReplacer(
		"{driver}", driver,
		"{"+rule.DriverSegment+"}", driver,
	).Replace(rule.TargetPattern)
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
		return e.logger.With(slog.String("component", "allocation"))
	}
	return slog.Default().With(slog.String("component", "allocation"))
}
