package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

// ErrIntegrityViolation indicates the balances cube failed verification.
var ErrIntegrityViolation = errors.New("gl integrity: balances cube inconsistent")

// IntegrityJob verifies the balances cube of one ledger period.
type IntegrityJob struct {
	Store   accounting.Store
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Now     func() time.Time
}

// NewIntegrityJob constructs the integrity job handler.
func NewIntegrityJob(store accounting.Store, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{Store: store, Logger: logger, Metrics: metrics, Now: time.Now}
}

// Run checks ledgerID and period and returns the violations found.
func (j *IntegrityJob) Run(ctx context.Context, ledgerID int64, period string) ([]balances.Violation, error) {
	if j == nil || j.Store == nil {
		return nil, errors.New("gl integrity: store not configured")
	}
	var (
		ledger accounting.Ledger
		rows   []accounting.BalanceRow
	)
	err := j.Store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		if ledger, err = tx.GetLedger(ctx, ledgerID); err != nil {
			return err
		}
		if _, err = tx.GetPeriod(ctx, ledgerID, period); err != nil {
			return err
		}
		rows, err = tx.ListBalances(ctx, accounting.BalanceFilter{LedgerID: ledgerID, Period: period})
		return err
	})
	if err != nil {
		return nil, err
	}
	violations := balances.Verify(ledger, rows)
	j.Metrics.AddViolations(ledgerID, period, len(violations))
	for _, v := range violations {
		j.log().Warn("balance integrity violation",
			slog.Int64("ledger_id", ledgerID),
			slog.String("period", period),
			slog.String("violation", v.String()))
	}
	j.log().Info("GL integrity check executed",
		slog.Int64("ledger_id", ledgerID),
		slog.String("period", period),
		slog.Int("rows", len(rows)),
		slog.Int("violations", len(violations)))
	return violations, nil
}

// Handle processes TaskIntegrityCheck tasks. A failed check is not retried.
func (j *IntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload IntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.LedgerID <= 0 {
		return asynq.SkipRetry
	}
	if payload.Period == "" {
		// Scheduled checks carry no period and verify the current month.
		payload.Period = j.now().UTC().Format("2006-01")
	}
	tracker := j.Metrics.Track(TaskIntegrityCheck)
	violations, err := j.Run(ctx, payload.LedgerID, payload.Period)
	if err != nil {
		return tracker.End(err)
	}
	if len(violations) > 0 {
		return tracker.End(fmt.Errorf("%w: %d violations: %w", ErrIntegrityViolation, len(violations), asynq.SkipRetry))
	}
	return tracker.End(nil)
}

func (j *IntegrityJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *IntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", "gl_integrity"))
	}
	return slog.Default().With(slog.String("job", "gl_integrity"))
}
