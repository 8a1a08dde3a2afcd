package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/allocation"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

// Revaluer runs a foreign currency revaluation.
type Revaluer interface {
	Run(ctx context.Context, input reval.RunInput) (reval.Result, error)
}

// Allocator runs a mass allocation.
type Allocator interface {
	Run(ctx context.Context, allocationID int64, period string) (allocation.Result, error)
}

// BatchJob runs period-end revaluations and allocations off the queue.
type BatchJob struct {
	Revaluer  Revaluer
	Allocator Allocator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewBatchJob constructs the batch handlers.
func NewBatchJob(revaluer Revaluer, allocator Allocator, logger *slog.Logger, metrics *jobmetrics.Metrics) *BatchJob {
	return &BatchJob{Revaluer: revaluer, Allocator: allocator, Logger: logger, Metrics: metrics}
}

// HandleRevaluation processes TaskRevaluation tasks.
func (j *BatchJob) HandleRevaluation(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Revaluer == nil {
		return errors.New("revaluation: engine not configured")
	}
	var input reval.RunInput
	if err := json.Unmarshal(task.Payload(), &input); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskRevaluation)
	result, err := j.Revaluer.Run(ctx, input)
	if err != nil {
		return tracker.End(batchError(err))
	}
	j.log().Info("revaluation completed",
		slog.Int64("ledger_id", input.LedgerID),
		slog.String("period", input.Period),
		slog.String("currency", input.Currency),
		slog.Int64("journal_id", result.JournalID),
		slog.Int("variances", len(result.Variances)))
	return tracker.End(nil)
}

// HandleAllocation processes TaskAllocation tasks.
func (j *BatchJob) HandleAllocation(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Allocator == nil {
		return errors.New("allocation: engine not configured")
	}
	var payload AllocationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.AllocationID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskAllocation)
	result, err := j.Allocator.Run(ctx, payload.AllocationID, payload.Period)
	if err != nil {
		return tracker.End(batchError(err))
	}
	j.log().Info("allocation completed",
		slog.Int64("allocation_id", payload.AllocationID),
		slog.String("period", payload.Period),
		slog.Int64("journal_id", result.JournalID),
		slog.Int("buckets", len(result.Buckets)))
	return tracker.End(nil)
}

// batchError keeps lock contention retryable and stops retries for ledger
// errors that a rerun cannot fix.
func batchError(err error) error {
	if errors.Is(err, accounting.ErrBatchInProgress) {
		return err
	}
	if accounting.ErrorCode(err) != "INTERNAL" || isNotFound(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func isNotFound(err error) bool {
	for _, target := range []error{
		accounting.ErrLedgerNotFound,
		accounting.ErrPeriodNotFound,
		accounting.ErrRuleNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (j *BatchJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("component", "gl_batch"))
	}
	return slog.Default().With(slog.String("component", "gl_batch"))
}
