package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

// recoverBatch caps the journals released by one recovery run.
const recoverBatch = 500

// JournalReleaser returns abandoned Processing journals to Draft.
type JournalReleaser interface {
	Release(ctx context.Context, journalID int64, cause error) error
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// RecoveryJob sweeps journals stuck in Processing, e.g. after a crash
// between the status change and the enqueue.
type RecoveryJob struct {
	Poster    JournalReleaser
	OlderThan time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewRecoveryJob constructs the sweeper for journals older than olderThan.
func NewRecoveryJob(poster JournalReleaser, olderThan time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecoveryJob {
	return &RecoveryJob{Poster: poster, OlderThan: olderThan, Logger: logger, Metrics: metrics}
}

// Handle processes TaskJournalRecover tasks.
func (j *RecoveryJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Poster == nil {
		return errors.New("journal recover: poster not configured")
	}
	tracker := j.Metrics.Track(TaskJournalRecover)
	released, err := j.Poster.RecoverStale(ctx, j.OlderThan, recoverBatch)
	for i := 0; i < released; i++ {
		j.Metrics.ObservePosting(jobmetrics.OutcomeAbandoned)
	}
	if released > 0 {
		j.log().Warn("released stale journals", slog.Int("count", released), slog.Duration("older_than", j.OlderThan))
	}
	return tracker.End(err)
}

func (j *RecoveryJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskJournalRecover))
	}
	return slog.Default().With(slog.String("job", TaskJournalRecover))
}

// PostingErrorHandler releases a journal once its posting task failed for
// the last time, so an archived task never leaves it in Processing.
func PostingErrorHandler(poster JournalReleaser, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, ok := asynq.GetRetryCount(ctx)
		if !ok {
			return
		}
		maxRetry, ok := asynq.GetMaxRetry(ctx)
		if !ok {
			return
		}
		released, relErr := releaseExhausted(ctx, poster, task, err, retried, maxRetry)
		if relErr != nil {
			logger.Error("release journal after final retry", slog.String("task", task.Type()), slog.Any("error", relErr))
			return
		}
		if released {
			metrics.ObservePosting(jobmetrics.OutcomeAbandoned)
		}
	})
}

// releaseExhausted releases the journal of a posting task that will not be
// retried again. Rejections were already reverted by the poster.
func releaseExhausted(ctx context.Context, poster JournalReleaser, task *asynq.Task, cause error, retried, maxRetry int) (bool, error) {
	if task.Type() != TaskJournalPost || errors.Is(cause, asynq.SkipRetry) || retried < maxRetry {
		return false, nil
	}
	var req journals.PostRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil || req.JournalID <= 0 {
		return false, nil
	}
	if err := poster.Release(ctx, req.JournalID, cause); err != nil {
		return false, err
	}
	return true, nil
}
