package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

// Enqueuer is the subset of asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PostingDispatcher hands submitted journals to the posting queue.
type PostingDispatcher struct {
	client Enqueuer
	logger *slog.Logger
}

// NewPostingDispatcher constructs the queue-backed dispatcher.
func NewPostingDispatcher(client Enqueuer, logger *slog.Logger) *PostingDispatcher {
	return &PostingDispatcher{client: client, logger: logger}
}

// Dispatch enqueues req on the posting queue.
func (d *PostingDispatcher) Dispatch(ctx context.Context, req journals.PostRequest) error {
	if d == nil || d.client == nil {
		return errors.New("posting dispatcher: client not configured")
	}
	task, err := NewJournalPostTask(req)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue journal %d: %w", req.JournalID, err)
	}
	if d.logger != nil && info != nil {
		d.logger.Debug("journal queued",
			slog.Int64("journal_id", req.JournalID),
			slog.String("task_id", info.ID),
			slog.String("queue", info.Queue))
	}
	return nil
}

// JournalProcessor finishes a submitted journal.
type JournalProcessor interface {
	Process(ctx context.Context, journalID int64) error
}

// JournalPostJob runs queued postings.
type JournalPostJob struct {
	Poster  JournalProcessor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewJournalPostJob constructs the posting job handler.
func NewJournalPostJob(poster JournalProcessor, logger *slog.Logger, metrics *jobmetrics.Metrics) *JournalPostJob {
	return &JournalPostJob{Poster: poster, Logger: logger, Metrics: metrics}
}

// Handle processes TaskJournalPost tasks. Journals rejected by validation are
// not retried; infrastructure errors are.
func (j *JournalPostJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Poster == nil {
		return errors.New("journal post: poster not configured")
	}
	var req journals.PostRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil || req.JournalID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskJournalPost)
	err := j.Poster.Process(ctx, req.JournalID)
	var perr *journals.PostingError
	switch {
	case err == nil:
		j.Metrics.ObservePosting(jobmetrics.OutcomePosted)
		return tracker.End(nil)
	case errors.As(err, &perr):
		j.Metrics.ObservePosting(jobmetrics.OutcomeRejected)
		j.log().Info("journal rejected", slog.Int64("journal_id", req.JournalID), slog.Any("error", perr.Err))
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	default:
		j.Metrics.ObservePosting(jobmetrics.OutcomeRetry)
		j.log().Error("journal posting failed", slog.Int64("journal_id", req.JournalID), slog.Any("error", err))
		return tracker.End(err)
	}
}

func (j *JournalPostJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskJournalPost))
	}
	return slog.Default().With(slog.String("job", TaskJournalPost))
}
