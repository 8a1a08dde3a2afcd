package journals

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// InlineDispatcher processes journals on a background goroutine in the
// same process. It backs deployments without a task queue and tests.
type InlineDispatcher struct {
	process func(ctx context.Context, journalID int64) error
	release func(ctx context.Context, journalID int64, cause error) error
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewInlineDispatcher returns a dispatcher invoking process per request.
func NewInlineDispatcher(process func(ctx context.Context, journalID int64) error, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{process: process, logger: logger}
}

// WithRelease sets the fallback run when processing fails without resolving
// the journal, so it never stays in Processing.
func (d *InlineDispatcher) WithRelease(release func(ctx context.Context, journalID int64, cause error) error) *InlineDispatcher {
	d.release = release
	return d
}

// Dispatch starts processing without waiting for it. The request context's
// cancellation does not stop the work.
func (d *InlineDispatcher) Dispatch(ctx context.Context, req PostRequest) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.process(ctx, req.JournalID); err != nil {
			var postErr *PostingError
			if errors.As(err, &postErr) {
				return
			}
			d.log().Error("inline posting failed", slog.Int64("journal_id", req.JournalID), slog.Any("error", err))
			if d.release == nil {
				return
			}
			if relErr := d.release(ctx, req.JournalID, err); relErr != nil {
				d.log().Error("release journal", slog.Int64("journal_id", req.JournalID), slog.Any("error", relErr))
			}
		}
	}()
	return nil
}

// Wait blocks until every dispatched journal finished processing.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

func (d *InlineDispatcher) log() *slog.Logger {
	if d.logger != nil {
		return d.logger.With(slog.String("component", "inline_dispatcher"))
	}
	return slog.Default().With(slog.String("component", "inline_dispatcher"))
}
