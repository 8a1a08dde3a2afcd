package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

// Enqueuer submits tasks; *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueInspector reads queue state; *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// JobsCLI hands batch work to the worker instead of running it here.
type JobsCLI struct {
	client    Enqueuer
	inspector QueueInspector
	closers   []func() error
}

// NewJobsCLI connects to the queue at redisAddr.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{client: client, inspector: inspector, closers: []func() error{inspector.Close, client.Close}}, nil
}

// NewJobsCLIWith wraps existing handles.
func NewJobsCLIWith(client Enqueuer, inspector QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	for _, closeFn := range c.closers {
		if closeErr := closeFn(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// EnqueueRevaluation schedules a revaluation run.
func (c *JobsCLI) EnqueueRevaluation(ctx context.Context, input reval.RunInput) (*asynq.TaskInfo, error) {
	task, err := jobs.NewRevaluationTask(input)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// EnqueueAllocation schedules an allocation run.
func (c *JobsCLI) EnqueueAllocation(ctx context.Context, allocationID int64, period string) (*asynq.TaskInfo, error) {
	task, err := jobs.NewAllocationTask(allocationID, period)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// EnqueueIntegrity schedules an integrity check.
func (c *JobsCLI) EnqueueIntegrity(ctx context.Context, ledgerID int64, period string) (*asynq.TaskInfo, error) {
	task, err := jobs.NewIntegrityTask(ledgerID, period)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *JobsCLI) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueues reports the posting and default queues. Queues that were
// never used report zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueuePosting, jobs.QueueDefault}
	out := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := c.inspector.GetQueueInfo(q)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, QueueStats{Queue: q})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", q, err)
		}
		out = append(out, QueueStats{
			Queue:     q,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
		})
	}
	return out, nil
}

// EnqueuedCommand reports a submitted task.
func EnqueuedCommand(out Output, command string, info *asynq.TaskInfo, err error) int {
	out.defaults()
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "%s: enqueue: %v\n", command, err)
		return ExitError
	}
	if out.JSONOutput {
		return writeJSON(out, command, map[string]string{"task_id": info.ID, "queue": info.Queue, "type": info.Type})
	}
	_, _ = fmt.Fprintf(out.Stdout, "%s: enqueued %s on %s (task %s)\n", command, info.Type, info.Queue, info.ID)
	return ExitOK
}

// QueuesCommand prints queue statistics.
func (c *JobsCLI) QueuesCommand(ctx context.Context, out Output) int {
	out.defaults()
	stats, err := c.InspectQueues(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "queues: %v\n", err)
		return ExitError
	}
	if out.JSONOutput {
		return writeJSON(out, "queues", stats)
	}
	w := tabwriter.NewWriter(out.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	if err := w.Flush(); err != nil {
		_, _ = fmt.Fprintf(out.Stderr, "queues: %v\n", err)
		return ExitError
	}
	return ExitOK
}
