package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueuePosting carries journal postings ahead of batch work.
	QueuePosting = "gl_posting"

	// TaskJournalPost processes one submitted journal.
	TaskJournalPost = "gl:journal.post"
	// TaskIntegrityCheck verifies the balances cube of a period.
	TaskIntegrityCheck = "gl:integrity"
	// TaskRevaluation runs a foreign currency revaluation.
	TaskRevaluation = "gl:revalue"
	// TaskAllocation runs a mass allocation rule.
	TaskAllocation = "gl:allocate"
	// TaskJournalRecover releases journals stuck in Processing.
	TaskJournalRecover = "gl:journal.recover"
)

// IntegrityPayload scopes an integrity check. An empty Period means the
// calendar month current when the job runs.
type IntegrityPayload struct {
	LedgerID int64  `json:"ledger_id"`
	Period   string `json:"period"`
}

// AllocationPayload names the rule and period to allocate.
type AllocationPayload struct {
	AllocationID int64  `json:"allocation_id"`
	Period       string `json:"period"`
}

// NewJournalPostTask wraps a posting request.
func NewJournalPostTask(req journals.PostRequest) (*asynq.Task, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJournalPost, body, asynq.Queue(QueuePosting), asynq.MaxRetry(5)), nil
}

// NewIntegrityTask creates an integrity check task.
func NewIntegrityTask(ledgerID int64, period string) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityPayload{LedgerID: ledgerID, Period: strings.TrimSpace(period)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityCheck, body, asynq.Queue(QueueDefault)), nil
}

// NewRecoveryTask creates the stale journal sweep task.
func NewRecoveryTask() *asynq.Task {
	return asynq.NewTask(TaskJournalRecover, nil, asynq.Queue(QueuePosting), asynq.MaxRetry(0))
}

// NewRevaluationTask creates a revaluation task.
func NewRevaluationTask(input reval.RunInput) (*asynq.Task, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRevaluation, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewAllocationTask creates an allocation task.
func NewAllocationTask(allocationID int64, period string) (*asynq.Task, error) {
	body, err := json.Marshal(AllocationPayload{AllocationID: allocationID, Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAllocation, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
