package cli

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
)

// RevalueOptions defines flags for the revalue command.
type RevalueOptions struct {
	Output
	reval.RunInput
}

// RevalueCommand revalues foreign balances in-process.
func (c *OpsCLI) RevalueCommand(ctx context.Context, opts RevalueOptions) int {
	opts.defaults()
	if opts.LedgerID <= 0 || opts.Currency == "" || opts.OffsetAccount == "" || !validPeriod(opts.Period) {
		_, _ = fmt.Fprintln(opts.Stderr, "revalue: --ledger, --period, --currency and --offset are required")
		return ExitError
	}
	result, err := c.ledger.Revaluation.Run(ctx, opts.RunInput)
	if err != nil {
		return fail(opts.Output, "revalue", err)
	}
	c.waitInline()
	if opts.JSONOutput {
		return writeJSON(opts.Output, "revalue", result)
	}
	if result.JournalID == 0 {
		_, _ = fmt.Fprintf(opts.Stdout, "no %s variance in %s, nothing booked\n", opts.Currency, opts.Period)
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "journal %d books %s across %d balance(s)\n",
		result.JournalID, result.TotalVariance.StringFixed(accounting.AmountScale), len(result.Variances))
	return ExitOK
}

// AllocateOptions defines flags for the allocate command.
type AllocateOptions struct {
	Output
	AllocationID int64
	Period       string
}

// AllocateCommand runs a mass allocation in-process.
func (c *OpsCLI) AllocateCommand(ctx context.Context, opts AllocateOptions) int {
	opts.defaults()
	if opts.AllocationID <= 0 || !validPeriod(opts.Period) {
		_, _ = fmt.Fprintln(opts.Stderr, "allocate: --rule and --period are required")
		return ExitError
	}
	result, err := c.ledger.Allocation.Run(ctx, opts.AllocationID, opts.Period)
	if err != nil {
		return fail(opts.Output, "allocate", err)
	}
	c.waitInline()
	if opts.JSONOutput {
		return writeJSON(opts.Output, "allocate", result)
	}
	if result.JournalID == 0 {
		_, _ = fmt.Fprintf(opts.Stdout, "allocation %d: empty pool in %s, nothing booked\n", opts.AllocationID, opts.Period)
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "journal %d allocates %s of %s over %d bucket(s)\n",
		result.JournalID,
		result.TotalAllocated.StringFixed(accounting.AmountScale),
		result.Pool.StringFixed(accounting.AmountScale),
		len(result.Buckets))
	return ExitOK
}

// PostOptions defines flags for the post command.
type PostOptions struct {
	Output
	JournalID int64
	ActorID   int64
}

// PostCommand submits a draft journal for posting.
func (c *OpsCLI) PostCommand(ctx context.Context, opts PostOptions) int {
	opts.defaults()
	if opts.JournalID <= 0 || opts.ActorID == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "post: --journal and --actor are required")
		return ExitError
	}
	receipt, err := c.ledger.Poster.Post(ctx, opts.JournalID, opts.ActorID)
	if err != nil {
		return fail(opts.Output, "post", err)
	}
	status := receipt.Status
	if c.waitInline() {
		journal, err := c.ledger.Journals.GetJournal(ctx, opts.JournalID)
		if err != nil {
			return fail(opts.Output, "post", err)
		}
		status = journal.Status
	}
	if opts.JSONOutput {
		if rc := writeJSON(opts.Output, "post", map[string]any{"journal_id": opts.JournalID, "status": status}); rc != ExitOK {
			return rc
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "journal %d: %s\n", opts.JournalID, status)
	}
	// Inline processing reverts rejected journals to draft.
	if status == accounting.JournalStatusDraft {
		return ExitRejected
	}
	return ExitOK
}

// waitInline blocks until in-process postings finish and reports whether
// postings run in-process at all.
func (c *OpsCLI) waitInline() bool {
	if c.ledger.Inline == nil {
		return false
	}
	c.ledger.Inline.Wait()
	return true
}
