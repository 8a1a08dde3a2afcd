package cli

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/balances"
)

// IntegrityOptions defines flags for the integrity command.
type IntegrityOptions struct {
	Output
	LedgerID int64
	Period   string
}

// IntegritySummary is the JSON shape of an integrity run.
type IntegritySummary struct {
	OK         bool                 `json:"ok"`
	LedgerID   int64                `json:"ledger_id"`
	Period     string               `json:"period"`
	Violations []balances.Violation `json:"violations"`
}

// IntegrityCommand verifies the balance cube for one ledger period. It
// returns ExitRejected when violations were found.
func (c *OpsCLI) IntegrityCommand(ctx context.Context, opts IntegrityOptions) int {
	opts.defaults()
	if c.integrity == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "integrity: checker not configured")
		return ExitError
	}
	if opts.LedgerID <= 0 || !validPeriod(opts.Period) {
		_, _ = fmt.Fprintln(opts.Stderr, "integrity: --ledger and --period (YYYY-MM) are required")
		return ExitError
	}
	violations, err := c.integrity.Run(ctx, opts.LedgerID, opts.Period)
	if err != nil {
		return fail(opts.Output, "integrity", err)
	}
	if violations == nil {
		violations = []balances.Violation{}
	}
	if opts.JSONOutput {
		summary := IntegritySummary{OK: len(violations) == 0, LedgerID: opts.LedgerID, Period: opts.Period, Violations: violations}
		if rc := writeJSON(opts.Output, "integrity", summary); rc != ExitOK {
			return rc
		}
	} else if len(violations) == 0 {
		_, _ = fmt.Fprintf(opts.Stdout, "ledger %d period %s: balances consistent\n", opts.LedgerID, opts.Period)
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "ledger %d period %s: %d violation(s)\n", opts.LedgerID, opts.Period, len(violations))
		for _, v := range violations {
			_, _ = fmt.Fprintf(opts.Stdout, " - %s\n", v)
		}
	}
	if len(violations) > 0 {
		return ExitRejected
	}
	return ExitOK
}
