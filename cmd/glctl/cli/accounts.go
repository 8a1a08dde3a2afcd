package cli

import (
	"context"
	"fmt"
	"strings"
)

// ResolveOptions defines flags for the resolve command.
type ResolveOptions struct {
	Output
	LedgerID int64
	Code     string
	// DryRun validates without creating the combination.
	DryRun bool
}

type resolveSummary struct {
	ID          int64    `json:"id,omitempty"`
	Code        string   `json:"code"`
	Segments    []string `json:"segments,omitempty"`
	AccountType string   `json:"account_type,omitempty"`
	Valid       bool     `json:"valid"`
	ErrorCode   string   `json:"error_code,omitempty"`
}

// ResolveCommand resolves or validates a segment string.
func (c *OpsCLI) ResolveCommand(ctx context.Context, opts ResolveOptions) int {
	opts.defaults()
	code := strings.TrimSpace(opts.Code)
	if opts.LedgerID <= 0 || code == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "resolve: --ledger and an account code are required")
		return ExitError
	}
	if opts.DryRun {
		result, err := c.ledger.Accounts.ValidateCode(ctx, opts.LedgerID, code)
		if err != nil {
			return fail(opts.Output, "resolve", err)
		}
		summary := resolveSummary{Code: code, Valid: result.IsValid, ErrorCode: result.Code}
		if opts.JSONOutput {
			if rc := writeJSON(opts.Output, "resolve", summary); rc != ExitOK {
				return rc
			}
		} else if result.IsValid {
			_, _ = fmt.Fprintf(opts.Stdout, "%s is valid\n", code)
		} else {
			_, _ = fmt.Fprintf(opts.Stdout, "%s is invalid: %s (%s)\n", code, result.Error, result.Code)
		}
		if !result.IsValid {
			return ExitRejected
		}
		return ExitOK
	}

	account, err := c.ledger.Accounts.ResolveAccount(ctx, opts.LedgerID, code)
	if err != nil {
		return fail(opts.Output, "resolve", err)
	}
	if opts.JSONOutput {
		return writeJSON(opts.Output, "resolve", resolveSummary{
			ID:          account.ID,
			Code:        account.Code,
			Segments:    account.Segments,
			AccountType: string(account.AccountType),
			Valid:       true,
		})
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s -> account %d (%s)\n", account.Code, account.ID, account.AccountType)
	return ExitOK
}
