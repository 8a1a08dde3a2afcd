package accounting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrSegmentCountMismatch indicates the code does not fit the ledger structure.
	ErrSegmentCountMismatch = errors.New("accounting: segment count mismatch")
	// ErrInvalidSegmentValue indicates an unknown or disabled segment value.
	ErrInvalidSegmentValue = errors.New("accounting: invalid segment value")
	// ErrCombinationBlocked indicates a cross-validation rule rejected the account.
	ErrCombinationBlocked = errors.New("accounting: combination blocked")
	// ErrAccessDenied indicates the user may not write to the account.
	ErrAccessDenied = errors.New("accounting: access denied")
	// ErrInsufficientFunds indicates an absolute budget control breach.
	ErrInsufficientFunds = errors.New("accounting: insufficient funds")
	// ErrPeriodClosed indicates the period refuses postings.
	ErrPeriodClosed = errors.New("accounting: period is not open")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrNoIntercompanyRule indicates a missing company pair mapping.
	ErrNoIntercompanyRule = errors.New("accounting: no intercompany rule")
	// ErrZeroBasis indicates an allocation basis summing to zero.
	ErrZeroBasis = errors.New("accounting: allocation basis is zero")

	// ErrLedgerNotFound indicates missing ledger.
	ErrLedgerNotFound = errors.New("accounting: ledger not found")
	// ErrPeriodNotFound indicates missing period.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrAccountNotFound indicates missing code combination.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountDisabled indicates the account no longer accepts amounts.
	ErrAccountDisabled = errors.New("accounting: account disabled")
	// ErrSegmentValueNotFound indicates the value set has no such value.
	ErrSegmentValueNotFound = errors.New("accounting: segment value not found")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal not found")
	// ErrJournalPosted indicates a terminal journal.
	ErrJournalPosted = errors.New("accounting: journal already posted")
	// ErrJournalProcessing indicates a posting is already in flight.
	ErrJournalProcessing = errors.New("accounting: journal already processing")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrApprovalRequired indicates the journal awaits approval.
	ErrApprovalRequired = errors.New("accounting: journal approval outstanding")
	// ErrApprovalRejected indicates the journal approval was rejected.
	ErrApprovalRejected = errors.New("accounting: journal approval rejected")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrInvalidAmount indicates a negative or double-sided line.
	ErrInvalidAmount = errors.New("accounting: invalid line amount")
	// ErrInvalidCurrency indicates a non ISO-4217 currency code.
	ErrInvalidCurrency = errors.New("accounting: invalid currency")
	// ErrMissingExchangeRate indicates no rate for a foreign line.
	ErrMissingExchangeRate = errors.New("accounting: exchange rate not found")
	// ErrRuleNotFound indicates a missing configuration rule.
	ErrRuleNotFound = errors.New("accounting: rule not found")
	// ErrBudgetBalanceNotFound indicates no open budget line.
	ErrBudgetBalanceNotFound = errors.New("accounting: budget balance not found")
	// ErrReportNotFound indicates a missing report definition.
	ErrReportNotFound = errors.New("accounting: report not found")
	// ErrBalanceNotFound indicates an empty cube cell.
	ErrBalanceNotFound = errors.New("accounting: balance not found")
	// ErrBatchInProgress indicates a concurrent batch run holds the lock.
	ErrBatchInProgress = errors.New("accounting: batch run already in progress")
)

// InvalidSegmentError names the offending segment value.
type InvalidSegmentError struct {
	Segment string
	Value   string
	Reason  string
}

func (e *InvalidSegmentError) Error() string {
	return fmt.Sprintf("accounting: invalid segment value %q for %s: %s", e.Value, e.Segment, e.Reason)
}

func (e *InvalidSegmentError) Unwrap() error { return ErrInvalidSegmentValue }

// CombinationBlockedError carries the blocking rule message.
type CombinationBlockedError struct {
	Code    string
	RuleID  int64
	Message string
}

func (e *CombinationBlockedError) Error() string {
	return fmt.Sprintf("accounting: combination %s blocked: %s", e.Code, e.Message)
}

func (e *CombinationBlockedError) Unwrap() error { return ErrCombinationBlocked }

// AccessDeniedError names the account the user may not write.
type AccessDeniedError struct {
	UserID int64
	Code   string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("accounting: user %d denied access to account %s", e.UserID, e.Code)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// InsufficientFundsError describes an absolute budget breach.
type InsufficientFundsError struct {
	Code      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("accounting: insufficient funds on %s: requested %s, available %s",
		e.Code, e.Requested.StringFixed(AmountScale), e.Available.StringFixed(AmountScale))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// IntercompanyRuleError names the company pair lacking a rule.
type IntercompanyRuleError struct {
	FromCompany string
	ToCompany   string
}

func (e *IntercompanyRuleError) Error() string {
	return fmt.Sprintf("accounting: no intercompany rule from %s to %s", e.FromCompany, e.ToCompany)
}

func (e *IntercompanyRuleError) Unwrap() error { return ErrNoIntercompanyRule }

// UnbalancedError reports the differing totals.
type UnbalancedError struct {
	Currency string
	Debit    decimal.Decimal
	Credit   decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance in %s: debit %s, credit %s",
		e.Currency, e.Debit.StringFixed(AmountScale), e.Credit.StringFixed(AmountScale))
}

func (e *UnbalancedError) Unwrap() error { return ErrUnbalanced }

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrSegmentCountMismatch, "SEGMENT_COUNT_MISMATCH"},
	{ErrInvalidSegmentValue, "INVALID_SEGMENT_VALUE"},
	{ErrCombinationBlocked, "COMBINATION_BLOCKED"},
	{ErrAccessDenied, "ACCESS_DENIED"},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{ErrPeriodClosed, "PERIOD_CLOSED"},
	{ErrUnbalanced, "UNBALANCED"},
	{ErrNoIntercompanyRule, "NO_INTERCOMPANY_RULE"},
	{ErrZeroBasis, "ZERO_BASIS"},
	{ErrAccountDisabled, "ACCOUNT_DISABLED"},
	{ErrApprovalRequired, "APPROVAL_REQUIRED"},
	{ErrApprovalRejected, "APPROVAL_REJECTED"},
	{ErrMissingExchangeRate, "MISSING_EXCHANGE_RATE"},
	{ErrJournalPosted, "JOURNAL_POSTED"},
	{ErrJournalProcessing, "JOURNAL_PROCESSING"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInvalidCurrency, "INVALID_CURRENCY"},
	{ErrTooFewLines, "TOO_FEW_LINES"},
	{ErrBatchInProgress, "BATCH_IN_PROGRESS"},
}

// ErrorCode returns a stable machine-readable code for ledger errors, or
// "INTERNAL" when err is not one of them.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
