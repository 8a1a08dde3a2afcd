package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// Store abstracts transactional repository behaviour.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Tx exposes every ledger read and write available inside one transaction.
// Engines depend on narrower subsets declared in their own packages.
type Tx interface {
	GetLedger(ctx context.Context, ledgerID int64) (Ledger, error)
	GetSegmentValue(ctx context.Context, valueSetID int64, value string) (SegmentValue, error)

	GetAccount(ctx context.Context, accountID int64) (Account, error)
	FindAccountByCode(ctx context.Context, ledgerID int64, code string) (Account, error)
	InsertAccount(ctx context.Context, account Account) (Account, error)

	ListCrossValidationRules(ctx context.Context, ledgerID int64) ([]CrossValidationRule, error)
	ListDataAccessSets(ctx context.Context, userID int64) ([]DataAccessSet, error)
	GetIntercompanyRule(ctx context.Context, ledgerID int64, fromCompany, toCompany string) (IntercompanyRule, error)

	GetPeriod(ctx context.Context, ledgerID int64, name string) (Period, error)
	UpdatePeriodStatus(ctx context.Context, ledgerID int64, name string, status PeriodStatus) error

	LatestExchangeRate(ctx context.Context, from, to, period string) (ExchangeRate, error)

	InsertJournal(ctx context.Context, journal Journal) (Journal, error)
	GetJournal(ctx context.Context, journalID int64) (Journal, error)
	InsertJournalLines(ctx context.Context, journalID int64, lines []JournalLine) ([]JournalLine, error)
	// TransitionJournalStatus moves a journal from one status to another atomically.
	// It returns ErrInvalidStatus when the journal is not in the expected status.
	TransitionJournalStatus(ctx context.Context, journalID int64, from, to JournalStatus, actorID int64) error
	MarkJournalPosted(ctx context.Context, journalID int64, postedAt time.Time) error
	// ListStaleJournals returns ids of journals in status whose last change
	// happened before updatedBefore, oldest first.
	ListStaleJournals(ctx context.Context, status JournalStatus, updatedBefore time.Time, limit int) ([]int64, error)
	UpdateJournalApproval(ctx context.Context, journalID int64, status ApprovalStatus) error

	UpsertBalance(ctx context.Context, delta BalanceDelta) (BalanceRow, error)
	GetBalance(ctx context.Context, ledgerID, accountID int64, period, currency string) (BalanceRow, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error)

	ListBudgetControlRules(ctx context.Context, ledgerID int64) ([]BudgetControlRule, error)
	GetBudgetBalanceForUpdate(ctx context.Context, ledgerID int64, period string, accountID int64) (BudgetBalance, error)
	AddBudgetActual(ctx context.Context, balanceID int64, amount decimal.Decimal) error

	GetAllocationRule(ctx context.Context, ruleID int64) (AllocationRule, error)
	GetReportDefinition(ctx context.Context, reportID int64) (ReportDefinition, error)
}
