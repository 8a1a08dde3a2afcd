package accounting

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemUserID identifies internal batch runs. It bypasses data access checks.
const SystemUserID int64 = -1

// AccountType enumerates natural account classifications.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// LedgerCategory distinguishes primary books from secondary representations.
type LedgerCategory string

const (
	LedgerPrimary   LedgerCategory = "PRIMARY"
	LedgerSecondary LedgerCategory = "SECONDARY"
)

// SegmentQualifier tags a segment with the role it plays in the structure.
type SegmentQualifier string

const (
	QualifierNone           SegmentQualifier = ""
	QualifierCompany        SegmentQualifier = "COMPANY"
	QualifierCostCenter     SegmentQualifier = "COST_CENTER"
	QualifierNaturalAccount SegmentQualifier = "NATURAL_ACCOUNT"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusFutureEntry PeriodStatus = "FUTURE_ENTRY"
	PeriodStatusOpen        PeriodStatus = "OPEN"
	PeriodStatusClosed      PeriodStatus = "CLOSED"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusDraft      JournalStatus = "DRAFT"
	JournalStatusProcessing JournalStatus = "PROCESSING"
	JournalStatusPosted     JournalStatus = "POSTED"
)

// ApprovalStatus enumerates journal approval values.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "NOT_REQUIRED"
	ApprovalRequired    ApprovalStatus = "REQUIRED"
	ApprovalPending     ApprovalStatus = "PENDING"
	ApprovalApproved    ApprovalStatus = "APPROVED"
	ApprovalRejected    ApprovalStatus = "REJECTED"
)

// LineSource records who produced a journal line.
type LineSource string

const (
	LineSourceUser         LineSource = "USER"
	LineSourceIntercompany LineSource = "INTERCOMPANY"
)

// Segment is one positional component of an account code.
type Segment struct {
	Name       string
	Position   int
	ValueSetID int64
	Qualifier  SegmentQualifier
}

// COAStructure is the ordered segment layout shared by ledgers.
type COAStructure struct {
	ID        int64
	Name      string
	Delimiter string
	Segments  []Segment
}

// Split breaks a delimited account code into positional segment values.
func (s COAStructure) Split(code string) []string {
	parts := strings.Split(strings.TrimSpace(code), s.delimiter())
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Join builds the canonical code for positional segment values.
func (s COAStructure) Join(values []string) string {
	return strings.Join(values, s.delimiter())
}

// SegmentIndex returns the position of the first segment carrying the qualifier, or -1.
func (s COAStructure) SegmentIndex(q SegmentQualifier) int {
	for i, seg := range s.Segments {
		if seg.Qualifier == q {
			return i
		}
	}
	return -1
}

// IndexOf returns the position of the named segment (case-insensitive), or -1.
func (s COAStructure) IndexOf(name string) int {
	for i, seg := range s.Segments {
		if strings.EqualFold(seg.Name, name) {
			return i
		}
	}
	return -1
}

// Named maps positional values to segment names.
func (s COAStructure) Named(values []string) map[string]string {
	out := make(map[string]string, len(s.Segments))
	for i, seg := range s.Segments {
		if i < len(values) {
			out[seg.Name] = values[i]
		}
	}
	return out
}

func (s COAStructure) delimiter() string {
	if s.Delimiter == "" {
		return "-"
	}
	return s.Delimiter
}

// Ledger is an accounting book bound to a structure and functional currency.
type Ledger struct {
	ID                 int64
	Name               string
	FunctionalCurrency string
	Category           LedgerCategory
	Structure          COAStructure
	CreatedAt          time.Time
}

// SegmentValue is a legal value within a value set.
type SegmentValue struct {
	ValueSetID  int64
	Value       string
	Description string
	Enabled     bool
	AccountType AccountType
	ParentValue string
}

// Account is a resolved code combination, unique per ledger.
type Account struct {
	ID          int64
	LedgerID    int64
	Code        string
	Segments    []string
	AccountType AccountType
	Enabled     bool
	CreatedAt   time.Time
}

// Period is a fiscal period scoped to a ledger.
type Period struct {
	LedgerID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Status    PeriodStatus
	UpdatedAt time.Time
}

// Journal is a transaction header with its lines.
type Journal struct {
	ID             int64
	LedgerID       int64
	Period         string
	Currency       string
	Description    string
	Status         JournalStatus
	ApprovalStatus ApprovalStatus
	SourceModule   string
	SourceID       uuid.UUID
	CreatedBy      int64
	SubmittedBy    int64
	PostedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []JournalLine
}

// JournalLine holds entered and accounted amounts for one account.
type JournalLine struct {
	ID              int64
	JournalID       int64
	LineNumber      int
	AccountID       int64
	AccountCode     string
	Currency        string
	EnteredDebit    decimal.Decimal
	EnteredCredit   decimal.Decimal
	ExchangeRate    decimal.Decimal
	AccountedDebit  decimal.Decimal
	AccountedCredit decimal.Decimal
	Description     string
	Source          LineSource
}

// AccountedNet returns accounted debit minus credit.
func (l JournalLine) AccountedNet() decimal.Decimal {
	return l.AccountedDebit.Sub(l.AccountedCredit)
}

// EnteredNet returns entered debit minus credit.
func (l JournalLine) EnteredNet() decimal.Decimal {
	return l.EnteredDebit.Sub(l.EnteredCredit)
}

// BalanceRow is one cell of the balances cube.
type BalanceRow struct {
	LedgerID        int64
	AccountID       int64
	AccountCode     string
	Period          string
	Currency        string
	PeriodNetDebit  decimal.Decimal
	PeriodNetCredit decimal.Decimal
	BeginBalance    decimal.Decimal
	EndBalance      decimal.Decimal
	UpdatedAt       time.Time
}

// PeriodNet returns period debit minus credit.
func (b BalanceRow) PeriodNet() decimal.Decimal {
	return b.PeriodNetDebit.Sub(b.PeriodNetCredit)
}

// BalanceDelta is an increment applied to a cube row.
type BalanceDelta struct {
	LedgerID  int64
	AccountID int64
	Period    string
	Currency  string
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// BalanceFilter narrows cube reads.
type BalanceFilter struct {
	LedgerID int64
	Period   string
	Currency string
}

// CrossValidationRule blocks combinations matching both filters.
type CrossValidationRule struct {
	ID            int64
	LedgerID      int64
	Name          string
	IncludeFilter string
	ExcludeFilter string
	Message       string
	Enabled       bool
}

// DataAccessSet grants per-segment write access on one ledger.
type DataAccessSet struct {
	ID       int64
	LedgerID int64
	Name     string
	// Segments maps segment name to an allow expression; missing or "ALL" is unrestricted.
	Segments map[string]string
}

// IntercompanyRule maps a directed company pair to balancing accounts.
type IntercompanyRule struct {
	ID                int64
	LedgerID          int64
	FromCompany       string
	ToCompany         string
	ReceivableAccount string
	PayableAccount    string
}

// ControlLevel enumerates budgetary control severities.
type ControlLevel string

const (
	ControlAbsolute ControlLevel = "ABSOLUTE"
	ControlAdvisory ControlLevel = "ADVISORY"
	ControlTrack    ControlLevel = "TRACK"
)

// BudgetStatus enumerates budget availability.
type BudgetStatus string

const (
	BudgetOpen   BudgetStatus = "OPEN"
	BudgetFrozen BudgetStatus = "FROZEN"
)

// Budget groups budget balances for a ledger.
type Budget struct {
	ID       int64
	LedgerID int64
	Name     string
	Status   BudgetStatus
}

// BudgetBalance tracks budget consumption for one (period, account).
type BudgetBalance struct {
	ID                int64
	BudgetID          int64
	Period            string
	AccountID         int64
	BudgetAmount      decimal.Decimal
	ActualAmount      decimal.Decimal
	EncumbranceAmount decimal.Decimal
}

// Available returns budget minus actual and encumbrance.
func (b BudgetBalance) Available() decimal.Decimal {
	return b.BudgetAmount.Sub(b.ActualAmount.Add(b.EncumbranceAmount))
}

// BudgetControlRule scopes funds checking to natural accounts.
type BudgetControlRule struct {
	ID            int64
	LedgerID      int64
	AccountFilter string
	Level         ControlLevel
}

// ExchangeRate converts a currency into a ledger currency for a period.
type ExchangeRate struct {
	FromCurrency string
	ToCurrency   string
	Period       string
	Rate         decimal.Decimal
	EffectiveAt  time.Time
}

// AllocationRule describes a pooled-cost redistribution.
type AllocationRule struct {
	ID            int64
	LedgerID      int64
	Name          string
	PoolFilter    string
	BasisFilter   string
	DriverSegment string
	OffsetAccount string
	TargetPattern string
}

// RowType distinguishes FSG row kinds.
type RowType string

const (
	RowDetail      RowType = "DETAIL"
	RowCalculation RowType = "CALCULATION"
)

// AmountType selects which cube measure a column reads.
type AmountType string

const (
	AmountPTD AmountType = "PTD"
	AmountYTD AmountType = "YTD"
)

// ReportRow is a single FSG row definition.
type ReportRow struct {
	Number     int
	Label      string
	Type       RowType
	AccountMin string
	AccountMax string
	Formula    string
}

// ReportColumn is a single FSG column definition.
type ReportColumn struct {
	Position   int
	Label      string
	AmountType AmountType
}

// ReportDefinition is a financial statement layout.
type ReportDefinition struct {
	ID      int64
	Name    string
	Rows    []ReportRow
	Columns []ReportColumn
}
