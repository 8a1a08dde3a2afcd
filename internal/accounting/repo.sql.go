package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgLockNotAvailable     = "55P03"
)

// journalLockTimeout bounds the wait on journal and budget row locks so a
// stuck posting surfaces as ErrJournalProcessing instead of blocking the worker.
const journalLockTimeout = 5 * time.Second

const serializationRetries = 3

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction. A serialization
// failure on commit or a lock timeout means another writer holds the journal.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	cfg := db.DefaultTxConfig
	cfg.LockTimeout = journalLockTimeout
	// A snapshot that misses a concurrent commit, e.g. two first uses of the
	// same code combination, is retried on a fresh one.
	err := db.RetrySerializable(ctx, serializationRetries, func() error {
		return db.WithTxConfig(ctx, r.pool, cfg, func(tx pgx.Tx) error {
			return fn(ctx, &txRepository{tx: tx})
		})
	})
	if isPgCode(err, pgSerializationFailure) || isPgCode(err, pgLockNotAvailable) {
		return ErrJournalProcessing
	}
	return err
}

func (r *txRepository) GetLedger(ctx context.Context, ledgerID int64) (Ledger, error) {
	var l Ledger
	err := r.tx.QueryRow(ctx, `SELECT l.id, l.name, l.functional_currency, l.category, l.created_at, s.id, s.name, s.delimiter
FROM gl_ledgers l JOIN gl_coa_structures s ON s.id = l.structure_id WHERE l.id=$1`, ledgerID).
		Scan(&l.ID, &l.Name, &l.FunctionalCurrency, &l.Category, &l.CreatedAt, &l.Structure.ID, &l.Structure.Name, &l.Structure.Delimiter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, ErrLedgerNotFound
		}
		return Ledger{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT name, position, value_set_id, qualifier FROM gl_coa_segments WHERE structure_id=$1 ORDER BY position`, l.Structure.ID)
	if err != nil {
		return Ledger{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.Name, &seg.Position, &seg.ValueSetID, &seg.Qualifier); err != nil {
			return Ledger{}, err
		}
		l.Structure.Segments = append(l.Structure.Segments, seg)
	}
	return l, rows.Err()
}

func (r *txRepository) GetSegmentValue(ctx context.Context, valueSetID int64, value string) (SegmentValue, error) {
	var v SegmentValue
	err := r.tx.QueryRow(ctx, `SELECT value_set_id, value, description, enabled, COALESCE(account_type, ''), COALESCE(parent_value, '')
FROM gl_segment_values WHERE value_set_id=$1 AND value=$2`, valueSetID, value).
		Scan(&v.ValueSetID, &v.Value, &v.Description, &v.Enabled, &v.AccountType, &v.ParentValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SegmentValue{}, ErrSegmentValueNotFound
		}
		return SegmentValue{}, err
	}
	return v, nil
}

const accountColumns = `id, ledger_id, code, segments, COALESCE(account_type, ''), enabled, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.LedgerID, &a.Code, &a.Segments, &a.AccountType, &a.Enabled, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM gl_code_combinations WHERE id=$1`, accountID))
}

func (r *txRepository) FindAccountByCode(ctx context.Context, ledgerID int64, code string) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM gl_code_combinations WHERE ledger_id=$1 AND code=$2`, ledgerID, code))
}

// InsertAccount creates the combination, returning the existing row when a
// concurrent resolver won the race on (ledger_id, code).
func (r *txRepository) InsertAccount(ctx context.Context, account Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO gl_code_combinations (ledger_id, code, segments, account_type, enabled)
VALUES ($1,$2,$3,NULLIF($4,''),$5)
ON CONFLICT (ledger_id, code) DO NOTHING
RETURNING `+accountColumns, account.LedgerID, account.Code, account.Segments, string(account.AccountType), account.Enabled)
	created, err := scanAccount(row)
	if errors.Is(err, ErrAccountNotFound) {
		return r.FindAccountByCode(ctx, account.LedgerID, account.Code)
	}
	return created, err
}

func (r *txRepository) ListCrossValidationRules(ctx context.Context, ledgerID int64) ([]CrossValidationRule, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, ledger_id, name, include_filter, exclude_filter, message, enabled
FROM gl_cross_validation_rules WHERE ledger_id=$1 AND enabled ORDER BY id`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []CrossValidationRule
	for rows.Next() {
		var rule CrossValidationRule
		if err := rows.Scan(&rule.ID, &rule.LedgerID, &rule.Name, &rule.IncludeFilter, &rule.ExcludeFilter, &rule.Message, &rule.Enabled); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *txRepository) ListDataAccessSets(ctx context.Context, userID int64) ([]DataAccessSet, error) {
	rows, err := r.tx.Query(ctx, `SELECT s.id, s.ledger_id, s.name, s.segments
FROM gl_data_access_assignments a JOIN gl_data_access_sets s ON s.id = a.set_id
WHERE a.user_id=$1 AND a.active ORDER BY s.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sets []DataAccessSet
	for rows.Next() {
		var set DataAccessSet
		var raw []byte
		if err := rows.Scan(&set.ID, &set.LedgerID, &set.Name, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &set.Segments); err != nil {
				return nil, err
			}
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

func (r *txRepository) GetIntercompanyRule(ctx context.Context, ledgerID int64, fromCompany, toCompany string) (IntercompanyRule, error) {
	var rule IntercompanyRule
	err := r.tx.QueryRow(ctx, `SELECT id, ledger_id, from_company, to_company, receivable_account, payable_account
FROM gl_intercompany_rules WHERE ledger_id=$1 AND from_company=$2 AND to_company=$3`, ledgerID, fromCompany, toCompany).
		Scan(&rule.ID, &rule.LedgerID, &rule.FromCompany, &rule.ToCompany, &rule.ReceivableAccount, &rule.PayableAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IntercompanyRule{}, ErrRuleNotFound
		}
		return IntercompanyRule{}, err
	}
	return rule, nil
}

func (r *txRepository) GetPeriod(ctx context.Context, ledgerID int64, name string) (Period, error) {
	var p Period
	err := r.tx.QueryRow(ctx, `SELECT ledger_id, name, start_date, end_date, status, updated_at
FROM gl_periods WHERE ledger_id=$1 AND name=$2 FOR SHARE`, ledgerID, name).
		Scan(&p.LedgerID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, ledgerID int64, name string, status PeriodStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_periods SET status=$3, updated_at=NOW() WHERE ledger_id=$1 AND name=$2`, ledgerID, name, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

func (r *txRepository) LatestExchangeRate(ctx context.Context, from, to, period string) (ExchangeRate, error) {
	var rate ExchangeRate
	err := r.tx.QueryRow(ctx, `SELECT from_currency, to_currency, period, rate, effective_at
FROM gl_exchange_rates WHERE from_currency=$1 AND to_currency=$2 AND period=$3
ORDER BY effective_at DESC LIMIT 1`, from, to, period).
		Scan(&rate.FromCurrency, &rate.ToCurrency, &rate.Period, &rate.Rate, &rate.EffectiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExchangeRate{}, ErrMissingExchangeRate
		}
		return ExchangeRate{}, err
	}
	return rate, nil
}

func (r *txRepository) InsertJournal(ctx context.Context, journal Journal) (Journal, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO gl_journals (ledger_id, period, currency, description, status, approval_status, source_module, source_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		journal.LedgerID, journal.Period, journal.Currency, journal.Description, journal.Status, journal.ApprovalStatus,
		journal.SourceModule, journal.SourceID, journal.CreatedBy)
	if err := row.Scan(&journal.ID, &journal.CreatedAt, &journal.UpdatedAt); err != nil {
		return Journal{}, err
	}
	lines, err := r.InsertJournalLines(ctx, journal.ID, journal.Lines)
	if err != nil {
		return Journal{}, err
	}
	journal.Lines = lines
	return journal, nil
}

func (r *txRepository) GetJournal(ctx context.Context, journalID int64) (Journal, error) {
	var j Journal
	err := r.tx.QueryRow(ctx, `SELECT id, ledger_id, period, currency, description, status, approval_status, source_module, source_id,
created_by, COALESCE(submitted_by, 0), posted_at, created_at, updated_at
FROM gl_journals WHERE id=$1`, journalID).
		Scan(&j.ID, &j.LedgerID, &j.Period, &j.Currency, &j.Description, &j.Status, &j.ApprovalStatus, &j.SourceModule, &j.SourceID,
			&j.CreatedBy, &j.SubmittedBy, &j.PostedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, ErrJournalNotFound
		}
		return Journal{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT l.id, l.journal_id, l.line_number, l.account_id, c.code, l.currency,
l.entered_debit, l.entered_credit, l.exchange_rate, l.accounted_debit, l.accounted_credit, l.description, l.source
FROM gl_journal_lines l JOIN gl_code_combinations c ON c.id = l.account_id
WHERE l.journal_id=$1 ORDER BY l.line_number`, journalID)
	if err != nil {
		return Journal{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalID, &line.LineNumber, &line.AccountID, &line.AccountCode, &line.Currency,
			&line.EnteredDebit, &line.EnteredCredit, &line.ExchangeRate, &line.AccountedDebit, &line.AccountedCredit,
			&line.Description, &line.Source); err != nil {
			return Journal{}, err
		}
		j.Lines = append(j.Lines, line)
	}
	return j, rows.Err()
}

func (r *txRepository) InsertJournalLines(ctx context.Context, journalID int64, lines []JournalLine) ([]JournalLine, error) {
	var next int
	if err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(line_number), 0) FROM gl_journal_lines WHERE journal_id=$1`, journalID).Scan(&next); err != nil {
		return nil, err
	}
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		next++
		line.JournalID = journalID
		line.LineNumber = next
		if line.Source == "" {
			line.Source = LineSourceUser
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO gl_journal_lines (journal_id, line_number, account_id, currency, entered_debit, entered_credit,
exchange_rate, accounted_debit, accounted_credit, description, source)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
			journalID, line.LineNumber, line.AccountID, line.Currency, line.EnteredDebit, line.EnteredCredit,
			line.ExchangeRate, line.AccountedDebit, line.AccountedCredit, line.Description, line.Source).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) TransitionJournalStatus(ctx context.Context, journalID int64, from, to JournalStatus, actorID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_journals SET status=$3, submitted_by=CASE WHEN $3='PROCESSING' THEN $4 ELSE submitted_by END, updated_at=NOW()
WHERE id=$1 AND status=$2`, journalID, from, to, actorID)
	if err != nil {
		if isPgCode(err, pgSerializationFailure) {
			return ErrJournalProcessing
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) MarkJournalPosted(ctx context.Context, journalID int64, postedAt time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_journals SET status='POSTED', posted_at=$2, updated_at=NOW() WHERE id=$1 AND status='PROCESSING'`, journalID, postedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) ListStaleJournals(ctx context.Context, status JournalStatus, updatedBefore time.Time, limit int) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM gl_journals WHERE status=$1 AND updated_at < $2 ORDER BY updated_at, id LIMIT $3`,
		status, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) UpdateJournalApproval(ctx context.Context, journalID int64, status ApprovalStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_journals SET approval_status=$2, updated_at=NOW() WHERE id=$1`, journalID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrJournalNotFound
	}
	return nil
}

// UpsertBalance increments one cube row in a single statement so concurrent
// posts touching the same cell never lose updates.
func (r *txRepository) UpsertBalance(ctx context.Context, delta BalanceDelta) (BalanceRow, error) {
	var b BalanceRow
	err := r.tx.QueryRow(ctx, `INSERT INTO gl_balances AS b (ledger_id, account_id, period, currency, period_net_dr, period_net_cr, begin_balance, end_balance)
VALUES ($1,$2,$3,$4,$5,$6,0,$5::numeric - $6::numeric)
ON CONFLICT (ledger_id, account_id, period, currency) DO UPDATE SET
	period_net_dr = b.period_net_dr + EXCLUDED.period_net_dr,
	period_net_cr = b.period_net_cr + EXCLUDED.period_net_cr,
	end_balance = b.begin_balance + (b.period_net_dr + EXCLUDED.period_net_dr) - (b.period_net_cr + EXCLUDED.period_net_cr),
	updated_at = NOW()
RETURNING ledger_id, account_id, period, currency, period_net_dr, period_net_cr, begin_balance, end_balance, updated_at`,
		delta.LedgerID, delta.AccountID, delta.Period, delta.Currency, delta.Debit, delta.Credit).
		Scan(&b.LedgerID, &b.AccountID, &b.Period, &b.Currency, &b.PeriodNetDebit, &b.PeriodNetCredit, &b.BeginBalance, &b.EndBalance, &b.UpdatedAt)
	return b, err
}

const balanceColumns = `b.ledger_id, b.account_id, c.code, b.period, b.currency, b.period_net_dr, b.period_net_cr, b.begin_balance, b.end_balance, b.updated_at`

func scanBalance(row pgx.Row) (BalanceRow, error) {
	var b BalanceRow
	err := row.Scan(&b.LedgerID, &b.AccountID, &b.AccountCode, &b.Period, &b.Currency, &b.PeriodNetDebit, &b.PeriodNetCredit, &b.BeginBalance, &b.EndBalance, &b.UpdatedAt)
	return b, err
}

func (r *txRepository) GetBalance(ctx context.Context, ledgerID, accountID int64, period, currency string) (BalanceRow, error) {
	b, err := scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+`
FROM gl_balances b JOIN gl_code_combinations c ON c.id = b.account_id
WHERE b.ledger_id=$1 AND b.account_id=$2 AND b.period=$3 AND b.currency=$4`, ledgerID, accountID, period, currency))
	if errors.Is(err, pgx.ErrNoRows) {
		return BalanceRow{}, ErrBalanceNotFound
	}
	return b, err
}

func (r *txRepository) ListBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+balanceColumns+`
FROM gl_balances b JOIN gl_code_combinations c ON c.id = b.account_id
WHERE b.ledger_id=$1 AND b.period=$2 AND ($3 = '' OR b.currency=$3)
ORDER BY c.code, b.currency`, filter.LedgerID, filter.Period, filter.Currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceRow
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) ListBudgetControlRules(ctx context.Context, ledgerID int64) ([]BudgetControlRule, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, ledger_id, account_filter, level FROM gl_budget_control_rules WHERE ledger_id=$1 ORDER BY id`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []BudgetControlRule
	for rows.Next() {
		var rule BudgetControlRule
		if err := rows.Scan(&rule.ID, &rule.LedgerID, &rule.AccountFilter, &rule.Level); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *txRepository) GetBudgetBalanceForUpdate(ctx context.Context, ledgerID int64, period string, accountID int64) (BudgetBalance, error) {
	var bal BudgetBalance
	err := r.tx.QueryRow(ctx, `SELECT bb.id, bb.budget_id, bb.period, bb.account_id, bb.budget_amount, bb.actual_amount, bb.encumbrance_amount
FROM gl_budget_balances bb JOIN gl_budgets bu ON bu.id = bb.budget_id
WHERE bu.ledger_id=$1 AND bu.status='OPEN' AND bb.period=$2 AND bb.account_id=$3
ORDER BY bu.id LIMIT 1 FOR UPDATE OF bb`, ledgerID, period, accountID).
		Scan(&bal.ID, &bal.BudgetID, &bal.Period, &bal.AccountID, &bal.BudgetAmount, &bal.ActualAmount, &bal.EncumbranceAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BudgetBalance{}, ErrBudgetBalanceNotFound
		}
		return BudgetBalance{}, err
	}
	return bal, nil
}

func (r *txRepository) AddBudgetActual(ctx context.Context, balanceID int64, amount decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE gl_budget_balances SET actual_amount = actual_amount + $2, updated_at=NOW() WHERE id=$1`, balanceID, amount)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrBudgetBalanceNotFound
	}
	return nil
}

func (r *txRepository) GetAllocationRule(ctx context.Context, ruleID int64) (AllocationRule, error) {
	var rule AllocationRule
	err := r.tx.QueryRow(ctx, `SELECT id, ledger_id, name, pool_filter, basis_filter, driver_segment, offset_account, target_pattern
FROM gl_allocation_rules WHERE id=$1`, ruleID).
		Scan(&rule.ID, &rule.LedgerID, &rule.Name, &rule.PoolFilter, &rule.BasisFilter, &rule.DriverSegment, &rule.OffsetAccount, &rule.TargetPattern)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AllocationRule{}, ErrRuleNotFound
		}
		return AllocationRule{}, err
	}
	return rule, nil
}

func (r *txRepository) GetReportDefinition(ctx context.Context, reportID int64) (ReportDefinition, error) {
	var def ReportDefinition
	if err := r.tx.QueryRow(ctx, `SELECT id, name FROM gl_reports WHERE id=$1`, reportID).Scan(&def.ID, &def.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReportDefinition{}, ErrReportNotFound
		}
		return ReportDefinition{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT row_number, label, row_type, COALESCE(account_min, ''), COALESCE(account_max, ''), COALESCE(formula, '')
FROM gl_report_rows WHERE report_id=$1 ORDER BY row_number`, reportID)
	if err != nil {
		return ReportDefinition{}, err
	}
	for rows.Next() {
		var row ReportRow
		if err := rows.Scan(&row.Number, &row.Label, &row.Type, &row.AccountMin, &row.AccountMax, &row.Formula); err != nil {
			rows.Close()
			return ReportDefinition{}, err
		}
		def.Rows = append(def.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ReportDefinition{}, err
	}
	cols, err := r.tx.Query(ctx, `SELECT position, label, amount_type FROM gl_report_columns WHERE report_id=$1 ORDER BY position`, reportID)
	if err != nil {
		return ReportDefinition{}, err
	}
	defer cols.Close()
	for cols.Next() {
		var col ReportColumn
		if err := cols.Scan(&col.Position, &col.Label, &col.AmountType); err != nil {
			return ReportDefinition{}, err
		}
		def.Columns = append(def.Columns, col)
	}
	return def, cols.Err()
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
