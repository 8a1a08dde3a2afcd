package memory

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

type tx struct {
	store *Store
	st    *state
}

var _ accounting.Tx = (*tx)(nil)

func (t *tx) GetLedger(ctx context.Context, ledgerID int64) (accounting.Ledger, error) {
	l, ok := t.st.ledgers[ledgerID]
	if !ok {
		return accounting.Ledger{}, accounting.ErrLedgerNotFound
	}
	return l, nil
}

func (t *tx) GetSegmentValue(ctx context.Context, valueSetID int64, value string) (accounting.SegmentValue, error) {
	v, ok := t.st.values[valueKey{valueSetID, value}]
	if !ok {
		return accounting.SegmentValue{}, accounting.ErrSegmentValueNotFound
	}
	return v, nil
}

func (t *tx) GetAccount(ctx context.Context, accountID int64) (accounting.Account, error) {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return accounting.Account{}, accounting.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) FindAccountByCode(ctx context.Context, ledgerID int64, code string) (accounting.Account, error) {
	for _, a := range t.st.accounts {
		if a.LedgerID == ledgerID && a.Code == code {
			return a, nil
		}
	}
	return accounting.Account{}, accounting.ErrAccountNotFound
}

func (t *tx) InsertAccount(ctx context.Context, account accounting.Account) (accounting.Account, error) {
	if existing, err := t.FindAccountByCode(ctx, account.LedgerID, account.Code); err == nil {
		return existing, nil
	}
	t.st.nextAccountID++
	account.ID = t.st.nextAccountID
	account.Segments = slices.Clone(account.Segments)
	account.CreatedAt = t.store.now()
	t.st.accounts[account.ID] = account
	return account, nil
}

func (t *tx) ListCrossValidationRules(ctx context.Context, ledgerID int64) ([]accounting.CrossValidationRule, error) {
	var out []accounting.CrossValidationRule
	for _, r := range t.st.cvRules {
		if r.LedgerID == ledgerID && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) ListDataAccessSets(ctx context.Context, userID int64) ([]accounting.DataAccessSet, error) {
	return slices.Clone(t.st.accessSets[userID]), nil
}

func (t *tx) GetIntercompanyRule(ctx context.Context, ledgerID int64, fromCompany, toCompany string) (accounting.IntercompanyRule, error) {
	for _, r := range t.st.icRules {
		if r.LedgerID == ledgerID && r.FromCompany == fromCompany && r.ToCompany == toCompany {
			return r, nil
		}
	}
	return accounting.IntercompanyRule{}, accounting.ErrRuleNotFound
}

func (t *tx) GetPeriod(ctx context.Context, ledgerID int64, name string) (accounting.Period, error) {
	p, ok := t.st.periods[periodKey{ledgerID, name}]
	if !ok {
		return accounting.Period{}, accounting.ErrPeriodNotFound
	}
	return p, nil
}

func (t *tx) UpdatePeriodStatus(ctx context.Context, ledgerID int64, name string, status accounting.PeriodStatus) error {
	key := periodKey{ledgerID, name}
	p, ok := t.st.periods[key]
	if !ok {
		return accounting.ErrPeriodNotFound
	}
	p.Status = status
	p.UpdatedAt = t.store.now()
	t.st.periods[key] = p
	return nil
}

func (t *tx) LatestExchangeRate(ctx context.Context, from, to, period string) (accounting.ExchangeRate, error) {
	var (
		best  accounting.ExchangeRate
		found bool
	)
	for _, r := range t.st.rates {
		if r.FromCurrency != from || r.ToCurrency != to || r.Period != period {
			continue
		}
		if !found || !r.EffectiveAt.Before(best.EffectiveAt) {
			best, found = r, true
		}
	}
	if !found {
		return accounting.ExchangeRate{}, accounting.ErrMissingExchangeRate
	}
	return best, nil
}

func (t *tx) InsertJournal(ctx context.Context, journal accounting.Journal) (accounting.Journal, error) {
	t.st.nextJournalID++
	now := t.store.now()
	journal.ID = t.st.nextJournalID
	journal.CreatedAt = now
	journal.UpdatedAt = now
	lines := journal.Lines
	journal.Lines = nil
	t.st.journals[journal.ID] = journal
	inserted, err := t.InsertJournalLines(ctx, journal.ID, lines)
	if err != nil {
		return accounting.Journal{}, err
	}
	journal.Lines = inserted
	return journal, nil
}

func (t *tx) GetJournal(ctx context.Context, journalID int64) (accounting.Journal, error) {
	j, ok := t.st.journals[journalID]
	if !ok {
		return accounting.Journal{}, accounting.ErrJournalNotFound
	}
	j.Lines = slices.Clone(j.Lines)
	return j, nil
}

func (t *tx) InsertJournalLines(ctx context.Context, journalID int64, lines []accounting.JournalLine) ([]accounting.JournalLine, error) {
	j, ok := t.st.journals[journalID]
	if !ok {
		return nil, accounting.ErrJournalNotFound
	}
	next := len(j.Lines)
	out := make([]accounting.JournalLine, 0, len(lines))
	for _, line := range lines {
		next++
		t.st.nextLineID++
		line.ID = t.st.nextLineID
		line.JournalID = journalID
		line.LineNumber = next
		if line.Source == "" {
			line.Source = accounting.LineSourceUser
		}
		if a, ok := t.st.accounts[line.AccountID]; ok {
			line.AccountCode = a.Code
		}
		out = append(out, line)
	}
	j.Lines = append(slices.Clone(j.Lines), out...)
	t.st.journals[journalID] = j
	return out, nil
}

func (t *tx) TransitionJournalStatus(ctx context.Context, journalID int64, from, to accounting.JournalStatus, actorID int64) error {
	j, ok := t.st.journals[journalID]
	if !ok {
		return accounting.ErrJournalNotFound
	}
	if j.Status != from {
		return accounting.ErrInvalidStatus
	}
	if hook := t.store.BeforeTransitionJournal; hook != nil {
		if err := hook(journalID, from, to); err != nil {
			return err
		}
	}
	j.Status = to
	if to == accounting.JournalStatusProcessing {
		j.SubmittedBy = actorID
	}
	j.UpdatedAt = t.store.now()
	t.st.journals[journalID] = j
	return nil
}

func (t *tx) MarkJournalPosted(ctx context.Context, journalID int64, postedAt time.Time) error {
	j, ok := t.st.journals[journalID]
	if !ok {
		return accounting.ErrJournalNotFound
	}
	if j.Status != accounting.JournalStatusProcessing {
		return accounting.ErrInvalidStatus
	}
	j.Status = accounting.JournalStatusPosted
	j.PostedAt = &postedAt
	j.UpdatedAt = postedAt
	t.st.journals[journalID] = j
	return nil
}

func (t *tx) ListStaleJournals(ctx context.Context, status accounting.JournalStatus, updatedBefore time.Time, limit int) ([]int64, error) {
	var stale []accounting.Journal
	for _, j := range t.st.journals {
		if j.Status == status && j.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, j)
		}
	}
	slices.SortFunc(stale, func(a, b accounting.Journal) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	ids := make([]int64, 0, len(stale))
	for _, j := range stale {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (t *tx) UpdateJournalApproval(ctx context.Context, journalID int64, status accounting.ApprovalStatus) error {
	j, ok := t.st.journals[journalID]
	if !ok {
		return accounting.ErrJournalNotFound
	}
	j.ApprovalStatus = status
	j.UpdatedAt = t.store.now()
	t.st.journals[journalID] = j
	return nil
}

func (t *tx) UpsertBalance(ctx context.Context, delta accounting.BalanceDelta) (accounting.BalanceRow, error) {
	if hook := t.store.BeforeUpsertBalance; hook != nil {
		if err := hook(delta); err != nil {
			return accounting.BalanceRow{}, err
		}
	}
	key := balanceKey{delta.LedgerID, delta.AccountID, delta.Period, delta.Currency}
	row, ok := t.st.balances[key]
	if !ok {
		row = accounting.BalanceRow{
			LedgerID:        delta.LedgerID,
			AccountID:       delta.AccountID,
			Period:          delta.Period,
			Currency:        delta.Currency,
			PeriodNetDebit:  decimal.Zero,
			PeriodNetCredit: decimal.Zero,
			BeginBalance:    decimal.Zero,
		}
	}
	row.PeriodNetDebit = row.PeriodNetDebit.Add(delta.Debit)
	row.PeriodNetCredit = row.PeriodNetCredit.Add(delta.Credit)
	row.EndBalance = row.BeginBalance.Add(row.PeriodNet())
	row.UpdatedAt = t.store.now()
	t.st.balances[key] = row
	row.AccountCode = t.st.accounts[row.AccountID].Code
	return row, nil
}

func (t *tx) GetBalance(ctx context.Context, ledgerID, accountID int64, period, currency string) (accounting.BalanceRow, error) {
	row, ok := t.st.balances[balanceKey{ledgerID, accountID, period, currency}]
	if !ok {
		return accounting.BalanceRow{}, accounting.ErrBalanceNotFound
	}
	row.AccountCode = t.st.accounts[row.AccountID].Code
	return row, nil
}

func (t *tx) ListBalances(ctx context.Context, filter accounting.BalanceFilter) ([]accounting.BalanceRow, error) {
	var out []accounting.BalanceRow
	for _, row := range t.st.balances {
		if row.LedgerID != filter.LedgerID || row.Period != filter.Period {
			continue
		}
		if filter.Currency != "" && row.Currency != filter.Currency {
			continue
		}
		row.AccountCode = t.st.accounts[row.AccountID].Code
		out = append(out, row)
	}
	sortBalances(out)
	return out, nil
}

func (t *tx) ListBudgetControlRules(ctx context.Context, ledgerID int64) ([]accounting.BudgetControlRule, error) {
	var out []accounting.BudgetControlRule
	for _, r := range t.st.controlRules {
		if r.LedgerID == ledgerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) GetBudgetBalanceForUpdate(ctx context.Context, ledgerID int64, period string, accountID int64) (accounting.BudgetBalance, error) {
	var (
		best  accounting.BudgetBalance
		found bool
	)
	for _, bal := range t.st.budgetBalances {
		budget, ok := t.st.budgets[bal.BudgetID]
		if !ok || budget.LedgerID != ledgerID || budget.Status != accounting.BudgetOpen {
			continue
		}
		if bal.Period != period || bal.AccountID != accountID {
			continue
		}
		if !found || bal.BudgetID < best.BudgetID {
			best, found = bal, true
		}
	}
	if !found {
		return accounting.BudgetBalance{}, accounting.ErrBudgetBalanceNotFound
	}
	return best, nil
}

func (t *tx) AddBudgetActual(ctx context.Context, balanceID int64, amount decimal.Decimal) error {
	bal, ok := t.st.budgetBalances[balanceID]
	if !ok {
		return accounting.ErrBudgetBalanceNotFound
	}
	bal.ActualAmount = bal.ActualAmount.Add(amount)
	t.st.budgetBalances[balanceID] = bal
	return nil
}

func (t *tx) GetAllocationRule(ctx context.Context, ruleID int64) (accounting.AllocationRule, error) {
	r, ok := t.st.allocations[ruleID]
	if !ok {
		return accounting.AllocationRule{}, accounting.ErrRuleNotFound
	}
	return r, nil
}

func (t *tx) GetReportDefinition(ctx context.Context, reportID int64) (accounting.ReportDefinition, error) {
	def, ok := t.st.reports[reportID]
	if !ok {
		return accounting.ReportDefinition{}, accounting.ErrReportNotFound
	}
	return def, nil
}
