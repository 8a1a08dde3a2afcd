// Package memory provides an in-process ledger store with snapshot
// transactions. It backs engine tests and the glctl dry-run mode.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

type valueKey struct {
	set   int64
	value string
}

type periodKey struct {
	ledger int64
	name   string
}

type balanceKey struct {
	ledger   int64
	account  int64
	period   string
	currency string
}

type state struct {
	ledgers        map[int64]accounting.Ledger
	values         map[valueKey]accounting.SegmentValue
	accounts       map[int64]accounting.Account
	periods        map[periodKey]accounting.Period
	journals       map[int64]accounting.Journal
	balances       map[balanceKey]accounting.BalanceRow
	budgets        map[int64]accounting.Budget
	budgetBalances map[int64]accounting.BudgetBalance
	allocations    map[int64]accounting.AllocationRule
	reports        map[int64]accounting.ReportDefinition
	accessSets     map[int64][]accounting.DataAccessSet
	cvRules        []accounting.CrossValidationRule
	icRules        []accounting.IntercompanyRule
	controlRules   []accounting.BudgetControlRule
	rates          []accounting.ExchangeRate

	nextAccountID int64
	nextJournalID int64
	nextLineID    int64
	nextBalanceID int64
}

func newState() *state {
	return &state{
		ledgers:        make(map[int64]accounting.Ledger),
		values:         make(map[valueKey]accounting.SegmentValue),
		accounts:       make(map[int64]accounting.Account),
		periods:        make(map[periodKey]accounting.Period),
		journals:       make(map[int64]accounting.Journal),
		balances:       make(map[balanceKey]accounting.BalanceRow),
		budgets:        make(map[int64]accounting.Budget),
		budgetBalances: make(map[int64]accounting.BudgetBalance),
		allocations:    make(map[int64]accounting.AllocationRule),
		reports:        make(map[int64]accounting.ReportDefinition),
		accessSets:     make(map[int64][]accounting.DataAccessSet),
	}
}

func (s *state) clone() *state {
	out := *s
	out.ledgers = maps.Clone(s.ledgers)
	out.values = maps.Clone(s.values)
	out.accounts = maps.Clone(s.accounts)
	out.periods = maps.Clone(s.periods)
	out.journals = maps.Clone(s.journals)
	out.balances = maps.Clone(s.balances)
	out.budgets = maps.Clone(s.budgets)
	out.budgetBalances = maps.Clone(s.budgetBalances)
	out.allocations = maps.Clone(s.allocations)
	out.reports = maps.Clone(s.reports)
	out.accessSets = maps.Clone(s.accessSets)
	out.cvRules = slices.Clone(s.cvRules)
	out.icRules = slices.Clone(s.icRules)
	out.controlRules = slices.Clone(s.controlRules)
	out.rates = slices.Clone(s.rates)
	return &out
}

// Store is a mutex-guarded ledger store. Every WithTx call works on a copy
// of the state that replaces the committed state only when fn succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time

	// BeforeUpsertBalance, when set, runs before every cube write and may
	// fail it. Tests use it to inject commit-stage failures.
	BeforeUpsertBalance func(accounting.BalanceDelta) error
	// BeforeTransitionJournal, when set, runs before every journal status
	// change and may fail it.
	BeforeTransitionJournal func(journalID int64, from, to accounting.JournalStatus) error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithTx runs fn against a snapshot and commits it on success.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(ctx, &tx{store: s, st: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) mutate(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// AddLedger registers a ledger together with its structure.
func (s *Store) AddLedger(ledger accounting.Ledger) {
	s.mutate(func(st *state) { st.ledgers[ledger.ID] = ledger })
}

// AddSegmentValue registers a legal value in a value set.
func (s *Store) AddSegmentValue(value accounting.SegmentValue) {
	s.mutate(func(st *state) { st.values[valueKey{value.ValueSetID, value.Value}] = value })
}

// AddAccount registers an existing code combination and returns it with an id.
func (s *Store) AddAccount(account accounting.Account) accounting.Account {
	s.mutate(func(st *state) {
		if account.ID == 0 {
			st.nextAccountID++
			account.ID = st.nextAccountID
		} else if account.ID > st.nextAccountID {
			st.nextAccountID = account.ID
		}
		st.accounts[account.ID] = account
	})
	return account
}

// AddPeriod registers a period.
func (s *Store) AddPeriod(period accounting.Period) {
	s.mutate(func(st *state) { st.periods[periodKey{period.LedgerID, period.Name}] = period })
}

// AddCrossValidationRule registers a rule.
func (s *Store) AddCrossValidationRule(rule accounting.CrossValidationRule) {
	s.mutate(func(st *state) { st.cvRules = append(st.cvRules, rule) })
}

// AssignDataAccessSet grants a set to a user.
func (s *Store) AssignDataAccessSet(userID int64, set accounting.DataAccessSet) {
	s.mutate(func(st *state) { st.accessSets[userID] = append(slices.Clone(st.accessSets[userID]), set) })
}

// AddIntercompanyRule registers a directed company pair mapping.
func (s *Store) AddIntercompanyRule(rule accounting.IntercompanyRule) {
	s.mutate(func(st *state) { st.icRules = append(st.icRules, rule) })
}

// AddBudget registers a budget.
func (s *Store) AddBudget(budget accounting.Budget) {
	s.mutate(func(st *state) { st.budgets[budget.ID] = budget })
}

// AddBudgetBalance registers a budget balance and returns it with an id.
func (s *Store) AddBudgetBalance(balance accounting.BudgetBalance) accounting.BudgetBalance {
	s.mutate(func(st *state) {
		if balance.ID == 0 {
			st.nextBalanceID++
			balance.ID = st.nextBalanceID
		}
		st.budgetBalances[balance.ID] = balance
	})
	return balance
}

// AddBudgetControlRule registers a control rule.
func (s *Store) AddBudgetControlRule(rule accounting.BudgetControlRule) {
	s.mutate(func(st *state) { st.controlRules = append(st.controlRules, rule) })
}

// AddExchangeRate registers a rate.
func (s *Store) AddExchangeRate(rate accounting.ExchangeRate) {
	s.mutate(func(st *state) { st.rates = append(st.rates, rate) })
}

// AddAllocationRule registers an allocation rule.
func (s *Store) AddAllocationRule(rule accounting.AllocationRule) {
	s.mutate(func(st *state) { st.allocations[rule.ID] = rule })
}

// AddReport registers a report definition.
func (s *Store) AddReport(def accounting.ReportDefinition) {
	s.mutate(func(st *state) { st.reports[def.ID] = def })
}

// SetBalance seeds a cube row directly, bypassing posting.
func (s *Store) SetBalance(row accounting.BalanceRow) {
	s.mutate(func(st *state) {
		st.balances[balanceKey{row.LedgerID, row.AccountID, row.Period, row.Currency}] = row
	})
}

// Balances returns a copy of every cube row sorted by account, period and currency.
func (s *Store) Balances() []accounting.BalanceRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounting.BalanceRow, 0, len(s.state.balances))
	for _, row := range s.state.balances {
		row.AccountCode = s.state.accounts[row.AccountID].Code
		out = append(out, row)
	}
	sortBalances(out)
	return out
}

// Journal returns the committed journal.
func (s *Store) Journal(id int64) (accounting.Journal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.state.journals[id]
	return j, ok
}

// BudgetBalance returns the committed budget balance.
func (s *Store) BudgetBalance(id int64) (accounting.BudgetBalance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.budgetBalances[id]
	return b, ok
}

// Accounts returns every committed code combination ordered by id.
func (s *Store) Accounts() []accounting.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]accounting.Account, 0, len(s.state.accounts))
	for _, a := range s.state.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortBalances(rows []accounting.BalanceRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AccountCode != rows[j].AccountCode {
			return rows[i].AccountCode < rows[j].AccountCode
		}
		if rows[i].Period != rows[j].Period {
			return rows[i].Period < rows[j].Period
		}
		return rows[i].Currency < rows[j].Currency
	})
}
