// Package budget implements budgetary funds control for postings.
package budget

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/segments"
)

// Repository is the persistence surface for funds checking.
type Repository interface {
	ListBudgetControlRules(ctx context.Context, ledgerID int64) ([]accounting.BudgetControlRule, error)
	GetBudgetBalanceForUpdate(ctx context.Context, ledgerID int64, period string, accountID int64) (accounting.BudgetBalance, error)
	AddBudgetActual(ctx context.Context, balanceID int64, amount decimal.Decimal) error
}

// Reservation is a passed check waiting to be recorded as actuals.
type Reservation struct {
	AccountID int64
	Code      string
	Amount    decimal.Decimal
	Level     accounting.ControlLevel
	BalanceID int64
}

// Checker compares spend against open budget balances.
type Checker struct {
	logger *slog.Logger
}

// NewChecker constructs a Checker.
func NewChecker(logger *slog.Logger) *Checker {
	return &Checker{logger: logger}
}

type spend struct {
	account accounting.Account
	amount  decimal.Decimal
}

// Check evaluates every account the journal debits on balance. Absolute
// breaches fail with *accounting.InsufficientFundsError, advisory breaches
// are logged. Accounts with no matching rule are not checked.
func (c *Checker) Check(ctx context.Context, repo Repository, ledger accounting.Ledger, journal accounting.Journal, accounts map[int64]accounting.Account) ([]Reservation, error) {
	rules, err := repo.ListBudgetControlRules(ctx, ledger.ID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	var out []Reservation
	for _, s := range netSpend(journal, accounts) {
		rule, ok := matchRule(rules, ledger.Structure, s.account)
		if !ok {
			continue
		}
		bal, err := repo.GetBudgetBalanceForUpdate(ctx, ledger.ID, journal.Period, s.account.ID)
		hasBalance := err == nil
		if err != nil && !errors.Is(err, accounting.ErrBudgetBalanceNotFound) {
			return nil, err
		}
		if rule.Level == accounting.ControlTrack {
			if hasBalance {
				out = append(out, Reservation{AccountID: s.account.ID, Code: s.account.Code, Amount: s.amount, Level: rule.Level, BalanceID: bal.ID})
			}
			continue
		}
		available := decimal.Zero
		if hasBalance {
			available = bal.Available()
		}
		if s.amount.GreaterThan(available) {
			if rule.Level == accounting.ControlAbsolute {
				return nil, &accounting.InsufficientFundsError{Code: s.account.Code, Requested: s.amount, Available: available}
			}
			c.log().Warn("advisory budget exceeded",
				slog.Int64("journal_id", journal.ID),
				slog.String("account", s.account.Code),
				slog.String("requested", s.amount.StringFixed(accounting.AmountScale)),
				slog.String("shortfall", s.amount.Sub(available).StringFixed(accounting.AmountScale)))
		}
		if hasBalance {
			out = append(out, Reservation{AccountID: s.account.ID, Code: s.account.Code, Amount: s.amount, Level: rule.Level, BalanceID: bal.ID})
		}
	}
	return out, nil
}

// Consume records passed reservations as actuals.
func (c *Checker) Consume(ctx context.Context, repo Repository, reservations []Reservation) error {
	for _, r := range reservations {
		if err := repo.AddBudgetActual(ctx, r.BalanceID, r.Amount); err != nil {
			return err
		}
	}
	return nil
}

func netSpend(journal accounting.Journal, accounts map[int64]accounting.Account) []spend {
	index := make(map[int64]int)
	var out []spend
	for _, line := range journal.Lines {
		i, ok := index[line.AccountID]
		if !ok {
			i = len(out)
			index[line.AccountID] = i
			out = append(out, spend{account: accounts[line.AccountID], amount: decimal.Zero})
		}
		out[i].amount = out[i].amount.Add(line.AccountedNet())
	}
	positive := out[:0]
	for _, s := range out {
		if s.amount.IsPositive() {
			positive = append(positive, s)
		}
	}
	return positive
}

func matchRule(rules []accounting.BudgetControlRule, structure accounting.COAStructure, account accounting.Account) (accounting.BudgetControlRule, bool) {
	for _, rule := range rules {
		if segments.MatchAccount(structure, account.Segments, rule.AccountFilter) {
			return rule, true
		}
	}
	return accounting.BudgetControlRule{}, false
}

func (c *Checker) log() *slog.Logger {
	if c != nil && c.logger != nil {
		return c.logger.With(slog.String("component", "funds_checker"))
	}
	return slog.Default().With(slog.String("component", "funds_checker"))
}
