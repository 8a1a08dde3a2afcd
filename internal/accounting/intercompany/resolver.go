// Package intercompany synthesizes due-to/due-from lines for journals that
// cross company boundaries.
package intercompany

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/coa"
)

// Repository is the persistence surface for intercompany balancing.
type Repository interface {
	coa.Repository
	GetIntercompanyRule(ctx context.Context, ledgerID int64, fromCompany, toCompany string) (accounting.IntercompanyRule, error)
}

// Resolver balances per-company nets with greedy pairwise matching.
type Resolver struct {
	accounts *coa.Resolver
}

// NewResolver constructs a Resolver.
func NewResolver(accounts *coa.Resolver) *Resolver {
	if accounts == nil {
		accounts = coa.NewResolver()
	}
	return &Resolver{accounts: accounts}
}

type companyNet struct {
	company string
	net     decimal.Decimal
}

// Balance returns the lines that bring every company in journal to a zero
// net. Debtors are matched against creditors in order of first appearance,
// so the pairing is deterministic but not globally optimal. accounts must
// hold every account referenced by the journal lines.
func (r *Resolver) Balance(ctx context.Context, repo Repository, ledger accounting.Ledger, journal accounting.Journal, accounts map[int64]accounting.Account) ([]accounting.JournalLine, error) {
	idx := ledger.Structure.SegmentIndex(accounting.QualifierCompany)
	if idx < 0 {
		return nil, nil
	}
	nets, err := companyNets(journal, accounts, idx)
	if err != nil {
		return nil, err
	}
	settled := true
	for _, n := range nets {
		if !accounting.IsNegligible(n.net) {
			settled = false
			break
		}
	}
	if settled {
		return nil, nil
	}
	// Once any company is out of balance, sub-epsilon nets are settled too
	// or the residue would stay on the debtor.
	var debtors, creditors []companyNet
	for _, n := range nets {
		switch {
		case n.net.IsPositive():
			debtors = append(debtors, n)
		case n.net.IsNegative():
			creditors = append(creditors, companyNet{company: n.company, net: n.net.Neg()})
		}
	}
	if len(debtors) == 0 || len(creditors) == 0 {
		return nil, nil
	}

	var lines []accounting.JournalLine
	c := 0
	for _, debtor := range debtors {
		remaining := debtor.net
		for remaining.IsPositive() && c < len(creditors) {
			creditor := &creditors[c]
			matched := decimal.Min(remaining, creditor.net)
			rule, err := repo.GetIntercompanyRule(ctx, ledger.ID, debtor.company, creditor.company)
			if errors.Is(err, accounting.ErrRuleNotFound) {
				return nil, &accounting.IntercompanyRuleError{FromCompany: debtor.company, ToCompany: creditor.company}
			}
			if err != nil {
				return nil, err
			}
			payable, err := r.accounts.Resolve(ctx, repo, ledger.ID, rule.PayableAccount)
			if err != nil {
				return nil, fmt.Errorf("intercompany payable account %s: %w", rule.PayableAccount, err)
			}
			receivable, err := r.accounts.Resolve(ctx, repo, ledger.ID, rule.ReceivableAccount)
			if err != nil {
				return nil, fmt.Errorf("intercompany receivable account %s: %w", rule.ReceivableAccount, err)
			}
			desc := fmt.Sprintf("Intercompany %s/%s", debtor.company, creditor.company)
			lines = append(lines,
				functionalLine(ledger, payable, decimal.Zero, matched, desc),
				functionalLine(ledger, receivable, matched, decimal.Zero, desc),
			)
			remaining = remaining.Sub(matched)
			creditor.net = creditor.net.Sub(matched)
			if !creditor.net.IsPositive() {
				c++
			}
		}
	}
	return lines, nil
}

func companyNets(journal accounting.Journal, accounts map[int64]accounting.Account, idx int) ([]companyNet, error) {
	index := make(map[string]int)
	var out []companyNet
	for _, line := range journal.Lines {
		account, ok := accounts[line.AccountID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", accounting.ErrAccountNotFound, line.AccountID)
		}
		if idx >= len(account.Segments) {
			return nil, fmt.Errorf("%w: account %s", accounting.ErrSegmentCountMismatch, account.Code)
		}
		company := account.Segments[idx]
		i, seen := index[company]
		if !seen {
			i = len(out)
			index[company] = i
			out = append(out, companyNet{company: company, net: decimal.Zero})
		}
		out[i].net = out[i].net.Add(line.AccountedNet())
	}
	return out, nil
}

func functionalLine(ledger accounting.Ledger, account accounting.Account, debit, credit decimal.Decimal, desc string) accounting.JournalLine {
	return accounting.JournalLine{
		AccountID:       account.ID,
		AccountCode:     account.Code,
		Currency:        ledger.FunctionalCurrency,
		EnteredDebit:    debit,
		EnteredCredit:   credit,
		ExchangeRate:    decimal.NewFromInt(1),
		AccountedDebit:  debit,
		AccountedCredit: credit,
		Description:     desc,
		Source:          accounting.LineSourceIntercompany,
	}
}
