package coa

import (
	"context"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/segments"
)

// RuleSource loads cross-validation rules.
type RuleSource interface {
	ListCrossValidationRules(ctx context.Context, ledgerID int64) ([]accounting.CrossValidationRule, error)
}

// CrossValidator blocks segment combinations that match both filters of an
// enabled rule.
type CrossValidator struct{}

// Check returns a *accounting.CombinationBlockedError for the first rule that
// blocks the combination.
func (CrossValidator) Check(ctx context.Context, rules RuleSource, ledger accounting.Ledger, values []string) error {
	list, err := rules.ListCrossValidationRules(ctx, ledger.ID)
	if err != nil {
		return err
	}
	named := ledger.Structure.Named(values)
	for _, rule := range list {
		if !rule.Enabled {
			continue
		}
		if blocks(rule, named) {
			msg := rule.Message
			if msg == "" {
				msg = rule.Name
			}
			return &accounting.CombinationBlockedError{
				Code:    ledger.Structure.Join(values),
				RuleID:  rule.ID,
				Message: msg,
			}
		}
	}
	return nil
}

func blocks(rule accounting.CrossValidationRule, named map[string]string) bool {
	if rule.IncludeFilter == "" || rule.ExcludeFilter == "" {
		return false
	}
	return segments.Match(named, rule.IncludeFilter) && segments.Match(named, rule.ExcludeFilter)
}
