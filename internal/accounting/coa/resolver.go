// Package coa resolves delimited segment strings into code combinations.
package coa

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Repository is the persistence surface required by the resolver.
type Repository interface {
	RuleSource
	GetLedger(ctx context.Context, ledgerID int64) (accounting.Ledger, error)
	GetSegmentValue(ctx context.Context, valueSetID int64, value string) (accounting.SegmentValue, error)
	FindAccountByCode(ctx context.Context, ledgerID int64, code string) (accounting.Account, error)
	InsertAccount(ctx context.Context, account accounting.Account) (accounting.Account, error)
}

// Resolver is the only component that creates accounts.
type Resolver struct {
	cvr CrossValidator
}

// NewResolver constructs a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the account for code, creating it after validation when it
// does not exist yet. Existing accounts are returned as they are.
func (r *Resolver) Resolve(ctx context.Context, repo Repository, ledgerID int64, code string) (accounting.Account, error) {
	ledger, err := repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return accounting.Account{}, err
	}
	account, _, err := r.resolve(ctx, repo, ledger, ledger.Structure.Split(code))
	return account, err
}

// ResolveSegments is Resolve for already split values on a loaded ledger.
func (r *Resolver) ResolveSegments(ctx context.Context, repo Repository, ledger accounting.Ledger, values []string) (accounting.Account, error) {
	account, _, err := r.resolve(ctx, repo, ledger, values)
	return account, err
}

func (r *Resolver) resolve(ctx context.Context, repo Repository, ledger accounting.Ledger, values []string) (accounting.Account, bool, error) {
	code := ledger.Structure.Join(values)
	existing, err := repo.FindAccountByCode(ctx, ledger.ID, code)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, accounting.ErrAccountNotFound) {
		return accounting.Account{}, false, err
	}
	accountType, err := r.validate(ctx, repo, ledger, values)
	if err != nil {
		return accounting.Account{}, false, err
	}
	created, err := repo.InsertAccount(ctx, accounting.Account{
		LedgerID:    ledger.ID,
		Code:        code,
		Segments:    append([]string(nil), values...),
		AccountType: accountType,
		Enabled:     true,
	})
	if err != nil {
		return accounting.Account{}, false, err
	}
	return created, true, nil
}

// Validate runs shape, value set and cross-validation checks without
// persisting anything.
func (r *Resolver) Validate(ctx context.Context, repo Repository, ledger accounting.Ledger, values []string) error {
	_, err := r.validate(ctx, repo, ledger, values)
	return err
}

func (r *Resolver) validate(ctx context.Context, repo Repository, ledger accounting.Ledger, values []string) (accounting.AccountType, error) {
	structure := ledger.Structure
	if len(values) != len(structure.Segments) {
		return "", fmt.Errorf("%w: expected %d segments, got %d", accounting.ErrSegmentCountMismatch, len(structure.Segments), len(values))
	}
	natural := structure.SegmentIndex(accounting.QualifierNaturalAccount)
	var accountType accounting.AccountType
	for i, seg := range structure.Segments {
		value := values[i]
		if value == "" {
			return "", &accounting.InvalidSegmentError{Segment: seg.Name, Value: value, Reason: "value required"}
		}
		sv, err := repo.GetSegmentValue(ctx, seg.ValueSetID, value)
		if errors.Is(err, accounting.ErrSegmentValueNotFound) {
			return "", &accounting.InvalidSegmentError{Segment: seg.Name, Value: value, Reason: "not in value set"}
		}
		if err != nil {
			return "", err
		}
		if !sv.Enabled {
			return "", &accounting.InvalidSegmentError{Segment: seg.Name, Value: value, Reason: "value disabled"}
		}
		if sv.AccountType != "" && (i == natural || (natural < 0 && accountType == "")) {
			accountType = sv.AccountType
		}
	}
	if err := r.cvr.Check(ctx, repo, ledger, values); err != nil {
		return "", err
	}
	return accountType, nil
}
