package coa

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// ValidationResult is the outcome of a dry-run validation.
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Service exposes account resolution to collaborators.
type Service struct {
	store    accounting.Store
	resolver *Resolver
	audit    accounting.AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the chart-of-accounts service.
func NewService(store accounting.Store, resolver *Resolver, audit accounting.AuditPort, logger *slog.Logger) *Service {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Service{store: store, resolver: resolver, audit: audit, logger: logger, now: time.Now}
}

// ResolveAccount returns the account for segmentString, creating it on first valid use.
func (s *Service) ResolveAccount(ctx context.Context, ledgerID int64, segmentString string) (accounting.Account, error) {
	var (
		account accounting.Account
		created bool
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		ledger, err := tx.GetLedger(ctx, ledgerID)
		if err != nil {
			return err
		}
		account, created, err = s.resolver.resolve(ctx, tx, ledger, ledger.Structure.Split(segmentString))
		return err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	if created {
		s.log().Info("code combination created", slog.Int64("ledger_id", ledgerID), slog.String("code", account.Code))
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  shared.ActorFromContext(ctx),
				Action:   "account.create",
				Entity:   "gl_code_combination",
				EntityID: strconv.FormatInt(account.ID, 10),
				Meta: map[string]any{
					"ledger_id":    ledgerID,
					"code":         account.Code,
					"account_type": string(account.AccountType),
				},
				At: s.now(),
			})
		}
	}
	return account, nil
}

// ValidateAccount checks values without creating an account. Only
// infrastructure failures and unknown ledgers are returned as errors.
func (s *Service) ValidateAccount(ctx context.Context, ledgerID int64, values []string) (ValidationResult, error) {
	return s.validate(ctx, ledgerID, func(accounting.Ledger) []string { return values })
}

// ValidateCode is ValidateAccount for a delimited segment string.
func (s *Service) ValidateCode(ctx context.Context, ledgerID int64, segmentString string) (ValidationResult, error) {
	return s.validate(ctx, ledgerID, func(ledger accounting.Ledger) []string {
		return ledger.Structure.Split(segmentString)
	})
}

func (s *Service) validate(ctx context.Context, ledgerID int64, values func(accounting.Ledger) []string) (ValidationResult, error) {
	var verr error
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		ledger, err := tx.GetLedger(ctx, ledgerID)
		if err != nil {
			return err
		}
		verr = s.resolver.Validate(ctx, tx, ledger, values(ledger))
		return nil
	})
	if err != nil {
		return ValidationResult{}, err
	}
	if verr != nil {
		code := accounting.ErrorCode(verr)
		if code == "INTERNAL" {
			return ValidationResult{}, verr
		}
		return ValidationResult{IsValid: false, Code: code, Error: verr.Error()}, nil
	}
	return ValidationResult{IsValid: true}, nil
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "coa_service"))
	}
	return slog.Default().With(slog.String("component", "coa_service"))
}
