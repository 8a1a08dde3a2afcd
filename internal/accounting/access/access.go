// Package access enforces per-user, per-segment write authorization.
package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/segments"
)

// SetSource loads the active data access sets assigned to a user.
type SetSource interface {
	ListDataAccessSets(ctx context.Context, userID int64) ([]accounting.DataAccessSet, error)
}

// Checker evaluates data access sets.
//
// A user without any assignment is authorized everywhere. Once a user has
// assignments, only sets bound to the target ledger count, and any one of
// them authorizing the values is enough.
type Checker struct{}

// Authorize reports whether userID may write to the combination values on ledger.
func (Checker) Authorize(ctx context.Context, src SetSource, userID int64, ledger accounting.Ledger, values []string) (bool, error) {
	if userID == accounting.SystemUserID {
		return true, nil
	}
	sets, err := src.ListDataAccessSets(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(sets) == 0 {
		return true, nil
	}
	for _, set := range sets {
		if set.LedgerID != ledger.ID {
			continue
		}
		if allows(set, ledger.Structure, values) {
			return true, nil
		}
	}
	return false, nil
}

// Require fails with *accounting.AccessDeniedError naming account when
// userID may not write to it.
func (c Checker) Require(ctx context.Context, src SetSource, userID int64, ledger accounting.Ledger, account accounting.Account) error {
	ok, err := c.Authorize(ctx, src, userID, ledger, account.Segments)
	if err != nil {
		return err
	}
	if !ok {
		return &accounting.AccessDeniedError{UserID: userID, Code: account.Code}
	}
	return nil
}

func allows(set accounting.DataAccessSet, structure accounting.COAStructure, values []string) bool {
	for i, seg := range structure.Segments {
		expr := allowExpression(set.Segments, seg.Name)
		if expr == "" || strings.EqualFold(expr, "ALL") {
			continue
		}
		if i >= len(values) || !segments.Evaluate(values[i], expr) {
			return false
		}
	}
	return true
}

func allowExpression(m map[string]string, name string) string {
	if v, ok := m[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Service answers data access questions for collaborators.
type Service struct {
	store   accounting.Store
	checker Checker
	logger  *slog.Logger
}

// NewService constructs the data access service.
func NewService(store accounting.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CheckDataAccess reports whether userID may write to the combination values on ledgerID.
func (s *Service) CheckDataAccess(ctx context.Context, userID, ledgerID int64, values []string) (bool, error) {
	var allowed bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		ledger, err := tx.GetLedger(ctx, ledgerID)
		if err != nil {
			return err
		}
		if len(values) != len(ledger.Structure.Segments) {
			return accounting.ErrSegmentCountMismatch
		}
		allowed, err = s.checker.Authorize(ctx, tx, userID, ledger, values)
		return err
	})
	if err != nil {
		return false, err
	}
	if !allowed {
		s.log().Info("data access denied",
			slog.Int64("user_id", userID),
			slog.Int64("ledger_id", ledgerID),
			slog.String("segments", strings.Join(values, ",")))
	}
	return allowed, nil
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "data_access"))
	}
	return slog.Default().With(slog.String("component", "data_access"))
}
