// Package periods manages the fiscal period lifecycle of a ledger.
package periods

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// ValidateTransition checks a period status change. Future-entry periods
// open, open periods close, and closed periods may be reopened.
func ValidateTransition(current, target accounting.PeriodStatus) error {
	switch {
	case current == accounting.PeriodStatusFutureEntry && target == accounting.PeriodStatusOpen:
		return nil
	case current == accounting.PeriodStatusOpen && target == accounting.PeriodStatusClosed:
		return nil
	case current == accounting.PeriodStatusClosed && target == accounting.PeriodStatusOpen:
		return nil
	}
	return fmt.Errorf("%w: period %s -> %s", accounting.ErrInvalidStatus, current, target)
}

// Service applies period transitions with auditing.
type Service struct {
	store  accounting.Store
	audit  accounting.AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the period service.
func NewService(store accounting.Store, audit accounting.AuditPort, logger *slog.Logger) *Service {
	return &Service{store: store, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns one period.
func (s *Service) Get(ctx context.Context, ledgerID int64, name string) (accounting.Period, error) {
	var period accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		period, err = tx.GetPeriod(ctx, ledgerID, name)
		return err
	})
	return period, err
}

// Open moves a future-entry period to open.
func (s *Service) Open(ctx context.Context, ledgerID int64, name string, actorID int64) (accounting.Period, error) {
	return s.transition(ctx, ledgerID, name, actorID, accounting.PeriodStatusFutureEntry, "period.open")
}

// Close stops postings into an open period.
func (s *Service) Close(ctx context.Context, ledgerID int64, name string, actorID int64) (accounting.Period, error) {
	return s.transition(ctx, ledgerID, name, actorID, accounting.PeriodStatusOpen, "period.close")
}

// Reopen returns a closed period to open.
func (s *Service) Reopen(ctx context.Context, ledgerID int64, name string, actorID int64) (accounting.Period, error) {
	return s.transition(ctx, ledgerID, name, actorID, accounting.PeriodStatusClosed, "period.reopen")
}

func (s *Service) transition(ctx context.Context, ledgerID int64, name string, actorID int64, from accounting.PeriodStatus, action string) (accounting.Period, error) {
	target := accounting.PeriodStatusOpen
	if from == accounting.PeriodStatusOpen {
		target = accounting.PeriodStatusClosed
	}
	var period accounting.Period
	err := s.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		period, err = tx.GetPeriod(ctx, ledgerID, name)
		if err != nil {
			return err
		}
		if period.Status != from {
			return fmt.Errorf("%w: period %s is %s", accounting.ErrInvalidStatus, name, period.Status)
		}
		if err := ValidateTransition(period.Status, target); err != nil {
			return err
		}
		if err := tx.UpdatePeriodStatus(ctx, ledgerID, name, target); err != nil {
			return err
		}
		period.Status = target
		period.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return accounting.Period{}, err
	}
	s.log().Info("period transitioned",
		slog.Int64("ledger_id", ledgerID),
		slog.String("period", name),
		slog.String("from", string(from)),
		slog.String("to", string(target)))
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "gl_period",
			EntityID: strconv.FormatInt(ledgerID, 10) + ":" + name,
			Meta:     map[string]any{"before": string(from), "after": string(target)},
			At:       s.now(),
		}); err != nil {
			s.log().Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	return period, nil
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "periods"))
	}
	return slog.Default().With(slog.String("component", "periods"))
}
