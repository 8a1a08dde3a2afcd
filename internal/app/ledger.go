package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/access"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/allocation"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/coa"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/fsg"
	glhttp "github.com/odyssey-erp/odyssey-gl/internal/accounting/http"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

// LedgerDeps are the infrastructure handles the ledger services run on.
type LedgerDeps struct {
	Store  accounting.Store
	Audit  accounting.AuditPort
	Redis  *redis.Client
	Config *Config
	Logger *slog.Logger
	// Dispatcher schedules posted journals. Nil processes them in-process.
	Dispatcher journals.Dispatcher
}

// Ledger bundles the wired general ledger services shared by the API
// server, the worker and the CLI.
type Ledger struct {
	Resolver    *coa.Resolver
	Accounts    *coa.Service
	Access      *access.Service
	Periods     *periods.Service
	Poster      *journals.Poster
	Journals    *journals.Service
	Revaluation *reval.Engine
	Allocation  *allocation.Engine
	Reports     *fsg.Generator
	Cache       *fsg.Cache
	Idempotency *shared.IdempotencyStore
	// Inline is set when postings run in-process.
	Inline *journals.InlineDispatcher
}

// NewLedger wires the ledger services over deps.
func NewLedger(deps LedgerDeps) *Ledger {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{PostingMode: PostingModeInline}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolver := coa.NewResolver()
	poster := journals.NewPoster(deps.Store, resolver, deps.Dispatcher, deps.Audit, logger)
	l := &Ledger{
		Resolver: resolver,
		Accounts: coa.NewService(deps.Store, resolver, deps.Audit, logger),
		Access:   access.NewService(deps.Store, logger),
		Periods:  periods.NewService(deps.Store, deps.Audit, logger),
		Poster:   poster,
		Cache:    fsg.NewCache(deps.Redis, cfg.ReportCacheTTL),
	}
	if deps.Dispatcher == nil {
		l.Inline = journals.NewInlineDispatcher(poster.Process, logger).WithRelease(poster.Release)
		poster.SetDispatcher(l.Inline)
	}
	poster.Observe(l.Cache.Invalidator(logger))

	l.Journals = journals.NewService(deps.Store, resolver, poster, deps.Audit, logger)

	locker := shared.NewRedisLocker(deps.Redis, cfg.BatchLockTTL)
	if deps.Redis != nil {
		l.Idempotency = shared.NewIdempotencyStore(deps.Redis, cfg.IdempotencyTTL)
	}
	l.Revaluation = reval.NewEngine(deps.Store, l.Journals, locker, deps.Audit, logger)
	l.Allocation = allocation.NewEngine(deps.Store, l.Journals, locker, deps.Audit, logger)
	l.Reports = fsg.NewGenerator(deps.Store, l.Cache, logger)
	return l
}

// Listen follows report cache bumps from other processes until ctx ends.
func (l *Ledger) Listen(ctx context.Context) {
	l.Cache.Listen(ctx)
}

// RecoverStale releases journals stuck in Processing every interval until
// ctx ends. Processes without a worker run it next to the inline dispatcher.
func (l *Ledger) RecoverStale(ctx context.Context, interval, olderThan time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, err := l.Poster.RecoverStale(ctx, olderThan, 500)
			if err != nil && ctx.Err() == nil {
				logger.Warn("recover stale journals", slog.Any("error", err))
			}
			if released > 0 {
				logger.Warn("released stale journals", slog.Int("count", released))
			}
		}
	}
}

// HTTPServices exposes the services the ledger API handler needs.
func (l *Ledger) HTTPServices() glhttp.Services {
	return glhttp.Services{
		Journals:    l.Journals,
		Poster:      l.Poster,
		Accounts:    l.Accounts,
		Access:      l.Access,
		Periods:     l.Periods,
		Revaluation: l.Revaluation,
		Allocation:  l.Allocation,
		Reports:     l.Reports,
		Idempotency: l.Idempotency,
	}
}
