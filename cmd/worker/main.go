package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	store := accounting.NewRepository(pool)
	// Batch runs create journals that may post immediately; those go back
	// through the queue like any other submission.
	ledger := app.NewLedger(app.LedgerDeps{
		Store:      store,
		Audit:      shared.NewAuditLogger(pool),
		Redis:      redisClient,
		Config:     cfg,
		Logger:     logger,
		Dispatcher: jobs.NewPostingDispatcher(client, logger),
	})

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	postJob := jobs.NewJournalPostJob(ledger.Poster, logger, metrics)
	integrityJob := jobs.NewIntegrityJob(store, logger, metrics)
	batchJob := jobs.NewBatchJob(ledger.Revaluation, ledger.Allocation, logger, metrics)
	recoveryJob := jobs.NewRecoveryJob(ledger.Poster, cfg.ProcessingTimeout, logger, metrics)

	cron := []jobs.CronRegistration{
		{Spec: "@every " + cfg.RecoveryInterval.String(), Task: jobs.NewRecoveryTask()},
	}
	if cfg.IntegritySchedule != "" {
		for _, ledgerID := range cfg.IntegrityLedgers {
			task, err := jobs.NewIntegrityTask(ledgerID, "")
			if err != nil {
				logger.Error("build integrity task", slog.Int64("ledger_id", ledgerID), slog.Any("error", err))
				os.Exit(1)
			}
			cron = append(cron, jobs.CronRegistration{Spec: cfg.IntegritySchedule, Task: task})
		}
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskJournalPost, Handler: postJob.Handle},
			{Type: jobs.TaskIntegrityCheck, Handler: integrityJob.Handle},
			{Type: jobs.TaskRevaluation, Handler: batchJob.HandleRevaluation},
			{Type: jobs.TaskAllocation, Handler: batchJob.HandleAllocation},
			{Type: jobs.TaskJournalRecover, Handler: recoveryJob.Handle},
		},
		Cron:         cron,
		ErrorHandler: jobs.PostingErrorHandler(ledger.Poster, logger, metrics),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
