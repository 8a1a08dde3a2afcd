package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/cmd/glctl/cli"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/app"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

// exitError carries a command's exit code back to main.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func codeErr(code int) error {
	if code == cli.ExitOK {
		return nil
	}
	return exitError(code)
}

var jsonOutput bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()

	var code exitError
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitError)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "glctl",
		Short:         "General ledger operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a summary")
	root.AddCommand(
		resolveCmd(),
		postCmd(),
		revalueCmd(),
		allocateCmd(),
		reportCmd(),
		integrityCmd(),
		queuesCmd(),
	)
	return root
}

func output(cmd *cobra.Command) cli.Output {
	return cli.Output{JSONOutput: jsonOutput, Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
}

// session holds the connections one command invocation needs.
type session struct {
	cfg     *app.Config
	logger  *slog.Logger
	ops     *cli.OpsCLI
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openSession connects to Postgres and Redis. Postings triggered from the
// CLI run in-process so the command can report their outcome.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	s := &session{cfg: cfg, logger: app.NewLogger(cfg)}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = redisClient.Close() })

	store := accounting.NewRepository(pool)
	ledger := app.NewLedger(app.LedgerDeps{
		Store:  store,
		Audit:  shared.NewAuditLogger(pool),
		Redis:  redisClient,
		Config: cfg,
		Logger: s.logger,
	})
	s.ops, err = cli.NewOpsCLI(ledger, jobs.NewIntegrityJob(store, s.logger, nil))
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// withOps runs fn against a fresh session.
func withOps(cmd *cobra.Command, fn func(ctx context.Context, ops *cli.OpsCLI) int) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	return codeErr(fn(cmd.Context(), s.ops))
}

// withJobs runs fn against the task queue.
func withJobs(cmd *cobra.Command, fn func(ctx context.Context, q *cli.JobsCLI) int) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	q, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()
	return codeErr(fn(cmd.Context(), q))
}
