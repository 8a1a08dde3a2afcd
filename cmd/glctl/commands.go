package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gl/cmd/glctl/cli"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reval"
)

func resolveCmd() *cobra.Command {
	var opts cli.ResolveOptions
	cmd := &cobra.Command{
		Use:   "resolve <code>",
		Short: "Resolve a segment string to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Output = output(cmd)
			opts.Code = args[0]
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.ResolveCommand(ctx, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.LedgerID, "ledger", 0, "ledger id")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate without creating the combination")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func postCmd() *cobra.Command {
	var opts cli.PostOptions
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a draft journal and wait for the outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Output = output(cmd)
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.PostCommand(ctx, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.JournalID, "journal", 0, "journal id")
	cmd.Flags().Int64Var(&opts.ActorID, "actor", 0, "acting user id")
	_ = cmd.MarkFlagRequired("journal")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func revalueCmd() *cobra.Command {
	var (
		input reval.RunInput
		async bool
	)
	cmd := &cobra.Command{
		Use:   "revalue",
		Short: "Revalue foreign currency balances for a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output(cmd)
			if async {
				return withJobs(cmd, func(ctx context.Context, q *cli.JobsCLI) int {
					info, err := q.EnqueueRevaluation(ctx, input)
					return cli.EnqueuedCommand(out, "revalue", info, err)
				})
			}
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.RevalueCommand(ctx, cli.RevalueOptions{Output: out, RunInput: input})
			})
		},
	}
	cmd.Flags().Int64Var(&input.LedgerID, "ledger", 0, "ledger id")
	cmd.Flags().StringVar(&input.Period, "period", "", "period name (YYYY-MM)")
	cmd.Flags().StringVar(&input.Currency, "currency", "", "foreign currency to revalue")
	cmd.Flags().StringVar(&input.OffsetAccount, "offset", "", "unrealized gain/loss account code")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue for the worker instead of running here")
	for _, name := range []string{"ledger", "period", "currency", "offset"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func allocateCmd() *cobra.Command {
	var (
		opts  cli.AllocateOptions
		async bool
	)
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Run a mass allocation rule for a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Output = output(cmd)
			if async {
				return withJobs(cmd, func(ctx context.Context, q *cli.JobsCLI) int {
					info, err := q.EnqueueAllocation(ctx, opts.AllocationID, opts.Period)
					return cli.EnqueuedCommand(opts.Output, "allocate", info, err)
				})
			}
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.AllocateCommand(ctx, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.AllocationID, "rule", 0, "allocation rule id")
	cmd.Flags().StringVar(&opts.Period, "period", "", "period name (YYYY-MM)")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue for the worker instead of running here")
	_ = cmd.MarkFlagRequired("rule")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func reportCmd() *cobra.Command {
	var opts cli.ReportOptions
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a financial statement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Output = output(cmd)
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.ReportCommand(ctx, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.ReportID, "report", 0, "report definition id")
	cmd.Flags().Int64Var(&opts.LedgerID, "ledger", 0, "ledger id")
	cmd.Flags().StringVar(&opts.Period, "period", "", "period name (YYYY-MM)")
	for _, name := range []string{"report", "ledger", "period"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func integrityCmd() *cobra.Command {
	var (
		opts  cli.IntegrityOptions
		async bool
	)
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Verify the balance cube for a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.Output = output(cmd)
			if async {
				return withJobs(cmd, func(ctx context.Context, q *cli.JobsCLI) int {
					info, err := q.EnqueueIntegrity(ctx, opts.LedgerID, opts.Period)
					return cli.EnqueuedCommand(opts.Output, "integrity", info, err)
				})
			}
			return withOps(cmd, func(ctx context.Context, ops *cli.OpsCLI) int {
				return ops.IntegrityCommand(ctx, opts)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.LedgerID, "ledger", 0, "ledger id")
	cmd.Flags().StringVar(&opts.Period, "period", "", "period name (YYYY-MM)")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue for the worker instead of running here")
	_ = cmd.MarkFlagRequired("ledger")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func queuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show posting and batch queue depth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(cmd, func(ctx context.Context, q *cli.JobsCLI) int {
				return q.QueuesCommand(ctx, output(cmd))
			})
		},
	}
}
