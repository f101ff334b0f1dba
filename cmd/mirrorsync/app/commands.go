package app

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/mirrorsync"
	"github.com/agentstation/mirrorsync/internal/output"
	"github.com/agentstation/mirrorsync/pkg/run"
)

// passFunc is one of the engine's passes.
type passFunc func(*mirrorsync.Engine, context.Context, ...run.Option) (*run.Result, error)

// passFlags are the flags shared by the pass commands.
type passFlags struct {
	workers int
	timeout time.Duration
	runID   string
}

func (f *passFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "records processed concurrently (default from SYNC_WORKERS, 1)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "deadline for the whole pass (default from SYNC_TIMEOUT, none)")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "correlation id for logs (default random)")
}

func (f *passFlags) options(config *Config) []run.Option {
	workers, timeout := config.Workers, config.Timeout
	if f.workers > 0 {
		workers = f.workers
	}
	if f.timeout > 0 {
		timeout = f.timeout
	}
	return []run.Option{
		run.WithWorkers(workers),
		run.WithTimeout(timeout),
		run.WithRunID(f.runID),
		run.WithSubTables(config.SubTables),
	}
}

// runPass builds the engine, runs one pass and prints its result. The
// result is printed even when the pass fails part way.
func (a *App) runPass(cmd *cobra.Command, pass passFunc, opts []run.Option) error {
	ctx := a.withLogger(cmd.Context())
	engine, err := a.Engine(ctx)
	if err != nil {
		return err
	}

	result, err := pass(engine, ctx, opts...)
	if result != nil {
		format := output.DetectFormat(a.config.Format)
		if werr := output.WriteResult(cmd.OutOrStdout(), format, result); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// NewForwardCommand creates the forward command.
func (a *App) NewForwardCommand() *cobra.Command {
	var flags passFlags
	cmd := &cobra.Command{
		Use:     "forward",
		Aliases: []string{"sync"},
		GroupID: "sync",
		Short:   "Copy master projects into each manager's table",
		Long: `Forward scans the master projects table and upserts every project into
the table of each of its managers. Managers missing from the registry are
created, and new managers receive a copy of the template page.

Failures of single projects are reported and do not stop the pass.`,
		Example: `  mirrorsync forward
  mirrorsync sync --workers 4 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPass(cmd, (*mirrorsync.Engine).Forward, flags.options(a.config))
		},
	}
	flags.register(cmd)
	return cmd
}

// NewReverseCommand creates the reverse command.
func (a *App) NewReverseCommand() *cobra.Command {
	var (
		flags       passFlags
		noSubTables bool
	)
	cmd := &cobra.Command{
		Use:     "reverse",
		Aliases: []string{"reconcile"},
		GroupID: "sync",
		Short:   "Carry managers' status edits back to master",
		Long: `Reverse scans every manager's table and pushes rows the manager edited
back into the master projects table, then marks them as synced. It also
creates the expense sub-tables under each row when missing.`,
		Example: `  mirrorsync reverse
  mirrorsync reconcile --no-sub-tables`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := flags.options(a.config)
			if noSubTables {
				opts = append(opts, run.WithSubTables(false))
			}
			return a.runPass(cmd, (*mirrorsync.Engine).Reverse, opts)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&noSubTables, "no-sub-tables", false, "do not create sub-tables under mirror rows")
	return cmd
}

// NewReprovisionCommand creates the reprovision command.
func (a *App) NewReprovisionCommand() *cobra.Command {
	var flags passFlags
	cmd := &cobra.Command{
		Use:     "reprovision",
		GroupID: "sync",
		Short:   "Add template columns missing from managers' tables",
		Long: `Reprovision compares every manager's table with the template table and
adds the columns it lacks. Columns are never removed or retyped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPass(cmd, (*mirrorsync.Engine).Reprovision, flags.options(a.config))
		},
	}
	flags.register(cmd)
	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mirrorsync %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}
