package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/mirrorsync/internal/output"
	"github.com/agentstation/mirrorsync/pkg/logging"
)

// Execute runs the mirrorsync CLI application with the given arguments.
// This is the main entry point called from main.go.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "mirrorsync",
		Short:   "Mirror project records into per-manager tables",
		Version: a.version,
		Long: `Mirrorsync copies every project of the master table into a table owned by
each of its managers, and carries the managers' status edits back.

Required settings (environment, .env or .mirrorsync.yaml):
  NOTION_TOKEN      integration token
  PROJECTS_DB       master projects table
  MANAGERS_DB       managers registry table
  TEMPLATE_PAGE_ID  page copied into each new manager's page`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{
		ID:    "sync",
		Title: "Sync Commands:",
	})

	rootCmd.PersistentFlags().StringVar(&a.config.ConfigFile, "config", "", "config file (default is ./.mirrorsync.yaml or $HOME/.mirrorsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.config.Verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolVarP(&a.config.Quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().BoolVar(&a.config.NoColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&a.config.Format, "format", "o", "", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&a.config.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("mirrorsync {{.Version}}\n")

	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	configFile := mustGetString(cmd, "config")
	if configFile != "" {
		config, err := LoadConfig(configFile)
		if err != nil {
			return err
		}
		a.config = config
	}

	// These flags are defined as persistent flags in createRootCommand, so errors indicate programming errors
	verbose := mustGetBool(cmd, "verbose")
	quiet := mustGetBool(cmd, "quiet")
	noColor := mustGetBool(cmd, "no-color")
	format := mustGetString(cmd, "format")
	logLevel := mustGetString(cmd, "log-level")
	a.config.UpdateFromFlags(verbose, quiet, noColor, format, logLevel)

	if _, err := output.ParseFormat(a.config.Format); err != nil {
		return err
	}

	logger := NewLogger(a.config)
	a.logger = &logger
	logging.SetDefault(logger)
	return nil
}

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.NewForwardCommand())
	rootCmd.AddCommand(a.NewReverseCommand())
	rootCmd.AddCommand(a.NewReprovisionCommand())
	rootCmd.AddCommand(a.NewVersionCommand())
}

// ExitOnError is a helper that prints an error and exits with status 1.
// This is meant to be used in main.go for top-level error handling.
func ExitOnError(err error) {
	if err != nil {
		//nolint:errcheck // Ignoring write error since we're exiting anyway
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't exist.
// This should only be used for flags defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
