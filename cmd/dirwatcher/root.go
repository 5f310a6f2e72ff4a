package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dirwatcher/dirwatcher/internal/config"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

// overrideFlags are the config values that can be set on the command line.
type overrideFlags struct {
	ext         string
	interval    config.Interval
	logLevel    string
	logFile     string
	journal     string
	auditLog    string
	postgresDSN string
	statusAddr  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "dirwatcher",
		Short:         "Watch a directory for a magic string",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")

	rootCmd.AddCommand(newWatchCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// bindOverrideFlags registers the config override flags on fs.
func bindOverrideFlags(fs *pflag.FlagSet, f *overrideFlags) {
	fs.StringVar(&f.ext, "ext", config.DefaultExtension, "file extension to scan")
	f.interval = config.Interval(config.DefaultInterval)
	fs.Var(&f.interval, "interval", `poll interval in seconds or as a duration ("2", "500ms")`)
	fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&f.logFile, "log-file", config.DefaultLogFile, `log file path ("-" disables)`)
	fs.StringVar(&f.journal, "journal", "", "SQLite event journal path")
	fs.StringVar(&f.auditLog, "audit-log", "", "hash-chained event trail path")
	fs.StringVar(&f.postgresDSN, "postgres-dsn", "", "PostgreSQL event store connection string")
	fs.StringVar(&f.statusAddr, "status-addr", "", "listen address for the status API")
}

// resolveConfig loads the config file (if any), applies positional
// arguments and explicitly set flags on top, then finalises the result.
func resolveConfig(path string, args []string, fs *pflag.FlagSet, f *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Directory = args[0]
	}
	if len(args) > 1 {
		cfg.Magic = args[1]
	}

	if fs.Changed("ext") {
		cfg.Extension = f.ext
	}
	if fs.Changed("interval") {
		cfg.Interval = f.interval
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if fs.Changed("journal") {
		cfg.Journal.Path = f.journal
	}
	if fs.Changed("audit-log") {
		cfg.Audit.Path = f.auditLog
	}
	if fs.Changed("postgres-dsn") {
		cfg.Postgres.DSN = f.postgresDSN
	}
	if fs.Changed("status-addr") {
		cfg.Status.Addr = f.statusAddr
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var f overrideFlags
	cmd := &cobra.Command{
		Use:   "validate [directory] [magic]",
		Short: "Load and validate the configuration",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts.configPath, args, cmd.Flags(), &f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (directory: %s, extension: %s, interval: %s)\n",
				cfg.Directory, cfg.Extension, cfg.Interval.Duration())
			return nil
		},
	}
	bindOverrideFlags(cmd.Flags(), &f)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dirwatcher version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
