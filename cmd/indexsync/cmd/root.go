// Package cmd provides the CLI commands for indexsync.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/config"
	"github.com/Aman-CERP/indexsync/internal/logging"
	"github.com/Aman-CERP/indexsync/internal/profiling"
	"github.com/Aman-CERP/indexsync/pkg/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	projectDir string
	logLevel   string
	logFile    string
	profile    profiling.Options
}

// NewRootCmd creates the root command for the indexsync CLI.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var (
		loggingCleanup func()
		profiler       *profiling.Session
	)

	cmd := &cobra.Command{
		Use:   "indexsync",
		Short: "Keep full-text indexes in step with entity changes",
		Long: `indexsync applies entity changes to bleve full-text indexes, either
locally or by shipping work queues to the master node of each index over
NATS, and rebuilds indexes from the entity store with the mass indexer.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := setupLogging(cmd, flags)
			if err != nil {
				return err
			}
			loggingCleanup = cleanup
			if flags.profile.Enabled() {
				if profiler, err = profiling.Start(flags.profile); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if err := profiler.Stop(); err != nil {
				return err
			}
			profiler = nil
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
			return nil
		},
	}
	cmd.SetVersionTemplate("indexsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "Config file (default: .indexsync.yaml in --dir merged with user config)")
	cmd.PersistentFlags().StringVar(&flags.projectDir, "dir", ".", "Project directory")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "Write JSON logs to this file")

	cmd.PersistentFlags().StringVar(&flags.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&flags.profile.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&flags.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newReindexCmd(flags))
	cmd.AddCommand(newEnqueueCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// loadConfig resolves the configuration for a command.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configFile != "" {
		cfg, err = config.LoadFile(flags.configFile)
	} else {
		cfg, err = config.Load(flags.projectDir)
	}
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFile != "" {
		cfg.Logging.File = flags.logFile
	}
	return cfg, nil
}

// setupLogging installs the default logger. Config errors are left to the
// command itself so that "config init" works on a broken config.
func setupLogging(cmd *cobra.Command, flags *globalFlags) (func(), error) {
	lc := logging.DefaultConfig()
	if cfg, err := loadConfig(flags); err == nil {
		lc.Level = cfg.Logging.Level
		lc.FilePath = cfg.Logging.File
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
		lc.MaxFiles = cfg.Logging.MaxFiles
		// A log file replaces stderr so terminal output stays readable.
		lc.WriteToStderr = lc.FilePath == ""
	} else if flags.logLevel != "" {
		lc.Level = flags.logLevel
	}
	if !logging.ValidLevel(lc.Level) {
		return nil, fmt.Errorf("invalid log level %q", lc.Level)
	}

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger.With(slog.String("command", cmd.Name())))
	return cleanup, nil
}
