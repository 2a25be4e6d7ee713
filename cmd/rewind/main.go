package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.kirha.ai/rewind"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes distinguish the error classes.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitResolution  = 3
	exitExecution   = 4
	exitEnvironment = 5
)

type options struct {
	configPath string
	verbose    bool

	getenv func(string) string
	open   func(cfg rewind.Config) (rewind.Migrator, error)
	logger rewind.Logger
}

func main() {
	opts := &options{
		getenv: os.Getenv,
		open:   openEngine,
	}

	rootCmd := newRootCmd(opts)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func openEngine(cfg rewind.Config) (rewind.Migrator, error) {
	return rewind.New(cfg)
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rewind",
		Short:         "Schema migration rollback tool",
		Long:          "rewind rolls back schema migrations, either by running down scripts or by restoring a schema snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.logger == nil {
				opts.logger = newLogger(opts.verbose)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newDownCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))
	cmd.AddCommand(newSnapshotsCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))

	return cmd
}

func newLogger(verbose bool) rewind.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)

	logger := zap.New(core).With(zap.String("run_id", uuid.NewString()))
	return rewind.NewZapLogger(logger)
}

// openMigrator builds the engine for a command, writing reports to the
// command's output.
func (o *options) openMigrator(cmd *cobra.Command) (rewind.Migrator, error) {
	cfg, err := loadConfig(o.configPath, o.getenv)
	if err != nil {
		return nil, err
	}

	cfg.Logger = o.logger
	cfg.Output = cmd.OutOrStdout()

	migrator, err := o.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return migrator, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, rewind.ErrExecution):
		return exitExecution
	case errors.Is(err, rewind.ErrResolution):
		return exitResolution
	case errors.Is(err, rewind.ErrEnvironment):
		return exitEnvironment
	case errors.Is(err, rewind.ErrUsage):
		return exitUsage
	default:
		return exitFailure
	}
}
