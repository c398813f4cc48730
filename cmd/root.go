// Package cmd defines and implements the CLI commands for the webscraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/logging"
)

const defaultCheckpointDir = "./.scraper_state"

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	checkpointDir string
	verbose       bool
	metricsAddr   string
}

// appKeyType is the key for storing the app in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app holds the services built once per invocation.
type app struct {
	opts   *rootOptions
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "webscraper",
		Short: "Config-driven scraper with retries, pagination and resumable jobs.",
		Long: `webscraper crawls paginated listings described by a YAML file, extracts
records with CSS selectors and writes them to CSV, JSON lines, SQLite or
PostgreSQL. Jobs checkpoint their progress and can be resumed after an
interruption.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if opts.verbose {
				level = "debug"
			}
			logger, err := logging.NewWithOptions(logging.Options{Development: opts.verbose, Level: level})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			a := &app{opts: opts, logger: logger, out: cmd.OutOrStdout()}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := resolveApp(cmd.Context()); err == nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.checkpointDir, "checkpoint-dir", "d", "", "checkpoint directory (default from config, else "+defaultCheckpointDir+")")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /jobs on this address while a job runs")

	cmd.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newInitCmd(),
		newValidateCmd(),
		newJobsCmd(),
		newDeleteCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the running job, which
// then checkpoints as paused.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
