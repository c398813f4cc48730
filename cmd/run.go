package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/api"
	"github.com/JakeFAU/webscraper/internal/clock/system"
	"github.com/JakeFAU/webscraper/internal/config"
	"github.com/JakeFAU/webscraper/internal/id/uuid"
	"github.com/JakeFAU/webscraper/internal/logging"
	"github.com/JakeFAU/webscraper/internal/scheduler"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

type runOptions struct {
	overrides config.Overrides
	jobID     string
	freshID   bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run CONFIG",
		Short: "Run a scrape job described by a configuration file",
		Long: `Loads CONFIG, applies the command-line overrides and scrapes until the
pagination frontier is exhausted. Interrupting the job with Ctrl-C checkpoints
it as paused so it can be continued with "resume".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := config.Load(args[0], opts.overrides)
			if err != nil {
				return err
			}

			jobID := opts.jobID
			switch {
			case jobID != "":
			case opts.freshID:
				if jobID, err = uuid.New().NewJobID(); err != nil {
					return fmt.Errorf("generate job id: %w", err)
				}
			default:
				jobID = cfg.JobID()
			}

			state, err := scheduler.NewJob(jobID, cfg.BaseURL, cfg.Cursor(), system.New().Now())
			if err != nil {
				return err
			}
			return a.execute(cmd.Context(), cfg, state)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.overrides.OutputPath, "output", "o", "", "override output path")
	flags.StringVarP(&opts.overrides.Format, "format", "f", "", "override output format (csv, json, sqlite, postgresql); json writes JSON Lines to a .jsonl file")
	flags.IntVarP(&opts.overrides.MaxPages, "max-pages", "p", 0, "override max pages per branch")
	flags.IntVarP(&opts.overrides.Concurrency, "concurrency", "c", 0, "override worker count")
	flags.StringVar(&opts.jobID, "job-id", "", "job id (default derived from base_url and item_container)")
	flags.BoolVar(&opts.freshID, "fresh-id", false, "use a random job id instead of the derived one")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var (
		configPath  string
		retryFailed bool
	)
	cmd := &cobra.Command{
		Use:   "resume JOB_ID",
		Short: "Continue a paused or failed job from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Resume.Enabled {
				return errors.New("resume.enabled is false in the configuration")
			}

			store, closeStore, err := a.openCheckpoints(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			state, err := store.Load(cmd.Context(), args[0])
			if closeErr := closeStore(); closeErr != nil {
				a.logger.Warn("close checkpoint store", zap.Error(closeErr))
			}
			if err != nil {
				return fmt.Errorf("load job %s: %w", args[0], err)
			}
			if state.BaseURL != cfg.BaseURL {
				a.logger.Warn("configuration base_url differs from the checkpointed job",
					zap.String("job_base_url", state.BaseURL),
					zap.String("config_base_url", cfg.BaseURL),
				)
			}

			state, err = scheduler.PrepareResume(state, scheduler.ResumeOptions{RetryFailed: retryFailed})
			if err != nil {
				return err
			}
			// The checkpointed cursor carries branch depths; the ceiling follows the config.
			state.Cursor.MaxPages = cfg.Pagination.MaxPages
			fmt.Fprintf(a.out, "Resuming job %s: %d pages done, %d pending\n",
				state.ID, len(state.Visited), len(state.Frontier))
			return a.execute(cmd.Context(), cfg, state)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "configuration the job was started with")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "re-queue pages whose retries were exhausted")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// execute runs state until it completes, pauses or fails and prints a summary.
func (a *app) execute(ctx context.Context, cfg config.Config, state scraper.JobState) error {
	logger := logging.ForJob(a.logger, state.ID)

	var cl closers
	defer cl.close(logger)

	store, closeStore, err := a.openCheckpoints(ctx, &cfg)
	if err != nil {
		return err
	}
	cl.add(closeStore)

	s, err := newScheduler(ctx, cfg, store, logger, &cl)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	serveCtx, stopServe := context.WithCancel(context.WithoutCancel(ctx))
	if a.opts.metricsAddr != "" {
		srv := api.NewServer(store, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(serveCtx, a.opts.metricsAddr); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}
	defer func() {
		stopServe()
		wg.Wait()
	}()

	res := s.Run(ctx, state)
	a.printResult(res, cfg)
	if res.Status == scraper.JobStatusFailed {
		return fmt.Errorf("%w: job %s: %w", errJobFailed, res.JobID, res.Err)
	}
	return nil
}

func (a *app) printResult(res scheduler.Result, cfg config.Config) {
	fmt.Fprintf(a.out, "Job %s %s: %d succeeded, %d failed, %d skipped, %d records\n",
		res.JobID, res.Status, res.Succeeded, res.Failed, res.Skipped, res.Records)
	switch res.Status {
	case scraper.JobStatusCompleted:
		if path := cfg.OutputPath(); path != "" {
			fmt.Fprintf(a.out, "Output written to %s\n", path)
		}
	case scraper.JobStatusPaused:
		fmt.Fprintf(a.out, "%d pages pending. Continue with: webscraper resume %s --config <CONFIG>\n",
			res.Pending, res.JobID)
	case scraper.JobStatusFailed:
		fmt.Fprintf(a.out, "Job %s failed: %v\n", res.JobID, res.Err)
	}
}
