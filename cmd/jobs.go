package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/config"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const maxURLWidth = 40

// storeFor opens the checkpoint store named by an optional config file.
func (a *app) storeFor(ctx context.Context, configPath string) (scraper.CheckpointStore, func() error, error) {
	if configPath == "" {
		return a.openCheckpoints(ctx, nil)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return a.openCheckpoints(ctx, &cfg)
}

func newJobsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List checkpointed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, closeStore, err := a.storeFor(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					a.logger.Warn("close checkpoint store", zap.Error(err))
				}
			}()

			jobs, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(a.out, "No saved jobs found")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB ID\tURL\tPAGES\tITEMS\tPENDING\tSTATUS\tUPDATED")
			for _, job := range jobs {
				pages := job.Counters.Succeeded + job.Counters.Failed + job.Counters.Skipped
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					job.ID,
					truncate(job.BaseURL, maxURLWidth),
					pages,
					job.Counters.Records,
					job.Pending,
					job.Status,
					job.UpdatedAt.Local().Format(time.DateTime),
				)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write jobs table: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "read the checkpoint backend from this configuration")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "delete JOB_ID",
		Short: "Delete a job checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			store, closeStore, err := a.storeFor(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					a.logger.Warn("close checkpoint store", zap.Error(err))
				}
			}()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete job %s: %w", args[0], err)
			}
			fmt.Fprintf(a.out, "Deleted job %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "read the checkpoint backend from this configuration")
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
