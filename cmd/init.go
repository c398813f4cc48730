package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/webscraper/internal/config"
)

const defaultSampleURL = "http://books.toscrape.com/"

func newInitCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a starter configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteSample(path, url); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created configuration file: %s\n", path)
			fmt.Fprintf(a.out, "Edit the selectors, then run: webscraper run %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&url, "url", "u", defaultSampleURL, "base URL to scrape")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate CONFIG",
		Short: "Check a configuration file without scraping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			rules := cfg.Rules()
			fmt.Fprintf(a.out, "Configuration is valid\n")
			fmt.Fprintf(a.out, "  Job ID:     %s\n", cfg.JobID())
			fmt.Fprintf(a.out, "  Base URL:   %s\n", cfg.BaseURL)
			fmt.Fprintf(a.out, "  Renderer:   %s\n", cfg.Renderer)
			fmt.Fprintf(a.out, "  Pagination: %s (max %d pages)\n", cfg.Pagination.Strategy, cfg.Pagination.MaxPages)
			fmt.Fprintf(a.out, "  Output:     %s\n", cfg.Output.Format)
			fmt.Fprintf(a.out, "  Fields:     %v\n", rules.FieldNames())
			return nil
		},
	}
}
