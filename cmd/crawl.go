package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl per
// selected source in the foreground and exits.
func newCrawlCmd() *cobra.Command {
	var (
		sources  []string
		maxPages int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one incremental crawl per source",
		Long: `Walks each selected source's listing from the first page, scrapes every
locator that has not been ingested yet, and stops when the listing runs
dry, the crawl catches up with earlier runs, or --max-pages is reached.
Without --source every configured source is crawled in name order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if maxPages < 0 {
				return errors.New("--max-pages must be >= 0")
			}
			if len(sources) == 0 {
				sources = appInstance.Config().SourceNames()
			}
			if len(sources) == 0 {
				return fmt.Errorf("%w: no sources configured", crawler.ErrFatalConfiguration)
			}

			logger := appInstance.Logger()
			var errs []error
			for _, source := range sources {
				if cmd.Context().Err() != nil {
					break
				}
				summary, err := appInstance.Crawl(cmd.Context(), crawler.CrawlRequest{
					Source:   source,
					MaxPages: maxPages,
					Trigger:  "cli",
				})
				if err != nil {
					logger.Error("crawl failed", zap.String("source", source), zap.Error(err))
					errs = append(errs, fmt.Errorf("crawl %s: %w", source, err))
					continue
				}
				logger.Info("crawl finished",
					zap.String("source", source),
					zap.String("stop_reason", string(summary.StopReason)),
					zap.Int("pages_processed", summary.PagesProcessed),
					zap.Int("new_records", summary.NewRecordsFound),
					zap.Int("duplicates", summary.Duplicates),
					zap.Int("empty", summary.Empty),
					zap.Int("failures", summary.Failures),
				)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d pages, %d new records\n",
					source, summary.StopReason, summary.PagesProcessed, summary.NewRecordsFound)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source to crawl (repeatable; default all)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many listing pages (0 uses the config)")
	return cmd
}
