package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/driver"
)

// newProbeCmd creates the 'probe' subcommand: a read-only smoke test that
// fetches the first listing page and optionally scrapes a few documents
// without writing anything.
func newProbeCmd() *cobra.Command {
	var (
		source string
		sample int
		scrape int
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check a source's listing and extraction without writing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if source == "" {
				return errors.New("--source is required")
			}
			listing, err := appInstance.Listing(source)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			page, err := listing.Page(cmd.Context(), driver.DefaultStartIndex)
			if err != nil {
				return fmt.Errorf("fetch first listing page: %w", err)
			}
			fmt.Fprintf(out, "%s: %d locators on page %d\n", source, len(page), driver.DefaultStartIndex)
			for _, locator := range page[:min(sample, len(page))] {
				fmt.Fprintf(out, "  %s\n", locator)
			}
			if scrape <= 0 || len(page) == 0 {
				return nil
			}

			scraper, err := appInstance.Scraper(source)
			if err != nil {
				return err
			}
			failed := 0
			for _, locator := range page[:min(scrape, len(page))] {
				result := scraper.Scrape(cmd.Context(), locator)
				if result.Outcome != crawler.OutcomeSuccess {
					failed++
				}
				printScrape(out, result)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d probe scrapes failed", failed, min(scrape, len(page)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source to probe")
	cmd.Flags().IntVar(&sample, "sample", 5, "locators to print from the first page")
	cmd.Flags().IntVar(&scrape, "scrape", 0, "documents to scrape (nothing is stored)")
	return cmd
}

func printScrape(out io.Writer, result crawler.ScrapeResult) {
	if result.Outcome != crawler.OutcomeSuccess {
		fmt.Fprintf(out, "- %s: %s (%s)\n", result.Locator, result.Outcome, result.Reason)
		return
	}
	r := result.Record
	fmt.Fprintf(out, "- %s: ok key=%q title=%q body=%d chars\n", result.Locator, r.NaturalKey, r.Title, len(r.Body))
}
