package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/report"
	"github.com/use-agent/harvest/scraper"
	"github.com/use-agent/harvest/store"
)

var (
	scrapeOut    string
	scrapeReport string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Harvest once and save the payload",
	Long: `Run a single harvest with the configured retry policy, save the raw
payload as indented JSON, and print the listing count.

With --report, the flattened listings are written as well.`,
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().StringVarP(&scrapeOut, "out", "o", "realtor_listings.json", "payload output file")
	scrapeCmd.Flags().StringVar(&scrapeReport, "report", "", "also write the flattened listings to this file")
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog := initLogger(cfg.Log, os.Stderr)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := newScraper(cfg, scraper.NewMetrics()).Fetch(ctx)
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}

	if err := store.WriteJSON(scrapeOut, outcome.Payload); err != nil {
		return err
	}
	slog.Info("payload saved", "path", scrapeOut)
	fmt.Fprintf(cmd.OutOrStdout(), "Found %d listings (%d attempt(s)), saved to %s\n",
		outcome.Listings, len(outcome.Attempts), scrapeOut)

	if scrapeReport != "" {
		listings, err := report.Flatten(outcome.Payload, report.WithBaseURL(cfg.Target.BaseURL))
		if err != nil {
			return err
		}
		if err := store.WriteJSON(scrapeReport, listings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report with %d listings saved to %s\n", len(listings), scrapeReport)
	}
	return nil
}
