package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/report"
	"github.com/use-agent/harvest/store"
)

var (
	reportIn      string
	reportOut     string
	reportBaseURL string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Flatten a saved payload into one record per listing",
	Long: `Read a payload saved by "harvest scrape" and write the flattened listings
(address, link, price, building, realtor and brokerage contacts). Missing
values are written as "N/A"; missing lists as [].

No browser is launched.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportIn, "in", "i", "realtor_listings.json", "payload input file")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "listings_report.json", "report output file")
	reportCmd.Flags().StringVar(&reportBaseURL, "base-url", report.DefaultBaseURL, "prefix for listing links")
}

func runReport(cmd *cobra.Command, args []string) error {
	payload, err := os.ReadFile(reportIn)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	listings, err := report.Flatten(payload, report.WithBaseURL(reportBaseURL))
	if err != nil {
		return fmt.Errorf("%s: %w", reportIn, err)
	}
	if err := store.WriteJSON(reportOut, listings); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d listings, saved to %s\n", len(listings), reportOut)
	return nil
}
