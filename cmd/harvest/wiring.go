package main

import (
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/scraper"
)

// newScraper wires the rod launcher, session and retry policy from cfg.
func newScraper(cfg *config.Config, metrics *scraper.Metrics) *scraper.Scraper {
	launcher := scraper.NewRodLauncher(cfg.Browser, cfg.Page.AttemptTimeout, metrics)
	return scraper.NewScraper(
		launcher,
		scraper.SessionConfigFrom(cfg),
		scraper.RetryPolicyFrom(cfg),
		scraper.WithMetrics(metrics),
		scraper.WithMaxConcurrent(int64(cfg.Browser.MaxConcurrent)),
	)
}
