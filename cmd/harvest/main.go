package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/harvest/config"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Capture a listings search payload through a real browser",
	Long: `harvest loads the listings map page in headless Chromium, waits for the
page's own call to the listings search API, and returns that JSON payload.

Each run launches a dedicated browser and retries failed attempts up to the
configured limit. Configuration comes from defaults, an optional YAML file
(--config or HARVEST_CONFIG), then HARVEST_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides HARVEST_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, scrapeCmd, reportCmd)
}

// loadConfig applies the global flags on top of config.Load.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("HARVEST_CONFIG", configPath); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
