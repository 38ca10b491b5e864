package cli

import (
	"github.com/spf13/cobra"
)

// Execute builds and runs the CLI.
func Execute() error {
	var (
		cfgFile  string
		logLevel string
	)

	rootCmd := &cobra.Command{
		Use:   "importpipe",
		Short: "An event routing import engine for CSV, JSON, YAML, log file, Elasticsearch and journal data",
		Long: `importpipe reads records from configured datasources, flattens them into
keyed value events and routes every event through a pipeline of actions.
Actions convert, classify and collect values into records that are written
to endpoints (stdout, json, csv, elasticsearch, bolt, sql, mongo, loki,
victorialogs).

Imports run once (run) or on a cron schedule (schedule). Every run is
recorded in the optional run store and exported as Prometheus metrics.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./importpipe.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		NewRunCmd(&cfgFile, &logLevel),
		NewScheduleCmd(&cfgFile, &logLevel),
		NewValidateCmd(&cfgFile),
		NewDumpCmd(&cfgFile),
		NewHistoryCmd(&cfgFile),
		NewVersionCmd(),
	)

	return rootCmd.Execute()
}
