package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded datasource runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			path, _ := cmd.Flags().GetString("runstore")
			if path == "" {
				path = cfg.Engine.RunStore
			}
			if path == "" {
				return errors.New("no run store configured (engine.runstore or --runstore)")
			}

			store, err := runstore.Open(path, runstore.DefaultKeep, logger.NewConsoleLogger(io.Discard))
			if err != nil {
				return err
			}
			defer store.Close()

			ds, _ := cmd.Flags().GetString("datasource")
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := store.History(ds, limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().String("datasource", "", "only show runs of this datasource")
	cmd.Flags().Int("limit", 20, "maximum runs to show per datasource (0: all)")
	cmd.Flags().String("runstore", "", "run store file (default: engine.runstore)")

	return cmd
}

func printHistory(w io.Writer, runs []runstore.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASOURCE\tSTARTED\tDURATION\tSTATE\tADDED\tEMITTED\tDELETED\tSKIPPED\tERRORS\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Datasource,
			r.Started.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond),
			r.State,
			r.Added, r.Emitted, r.Deleted, r.Skipped, r.Errors,
			r.Error)
	}
	return tw.Flush()
}
