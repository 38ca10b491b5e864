package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/engine"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			// Silent logger for validation (discards output)
			log := logger.NewConsoleLogger(io.Discard)

			eng, err := engine.New(cfg, log)
			if err != nil {
				return fmt.Errorf("engine configuration error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid:\n")
			fmt.Fprintf(out, "  Endpoints:   %d (%s)\n", eng.Endpoints().Len(), strings.Join(eng.Endpoints().Names(), ", "))
			fmt.Fprintf(out, "  Pipelines:   %d\n", len(eng.Pipelines()))
			fmt.Fprintf(out, "  Datasources: %d (%s)\n", len(eng.Datasources()), strings.Join(eng.Datasources(), ", "))
			fmt.Fprintf(out, "  Converters:  %d\n", len(eng.Converters().Names()))
			fmt.Fprintf(out, "  Flags:       %s\n", eng.Flags())
			return nil
		},
	}
}
