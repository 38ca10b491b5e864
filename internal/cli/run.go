package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [datasource...]",
		Short: "Run an import once",
		Long: `Run imports the active datasources (or the named ones) once and exits.
A failed datasource stops the import unless the import flags ignore it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, cfgFile, logLevel)
		},
	}

	addImportFlags(cmd)
	cmd.Flags().String("metrics-file", "", "write run metrics in Prometheus text format to this file")

	return cmd
}

func runImport(cmd *cobra.Command, args []string, cfgFile, logLevel *string) error {
	cfg, log, err := loadConfigAndLogger(cmd, cfgFile, logLevel)
	if err != nil {
		return err
	}
	applyImportOverrides(cmd, cfg)

	deps, err := openEngineDeps(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warningf("closing run store: %v", err)
		}
	}()

	eng, err := deps.build(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names, _ := cmd.Flags().GetStringSlice("datasource")
	names = append(names, args...)

	report, importErr := eng.Import(ctx, names)

	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := deps.metrics.WriteTextfile(path); err != nil {
			log.Errorf("writing metrics file %s: %v", path, err)
		}
	}

	if importErr != nil {
		if errors.Is(importErr, context.Canceled) {
			log.Warning("import interrupted")
		}
		return fmt.Errorf("import failed: %w", importErr)
	}
	if report.Failed() {
		log.Warningf("import finished with ignored failures: %s", report)
	}
	return nil
}
