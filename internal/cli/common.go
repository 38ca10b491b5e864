package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/endpoint"
	"github.com/GabrielNunesIT/import-pipeline/internal/engine"
	"github.com/GabrielNunesIT/import-pipeline/internal/metrics"
	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
)

// loadConfigAndLogger loads the configuration and sets up logging. The
// --log-level flag wins over the configured level when given.
func loadConfigAndLogger(cmd *cobra.Command, cfgFile, logLevel *string) (*config.Config, logger.ILogger, error) {
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	level := *logLevel
	if f := cmd.Flags().Lookup("log-level"); (f == nil || !f.Changed) && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	return cfg, SetupLogging(level, cmd.ErrOrStderr()), nil
}

// addImportFlags registers the flags shared by run and schedule.
func addImportFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("datasource", nil, "datasources to import (default: all active)")
	cmd.Flags().Int("maxadds", -1, "maximum records added per datasource (-1: unlimited)")
	cmd.Flags().Int("maxemits", -1, "maximum records emitted per datasource (-1: unlimited)")
	cmd.Flags().String("flags", "", "additional import flags (e.g. ignoreerrors,tracevalues)")
	cmd.Flags().String("runstore", "", "run store file (default: engine.runstore)")
	cmd.Flags().Bool("dry-run", false, "replace every endpoint with an in-memory endpoint")
}

// applyImportOverrides copies explicitly given import flags into cfg.
func applyImportOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("maxadds") {
		cfg.Engine.MaxAdds, _ = cmd.Flags().GetInt("maxadds")
	}
	if cmd.Flags().Changed("maxemits") {
		cfg.Engine.MaxEmits, _ = cmd.Flags().GetInt("maxemits")
	}
	if extra, _ := cmd.Flags().GetString("flags"); extra != "" {
		if cfg.Engine.ImportFlags == "" {
			cfg.Engine.ImportFlags = extra
		} else {
			cfg.Engine.ImportFlags = strings.Join([]string{cfg.Engine.ImportFlags, extra}, ",")
		}
	}
	if path, _ := cmd.Flags().GetString("runstore"); path != "" {
		cfg.Engine.RunStore = path
	}
}

// engineDeps holds what an engine is built with besides its configuration.
type engineDeps struct {
	runs    *runstore.Store
	metrics *metrics.Metrics
	dryRun  bool
}

// openEngineDeps opens the run store when one is configured.
func openEngineDeps(cmd *cobra.Command, cfg *config.Config, log logger.ILogger) (*engineDeps, error) {
	deps := &engineDeps{metrics: metrics.New()}
	deps.dryRun, _ = cmd.Flags().GetBool("dry-run")
	if cfg.Engine.RunStore != "" && !deps.dryRun {
		runs, err := runstore.Open(cfg.Engine.RunStore, runstore.DefaultKeep, log)
		if err != nil {
			return nil, fmt.Errorf("opening run store: %w", err)
		}
		deps.runs = runs
	}
	return deps, nil
}

func (d *engineDeps) Close() error {
	if d.runs == nil {
		return nil
	}
	return d.runs.Close()
}

// options returns the engine options for cfg.
func (d *engineDeps) options(cfg *config.Config) []engine.Option {
	opts := []engine.Option{engine.WithMetrics(d.metrics)}
	if d.runs != nil {
		opts = append(opts, engine.WithRunStore(d.runs))
	}
	if d.dryRun {
		for _, ec := range cfg.Endpoints {
			opts = append(opts, engine.WithEndpoint(endpoint.NewMemoryEndpoint(ec.Name)))
		}
	}
	return opts
}

// build creates an engine for cfg.
func (d *engineDeps) build(cfg *config.Config, log logger.ILogger) (*engine.Engine, error) {
	eng, err := engine.New(cfg, log, d.options(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("building engine: %w", err)
	}
	return eng, nil
}
