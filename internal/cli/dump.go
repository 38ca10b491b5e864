package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/engine"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
)

// NewDumpCmd creates the dump command.
func NewDumpCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump [pipeline...]",
		Short: "Print the action tables of the configured pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			eng, err := engine.New(cfg, logger.NewConsoleLogger(io.Discard))
			if err != nil {
				return fmt.Errorf("engine configuration error: %w", err)
			}
			return dumpPipelines(cmd.OutOrStdout(), eng.Pipelines(), args)
		},
	}
	return cmd
}

// dumpPipelines writes the actions and templates of the named pipelines, or
// of all pipelines when names is empty.
func dumpPipelines(w io.Writer, pipelines []*pipeline.Pipeline, names []string) error {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	found := 0
	for _, p := range pipelines {
		if len(want) > 0 && !want[p.Name()] {
			continue
		}
		found++
		actions := p.Actions()
		fmt.Fprintf(w, "pipeline %s (endpoint=%s)\n", p.Name(), p.DefaultEndpoint())
		fmt.Fprintf(w, "  %d actions\n", len(actions))
		for _, a := range actions {
			fmt.Fprintf(w, "    %-40s %s\n", a.Key, a.Action)
		}
		fmt.Fprintf(w, "  %d templates\n", len(p.Templates()))
		for _, t := range p.Templates() {
			fmt.Fprintf(w, "    %s\n", t)
		}
	}
	if found < len(want) {
		return fmt.Errorf("unknown pipelines in %v", names)
	}
	return nil
}
