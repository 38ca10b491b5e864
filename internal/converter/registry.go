package converter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/import-pipeline/internal/config"
)

// Registry holds the named converters of an engine: all built-ins plus the
// configured ones, which take precedence on a name clash.
type Registry struct {
	byName map[string]Converter
}

// NewRegistry builds the registry from configuration.
func NewRegistry(cfgs []config.ConverterConfig) (*Registry, error) {
	r := &Registry{byName: make(map[string]Converter)}
	for _, name := range builtinNames {
		c, err := New(config.ConverterConfig{Name: name})
		if err != nil {
			return nil, err
		}
		r.byName[name] = c
	}
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("converter without name (type=%s)", cfg.Type)
		}
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		r.byName[strings.ToLower(cfg.Name)] = c
	}
	return r, nil
}

// Get returns a converter by name.
func (r *Registry) Get(name string) (Converter, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// Resolve turns a comma or semicolon separated list of names into converters.
// An empty list resolves to nil.
func (r *Registry) Resolve(names string) ([]Converter, error) {
	parts := config.SplitList(names)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]Converter, len(parts))
	for i, n := range parts {
		c, ok := r.Get(n)
		if !ok {
			return nil, fmt.Errorf("cannot find converter %q", n)
		}
		out[i] = c
	}
	return out, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DumpMissed lets every collecting converter report its unmatched inputs.
func (r *Registry) DumpMissed(log logger.ILogger) {
	for _, n := range r.Names() {
		if d, ok := r.byName[n].(MissedDumper); ok {
			d.DumpMissed(log)
		}
	}
}
