// Package engine builds the import components from configuration and runs
// the datasources through their pipelines.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/category"
	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/converter"
	"github.com/GabrielNunesIT/import-pipeline/internal/datasource"
	"github.com/GabrielNunesIT/import-pipeline/internal/endpoint"
	"github.com/GabrielNunesIT/import-pipeline/internal/metrics"
	"github.com/GabrielNunesIT/import-pipeline/internal/pipeline"
	"github.com/GabrielNunesIT/import-pipeline/internal/runstore"
	"github.com/GabrielNunesIT/import-pipeline/internal/script"
)

// managedDatasource binds a datasource to its pipeline.
type managedDatasource struct {
	cfg      config.DatasourceConfig
	source   datasource.Datasource
	pipeline *pipeline.Pipeline
}

// Option configures the Engine.
type Option func(*Engine)

// WithRunStore records every datasource run in s.
func WithRunStore(s *runstore.Store) Option {
	return func(e *Engine) {
		e.runs = s
	}
}

// WithMetrics accounts every datasource run in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEndpoint adds an endpoint. It replaces a configured endpoint of the
// same name.
func WithEndpoint(ep endpoint.Endpoint) Option {
	return func(e *Engine) {
		e.extraEndpoints = append(e.extraEndpoints, ep)
	}
}

// WithDatasourceFactory replaces datasource.New.
func WithDatasourceFactory(f datasource.Factory) Option {
	return func(e *Engine) {
		e.newDatasource = f
	}
}

// WithImportFlags adds flags to the configured import flags.
func WithImportFlags(f pipeline.ImportFlags) Option {
	return func(e *Engine) {
		e.flags |= f
	}
}

// Engine owns the converters, endpoints, pipelines and datasources built
// from one configuration. Datasources run one at a time in configuration
// order.
type Engine struct {
	cfg    *config.Config
	logger logger.ILogger
	flags  pipeline.ImportFlags

	converters  *converter.Registry
	categories  *category.Registry
	scripts     *script.Host
	endpoints   *endpoint.Set
	pipelines   map[string]*pipeline.Pipeline
	datasources []*managedDatasource

	runs           *runstore.Store
	metrics        *metrics.Metrics
	extraEndpoints []endpoint.Endpoint
	newDatasource  datasource.Factory
}

// New builds an engine from configuration. Configuration problems are
// reported before anything is opened.
func New(cfg *config.Config, log logger.ILogger, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:           cfg,
		logger:        log.SubLogger("Engine"),
		pipelines:     make(map[string]*pipeline.Pipeline),
		newDatasource: datasource.New,
	}
	for _, opt := range opts {
		opt(e)
	}

	flags, err := pipeline.ParseImportFlags(cfg.Engine.ImportFlags)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.flags |= flags

	if e.converters, err = converter.NewRegistry(cfg.Converters); err != nil {
		return nil, fmt.Errorf("building converters: %w", err)
	}
	if e.categories, err = category.NewRegistry(cfg.Categories); err != nil {
		return nil, fmt.Errorf("building categories: %w", err)
	}
	if e.scripts, err = script.NewHost(cfg.Engine.Scripts, log); err != nil {
		return nil, fmt.Errorf("loading scripts: %w", err)
	}
	if err := e.buildEndpoints(log); err != nil {
		return nil, fmt.Errorf("building endpoints: %w", err)
	}
	if err := e.buildPipelines(log); err != nil {
		return nil, fmt.Errorf("building pipelines: %w", err)
	}
	if err := e.buildDatasources(log); err != nil {
		return nil, fmt.Errorf("building datasources: %w", err)
	}

	e.logger.Debugf("engine built: endpoints=%d, pipelines=%d, datasources=%d, flags=%s",
		e.endpoints.Len(), len(e.pipelines), len(e.datasources), e.flags)
	return e, nil
}

func (e *Engine) buildEndpoints(log logger.ILogger) error {
	e.endpoints = endpoint.NewSet(log)
	replaced := make(map[string]bool)
	for _, ep := range e.extraEndpoints {
		replaced[strings.ToLower(ep.Name())] = true
	}
	for _, epCfg := range e.cfg.Endpoints {
		if replaced[strings.ToLower(epCfg.Name)] {
			continue
		}
		ep, err := endpoint.New(epCfg, log)
		if err != nil {
			return err
		}
		if err := e.endpoints.Add(ep); err != nil {
			return err
		}
	}
	for _, ep := range e.extraEndpoints {
		if err := e.endpoints.Add(ep); err != nil {
			return err
		}
	}
	if e.endpoints.Len() == 0 {
		return errors.New("no endpoints configured")
	}
	return nil
}

func (e *Engine) buildPipelines(log logger.ILogger) error {
	res := pipeline.Resources{
		Endpoints:  e.endpoints,
		Converters: e.converters,
		Categories: e.categories,
		Scripts:    e.scripts,
		Logger:     log,
	}
	for _, pc := range e.cfg.Pipelines {
		key := strings.ToLower(pc.Name)
		if key == "" {
			return errors.New("pipeline without name")
		}
		if _, dup := e.pipelines[key]; dup {
			return fmt.Errorf("duplicate pipeline %q", pc.Name)
		}
		p, err := pipeline.New(pc, res)
		if err != nil {
			return err
		}
		e.pipelines[key] = p
	}
	if len(e.pipelines) == 0 {
		return errors.New("no pipelines configured")
	}
	return nil
}

func (e *Engine) buildDatasources(log logger.ILogger) error {
	seen := make(map[string]bool)
	for _, dc := range e.cfg.Datasources {
		key := strings.ToLower(dc.Name)
		if key == "" {
			return errors.New("datasource without name")
		}
		if seen[key] {
			return fmt.Errorf("duplicate datasource %q", dc.Name)
		}
		seen[key] = true

		p, err := e.pipelineFor(dc)
		if err != nil {
			return err
		}
		src, err := e.newDatasource(dc, log)
		if err != nil {
			return err
		}
		e.datasources = append(e.datasources, &managedDatasource{cfg: dc, source: src, pipeline: p})
	}
	if len(e.datasources) == 0 {
		return errors.New("no datasources configured")
	}
	return nil
}

// pipelineFor picks the configured pipeline, the pipeline named like the
// datasource, or the only pipeline.
func (e *Engine) pipelineFor(dc config.DatasourceConfig) (*pipeline.Pipeline, error) {
	if dc.Pipeline != "" {
		p, ok := e.pipelines[strings.ToLower(dc.Pipeline)]
		if !ok {
			return nil, fmt.Errorf("datasource %s: unknown pipeline %q", dc.Name, dc.Pipeline)
		}
		return p, nil
	}
	if p, ok := e.pipelines[strings.ToLower(dc.Name)]; ok {
		return p, nil
	}
	if len(e.pipelines) == 1 {
		for _, p := range e.pipelines {
			return p, nil
		}
	}
	return nil, fmt.Errorf("datasource %s: no pipeline configured", dc.Name)
}

// Flags returns the effective import flags.
func (e *Engine) Flags() pipeline.ImportFlags { return e.flags }

// Endpoints returns the endpoint set.
func (e *Engine) Endpoints() *endpoint.Set { return e.endpoints }

// Converters returns the converter registry.
func (e *Engine) Converters() *converter.Registry { return e.converters }

// Pipelines returns the pipelines ordered by name.
func (e *Engine) Pipelines() []*pipeline.Pipeline {
	out := make([]*pipeline.Pipeline, 0, len(e.pipelines))
	for _, p := range e.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Datasources returns the datasource names in run order.
func (e *Engine) Datasources() []string {
	out := make([]string, len(e.datasources))
	for i, md := range e.datasources {
		out[i] = md.cfg.Name
	}
	return out
}

// selectDatasources returns the named datasources in configuration order,
// or the active ones when names is empty.
func (e *Engine) selectDatasources(names []string) ([]*managedDatasource, error) {
	if len(names) == 0 {
		var out []*managedDatasource
		for _, md := range e.datasources {
			if md.cfg.IsActive() {
				out = append(out, md)
			}
		}
		return out, nil
	}

	wanted := make(map[string]bool)
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}
	var out []*managedDatasource
	for _, md := range e.datasources {
		key := strings.ToLower(md.cfg.Name)
		if wanted[key] {
			out = append(out, md)
			delete(wanted, key)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for n := range wanted {
			missing = append(missing, n)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown datasources: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Import opens the endpoints and runs the selected datasources. A failed
// datasource stops the import unless its failure kind is ignored by the
// import flags. The report covers every datasource that ran.
func (e *Engine) Import(ctx context.Context, names []string) (*Report, error) {
	selected, err := e.selectDatasources(names)
	if err != nil {
		return nil, err
	}
	report := &Report{Started: time.Now()}
	if len(selected) == 0 {
		e.logger.Warning("no active datasources to import")
		return report, nil
	}

	if err := e.endpoints.Open(ctx); err != nil {
		return report, err
	}
	e.logger.Infof("import started: datasources=%d, flags=%s", len(selected), e.flags)

	var runErr error
	for _, md := range selected {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		res := e.runWithRetry(ctx, md)
		report.Datasources = append(report.Datasources, res)
		e.account(res)

		if res.Err != nil && !res.Ignored {
			runErr = fmt.Errorf("datasource %s: %w", res.Name, res.Err)
			break
		}
	}

	e.converters.DumpMissed(e.logger)
	if err := e.endpoints.Close(context.WithoutCancel(ctx)); err != nil {
		runErr = errors.Join(runErr, err)
	}
	report.Duration = time.Since(report.Started)
	if !e.flags.Has(pipeline.Silent) {
		e.logger.Infof("import finished: %s", report)
	}
	return report, runErr
}

// runWithRetry runs a datasource, once more after an error when
// RetryErrors is set.
func (e *Engine) runWithRetry(ctx context.Context, md *managedDatasource) DatasourceResult {
	res := e.runDatasource(ctx, md)
	if res.State == pipeline.StateError && e.flags.Has(pipeline.RetryErrors) && ctx.Err() == nil {
		e.logger.Warningf("retrying datasource %s after error: %v", md.cfg.Name, res.Err)
		res = e.runDatasource(ctx, md)
	}
	return res
}

// newContext creates the run context with the datasource limits, falling
// back to the engine limits.
func (e *Engine) newContext(ctx context.Context, dc config.DatasourceConfig) *pipeline.Context {
	pctx := pipeline.NewContext(ctx, dc.Name, e.logger)
	pctx.ImportFlags = e.flags
	pctx.DefaultEndpoint = dc.Endpoint

	pctx.LogAdds = e.cfg.Engine.LogAdds
	if dc.LogAdds > 0 {
		pctx.LogAdds = dc.LogAdds
	}
	pctx.MaxAdds = e.cfg.Engine.MaxAdds
	if dc.MaxAdds != nil {
		pctx.MaxAdds = *dc.MaxAdds
	}
	pctx.MaxEmits = e.cfg.Engine.MaxEmits
	if dc.MaxEmits != nil {
		pctx.MaxEmits = *dc.MaxEmits
	}
	return pctx
}

// runDatasource imports one datasource and classifies its outcome.
func (e *Engine) runDatasource(ctx context.Context, md *managedDatasource) DatasourceResult {
	pctx := e.newContext(ctx, md.cfg)
	pctx.ErrorState = pipeline.StateRunning
	started := time.Now()

	err := md.pipeline.Start(pctx)
	if err == nil {
		err = md.source.Import(pctx, md.pipeline)
		if stopErr := pctx.OptSendItemStop(); stopErr != nil && err == nil {
			err = stopErr
		}
		if stopErr := md.pipeline.Stop(pctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}

	pctx.ErrorState &^= pipeline.StateRunning
	res := DatasourceResult{
		Name:     md.cfg.Name,
		Started:  started,
		Duration: time.Since(started),
		Added:    pctx.Added,
		Emitted:  pctx.Emitted,
		Deleted:  pctx.Deleted,
		Skipped:  pctx.Skipped,
		Errors:   pctx.Errors,
		Err:      err,
	}
	switch {
	case err == nil:
	case pipeline.IsLimitExceeded(err):
		pctx.ErrorState |= pipeline.StateLimited
		res.Ignored = e.flags.Has(pipeline.IgnoreLimited)
	default:
		pctx.ErrorState |= pipeline.StateError
		res.Ignored = e.flags.Has(pipeline.IgnoreErrors)
	}
	res.State = pctx.ErrorState

	switch {
	case err == nil:
		pctx.Logger().Infof("datasource done: %s", pctx.Stats())
	case res.Ignored:
		pctx.Logger().Warningf("datasource ended %s (ignored): %v", res.State, err)
	default:
		pctx.Logger().Errorf("datasource ended %s: %v", res.State, err)
	}
	return res
}

// account records a finished run in the run store and the metrics.
func (e *Engine) account(res DatasourceResult) {
	run := res.Run()
	if e.runs != nil {
		if err := e.runs.Record(run); err != nil {
			e.logger.Warningf("recording run failed: datasource=%s, error=%v", res.Name, err)
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveRun(run)
	}
}
