// Package pipeline routes keyed events from datasources to actions that
// build records in endpoints.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/import-pipeline/internal/category"
	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/converter"
	"github.com/GabrielNunesIT/import-pipeline/internal/endpoint"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/script"
)

// EndpointResolver hands out data endpoints by "endpoint[.dataname]".
type EndpointResolver interface {
	DataEndpoint(name string) (endpoint.DataEndpoint, error)
	DefaultName(pipeline string) string
}

// Resources are the engine-wide collaborators a pipeline binds its actions to.
type Resources struct {
	Endpoints  EndpointResolver
	Converters *converter.Registry
	Categories *category.Registry
	Scripts    *script.Host
	Logger     logger.ILogger
}

// ActionAdmin is a row of the action table.
type ActionAdmin struct {
	Key    string
	KeyLen int
	Order  int
	Action Action

	Index       int
	EqualityID  int
	EqualToPrev bool
}

func lessAdmin(a, b *ActionAdmin) bool {
	if a.KeyLen != b.KeyLen {
		return a.KeyLen < b.KeyLen
	}
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return a.Order < b.Order
}

// Pipeline dispatches events to the actions registered for their keys.
// Actions and templates are fixed at construction; the live action table,
// variables, missed keys and endpoint cache belong to the current run.
type Pipeline struct {
	name              string
	defaultEndpoint   string
	defaultConverters string
	trace             bool
	res               Resources
	logger            logger.ILogger

	definedActions []*ActionAdmin
	templates      []*Template

	actions   []*ActionAdmin
	variables map[string]model.Value
	missed    map[string]struct{}
	endpoints map[string]endpoint.DataEndpoint
	started   bool
}

// New builds a pipeline. Configuration problems are reported as ConfigError.
func New(cfg config.PipelineConfig, res Resources) (*Pipeline, error) {
	if cfg.Name == "" {
		return nil, configErrorf("pipeline", "pipeline without name")
	}
	if res.Converters == nil {
		reg, err := converter.NewRegistry(nil)
		if err != nil {
			return nil, err
		}
		res.Converters = reg
	}
	p := &Pipeline{
		name:              cfg.Name,
		defaultEndpoint:   cfg.Endpoint,
		defaultConverters: cfg.Converters,
		trace:             cfg.Trace,
		res:               res,
		logger:            res.Logger.SubLogger("Pipeline"),
		variables:         make(map[string]model.Value),
		missed:            make(map[string]struct{}),
	}

	for i, acfg := range cfg.Actions {
		keys := config.SplitList(acfg.Key)
		if len(keys) == 0 {
			return nil, configErrorf(p.component(), "action #%d has no key", i)
		}
		a, err := newAction(p, actionSource{cfg: acfg, key: acfg.Key})
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			lc := strings.ToLower(k)
			p.definedActions = append(p.definedActions, &ActionAdmin{Key: lc, KeyLen: len(lc), Order: i, Action: a})
		}
	}
	sort.SliceStable(p.definedActions, func(i, j int) bool {
		return lessAdmin(p.definedActions[i], p.definedActions[j])
	})

	for _, tcfg := range cfg.Templates {
		t, err := newTemplate(p, tcfg)
		if err != nil {
			return nil, err
		}
		p.templates = append(p.templates, t)
	}

	if err := p.checkForwardCycles(); err != nil {
		return nil, err
	}
	p.Dump("")
	return p, nil
}

func (p *Pipeline) component() string { return "pipeline " + p.name }

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// DefaultEndpoint returns the configured endpoint of the pipeline, if any.
func (p *Pipeline) DefaultEndpoint() string { return p.defaultEndpoint }

// Actions returns the live table while running, else the defined actions.
func (p *Pipeline) Actions() []ActionAdmin {
	list := p.actions
	if list == nil {
		list = p.definedActions
	}
	out := make([]ActionAdmin, len(list))
	for i, a := range list {
		out[i] = *a
	}
	return out
}

// Templates returns the templates in registration order.
func (p *Pipeline) Templates() []*Template { return p.templates }

// Start prepares the pipeline for a datasource run and sends the
// datasource start sentinel. When Start fails the data endpoints it
// started are stopped again and Stop must not be called.
func (p *Pipeline) Start(ctx *Context) error {
	ctx.Pipeline = p
	if p.trace {
		ctx.ImportFlags |= TraceValues
	}
	p.logger.Infof("starting datasource %s", ctx.DatasourceName)

	p.missed = make(map[string]struct{})
	p.variables = make(map[string]model.Value)
	p.endpoints = make(map[string]endpoint.DataEndpoint)

	p.actions = make([]*ActionAdmin, 0, len(p.definedActions))
	for _, d := range p.definedActions {
		if err := d.Action.Start(ctx); err != nil {
			p.endpoints = nil
			p.actions = nil
			return err
		}
		row := *d
		p.actions = append(p.actions, &row)
	}
	p.prepareActions()

	var startedEndpoints []endpoint.DataEndpoint
	for name, ep := range p.endpoints {
		if err := ep.Start(ctx.Context()); err != nil {
			err = fmt.Errorf("starting data endpoint %s: %w", name, err)
			p.endpoints = nil
			p.actions = nil
			return errors.Join(err, stopEndpoints(ctx, startedEndpoints))
		}
		startedEndpoints = append(startedEndpoints, ep)
	}
	p.started = true

	if _, err := p.HandleValue(ctx, KeyDatasourceStart, model.String(ctx.DatasourceName)); err != nil {
		return errors.Join(err, p.teardown(ctx))
	}
	return nil
}

// Stop sends the datasource stop sentinel, reports missed keys and stops
// the data endpoints used during the run.
func (p *Pipeline) Stop(ctx *Context) error {
	_, err := p.HandleValue(ctx, KeyDatasourceStop, model.String(ctx.DatasourceName))
	return errors.Join(err, p.teardown(ctx))
}

// teardown reports missed keys and stops the data endpoints of a started run.
func (p *Pipeline) teardown(ctx *Context) error {
	missedLog := ctx.Logger().SubLogger("missed")
	missed := p.MissedKeys()
	missedLog.Infof("stopped datasource [%s]. %d missed keys.", ctx.DatasourceName, len(missed))
	for _, k := range missed {
		missedLog.Infof("-- %s", k)
	}

	p.started = false
	eps := make([]endpoint.DataEndpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		eps = append(eps, ep)
	}
	err := stopEndpoints(ctx, eps)
	ctx.LogLastAdd()
	p.Dump("after import")

	p.endpoints = nil
	p.actions = nil
	return err
}

func stopEndpoints(ctx *Context, eps []endpoint.DataEndpoint) error {
	var errs []error
	for _, ep := range eps {
		if err := ep.Stop(ctx.Context()); err != nil {
			errs = append(errs, fmt.Errorf("stopping data endpoint %s: %w", ep.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// HandleValue dispatches one event to all actions registered for key.
// Unknown keys are resolved through the templates once; keys no template
// matches are registered as no-ops and reported as missed.
func (p *Pipeline) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	ctx.ActionFlags = 0
	if ctx.ImportFlags&TraceValues != 0 {
		p.logger.Debugf("HandleValue (%s, %s [%s])", key, v.String(), v.TypeName())
	}
	ret := model.Null()
	if key == "" {
		return ret, nil
	}

	if ctx.SkipUntilKey != "" {
		ctx.ActionFlags |= Skipped
		if strings.EqualFold(ctx.SkipUntilKey, key) {
			ctx.SkipUntilKey = ""
		}
		return ret, nil
	}

	lc := strings.ToLower(key)
	ix := p.findAction(lc)
	if ix < 0 {
		if err := p.checkTemplates(ctx, key, lc); err != nil {
			return ret, p.dispatchError(ctx, key, v, nil, err)
		}
		if ix = p.findAction(lc); ix < 0 {
			return ret, nil
		}
	}

	for _, row := range p.chainAt(ix) {
		ctx.SetAction(row.Action)
		out, err := row.Action.HandleValue(ctx, key, v)
		if err != nil {
			return ret, p.dispatchError(ctx, key, v, row.Action, err)
		}
		p.ClearVariables(row.Action.VarsToClear()...)
		if !out.IsNull() {
			ret = out
		}
		if ctx.ActionFlags&SkipRest != 0 {
			break
		}
	}
	return ret, nil
}

// dispatchError logs the failing event with the accumulator of the action
// and wraps err. Errors already wrapped by a nested dispatch are returned as is.
func (p *Pipeline) dispatchError(ctx *Context, key string, v model.Value, a Action, err error) error {
	var de *DispatchError
	if errors.As(err, &de) {
		return err
	}
	typ := v.TypeName()
	var ce *ConversionError
	if errors.As(err, &ce) && ce.Value.Kind() != v.Kind() {
		typ = fmt.Sprintf("%s (was %s)", ce.Value.TypeName(), v.TypeName())
	}
	actionName := "<none>"
	if a != nil {
		actionName = a.String()
	}

	log := ctx.Logger()
	if IsLimitExceeded(err) {
		log.Infof("limit reached while handling event: key=%s, action=%s: %v", key, actionName, err)
	} else {
		log.Errorf("error while handling event: key=%s, value type=%s, action=%s", key, typ, actionName)
		log.Errorf("-- value=%s", v.String())
		log.Errorf("-- error=%v", err)
		if a == nil || a.Endpoint() == nil {
			log.Errorf("cannot dump accumulator: no current action or endpoint")
		} else {
			accu := a.Endpoint().Accumulator()
			dump, _ := accu.MarshalJSON()
			log.Errorf("dumping content of current accumulator: fieldcount=%d", accu.Len())
			log.Errorf("%s", dump)
		}
	}
	return &DispatchError{Key: key, ValueType: typ, Action: actionName, Err: err}
}

// findAction returns the index of the first row for key, or -1.
func (p *Pipeline) findAction(key string) int {
	kl := len(key)
	i := sort.Search(len(p.actions), func(i int) bool {
		a := p.actions[i]
		if a.KeyLen != kl {
			return a.KeyLen > kl
		}
		return a.Key >= key
	})
	if i < len(p.actions) && p.actions[i].KeyLen == kl && p.actions[i].Key == key {
		return i
	}
	return -1
}

// chainAt returns the rows sharing the key of row ix. The slice is a copy:
// forwarding may grow and re-sort the live table while the chain runs.
func (p *Pipeline) chainAt(ix int) []*ActionAdmin {
	end := ix + 1
	for end < len(p.actions) && p.actions[end].EqualToPrev {
		end++
	}
	return append([]*ActionAdmin(nil), p.actions[ix:end]...)
}

// prepareActions sorts the live table and tags rows sharing a key.
func (p *Pipeline) prepareActions() {
	sort.SliceStable(p.actions, func(i, j int) bool {
		return lessAdmin(p.actions[i], p.actions[j])
	})
	eq := 0
	for i, a := range p.actions {
		a.Index = i
		a.EqualToPrev = i > 0 && a.Key == p.actions[i-1].Key
		if i > 0 && !a.EqualToPrev {
			eq++
		}
		a.EqualityID = eq
	}
}

// checkTemplates instantiates actions for an unknown key. The first
// matching template and the following templates with the same expression
// contribute actions. Without a match a no-op is registered and the key is
// recorded as missed.
func (p *Pipeline) checkTemplates(ctx *Context, key, lc string) error {
	for i := 0; i < len(p.templates); i++ {
		a, err := p.templates[i].OptCreateAction(ctx, key)
		if err != nil {
			return err
		}
		if a == nil {
			continue
		}
		expr := p.templates[i].Expr()
		group := []Action{a}
		for i+1 < len(p.templates) && strings.EqualFold(p.templates[i+1].Expr(), expr) {
			i++
			next, err := p.templates[i].OptCreateAction(ctx, key)
			if err != nil {
				return err
			}
			if next == nil {
				break
			}
			group = append(group, next)
		}
		// The group is registered only when every action started, so a
		// failure leaves the table sorted and the key unresolved.
		for _, a := range group {
			if err := a.Start(ctx); err != nil {
				return err
			}
		}
		for _, a := range group {
			p.appendAction(lc, a)
		}
		p.prepareActions()
		return nil
	}

	p.appendAction(lc, newNopAction(p, key))
	p.prepareActions()
	p.missed[lc] = struct{}{}
	return nil
}

func (p *Pipeline) appendAction(lc string, a Action) {
	p.actions = append(p.actions, &ActionAdmin{Key: lc, KeyLen: len(lc), Order: len(p.actions), Action: a})
}

// dataEndpoint resolves and caches the data endpoint for an action. An
// empty name falls back to the datasource endpoint, the pipeline endpoint
// and finally the engine default. A '*' is replaced by the datasource name.
// It returns nil without error when no endpoint can be determined.
func (p *Pipeline) dataEndpoint(ctx *Context, name string) (endpoint.DataEndpoint, error) {
	if name == "" {
		name = ctx.DefaultEndpoint
	}
	if name == "" {
		name = p.defaultEndpoint
	}
	if name == "" && p.res.Endpoints != nil {
		name = p.res.Endpoints.DefaultName(p.name)
	}
	if name == "" {
		return nil, nil
	}
	name = strings.ReplaceAll(name, "*", ctx.DatasourceName)

	cacheKey := strings.ToLower(name)
	if ep, ok := p.endpoints[cacheKey]; ok {
		return ep, nil
	}
	if p.res.Endpoints == nil {
		return nil, configErrorf(p.component(), "no endpoints to resolve %q", name)
	}
	ep, err := p.res.Endpoints.DataEndpoint(name)
	if err != nil {
		return nil, &ConfigError{Component: p.component(), Err: err}
	}
	if p.endpoints == nil {
		p.endpoints = make(map[string]endpoint.DataEndpoint)
	}
	p.endpoints[cacheKey] = ep
	if p.started {
		if err := ep.Start(ctx.Context()); err != nil {
			return nil, fmt.Errorf("starting data endpoint %s: %w", name, err)
		}
	}
	return ep, nil
}

// ClearAll clears the accumulators of all data endpoints used in this run.
func (p *Pipeline) ClearAll() {
	for _, ep := range p.endpoints {
		ep.Clear()
	}
}

// SetVariable stores a variable. Names are case-insensitive.
func (p *Pipeline) SetVariable(name string, v model.Value) {
	if p.variables == nil {
		p.variables = make(map[string]model.Value)
	}
	p.variables[strings.ToLower(name)] = v
}

// Variable returns a variable, Null when unset.
func (p *Pipeline) Variable(name string) model.Value {
	return p.variables[strings.ToLower(name)]
}

// VariableString returns a variable as text and whether it was set.
func (p *Pipeline) VariableString(name string) (string, bool) {
	v, ok := p.variables[strings.ToLower(name)]
	if !ok || v.IsNull() {
		return "", false
	}
	return v.String(), true
}

// ClearVariables removes the named variables.
func (p *Pipeline) ClearVariables(names ...string) {
	for _, n := range names {
		delete(p.variables, strings.ToLower(n))
	}
}

// ClearAllVariables removes all variables.
func (p *Pipeline) ClearAllVariables() {
	clear(p.variables)
}

// MissedKeys returns the keys of the current or last run that matched no
// action or template, sorted.
func (p *Pipeline) MissedKeys() []string {
	out := make([]string, 0, len(p.missed))
	for k := range p.missed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dump logs the action table and the templates.
func (p *Pipeline) Dump(why string) {
	p.logger.Debugf("dumping pipeline %s %s", p.name, why)
	list := p.Actions()
	p.logger.Debugf("-- %d actions", len(list))
	for _, a := range list {
		p.logger.Debugf("-- -- action order=%d key=%s %s", a.Order, a.Key, a.Action)
	}
	p.logger.Debugf("-- %d templates", len(p.templates))
	for _, t := range p.templates {
		p.logger.Debugf("-- -- %s", t)
	}
}

// checkForwardCycles rejects static forward chains that loop back.
// Template generated forwards are bounded at runtime by MaxForwardDepth.
func (p *Pipeline) checkForwardCycles() error {
	next := make(map[string][]string)
	for _, d := range p.definedActions {
		if fwd := d.Action.Forward(); fwd != "" && !strings.Contains(fwd, "$") {
			next[d.Key] = append(next[d.Key], strings.ToLower(fwd))
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var visit func(k string, path []string) error
	visit = func(k string, path []string) error {
		switch state[k] {
		case visiting:
			return configErrorf(p.component(), "forward cycle: %s", strings.Join(append(path, k), " -> "))
		case done:
			return nil
		}
		state[k] = visiting
		for _, n := range next[k] {
			if err := visit(n, append(path, k)); err != nil {
				return err
			}
		}
		state[k] = done
		return nil
	}

	keys := make([]string, 0, len(next))
	for k := range next {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := visit(k, nil); err != nil {
			return err
		}
	}
	return nil
}
