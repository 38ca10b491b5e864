package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/category"
	"github.com/GabrielNunesIT/import-pipeline/internal/endpoint"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

type fieldSource uint8

const (
	sourceEvent fieldSource = iota
	sourceField
	sourceVariable
	sourceValue
)

// fieldAction copies a value into a field of the record and/or a variable.
type fieldAction struct {
	*baseAction
	source      fieldSource
	fromField   string
	fromVar     string
	fromValue   string
	toField     string
	toFieldReal string
	toFieldVar  string
	toVar       string
	sep         string
	policy      model.WritePolicy
}

func newFieldAction(b *baseAction, src actionSource) (*fieldAction, error) {
	cfg := src.cfg
	a := &fieldAction{
		baseAction: b,
		fromField:  cfg.FromField,
		fromVar:    cfg.FromVar,
		fromValue:  cfg.FromValue,
		toField:    cfg.Field,
		toFieldVar: cfg.FieldFromVar,
		toVar:      cfg.ToVar,
		sep:        cfg.Sep,
	}

	n := 0
	if cfg.FromVar != "" {
		n++
		a.source = sourceVariable
	}
	if cfg.FromField != "" {
		n++
		a.source = sourceField
	}
	if cfg.FromValue != "" {
		n++
		a.source = sourceValue
	}
	if n > 1 {
		return nil, configErrorf(b.component(), "cannot specify fromvar, fromfield or fromvalue together")
	}
	if a.toField == "" && a.toVar == "" && a.toFieldVar == "" && b.scriptName == "" {
		return nil, configErrorf(b.component(), "at least one of field, fieldfromvar, tovar or script is required")
	}

	a.policy = model.OverWrite
	if a.sep != "" {
		a.policy = model.Append
	}
	if cfg.Flags != "" {
		p, err := model.ParseWritePolicy(cfg.Flags)
		if err != nil {
			return nil, &ConfigError{Component: b.component(), Err: err}
		}
		a.policy = p
	}
	if a.toField != "*" {
		a.toFieldReal = a.toField
	}
	b.needEndpoint = a.toField != "" || a.toFieldVar != "" || a.fromField != ""

	b.detail("field", a.toField)
	b.detail("fieldfromvar", a.toFieldVar)
	b.detail("fromvar", a.fromVar)
	b.detail("fromfield", a.fromField)
	b.detail("fromvalue", a.fromValue)
	b.detail("tovar", a.toVar)
	return a, nil
}

func (a *fieldAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	switch a.source {
	case sourceField:
		v = a.endpoint.GetField(a.fromField)
	case sourceVariable:
		v = ctx.Pipeline.Variable(a.fromVar)
	case sourceValue:
		v = model.String(a.fromValue)
	}
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}

	switch {
	case a.toField != "":
		a.endpoint.SetField(a.toFieldReal, v, a.policy, a.sep)
	case a.toFieldVar != "":
		if name, ok := ctx.Pipeline.VariableString(a.toFieldVar); ok {
			a.endpoint.SetField(name, v, a.policy, a.sep)
		}
	}
	if a.toVar != "" {
		ctx.Pipeline.SetVariable(a.toVar, v)
	}
	return a.postProcess(ctx, v)
}

// addAction hands the accumulated record to the endpoint.
type addAction struct {
	*baseAction
}

func (a *addAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}
	if a.endpoint.Accumulator().Len() > 0 {
		if err := ctx.IncrementAndLogAdd(); err != nil {
			return model.Null(), err
		}
		if err := a.endpoint.Add(ctx.Context()); err != nil {
			return model.Null(), fmt.Errorf("adding record to %s: %w", a.endpoint.Name(), err)
		}
	}
	return a.postProcess(ctx, v)
}

// clearAction abandons the record under construction.
type clearAction struct {
	*baseAction
}

func (a *clearAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}
	a.endpoint.Clear()
	return a.postProcess(ctx, v)
}

// deleteAction deletes the record whose id is the converted value, or the
// value of fromfield.
type deleteAction struct {
	*baseAction
	fromField string
}

func newDeleteAction(b *baseAction, src actionSource) (*deleteAction, error) {
	b.needEndpoint = true
	b.detail("fromfield", src.cfg.FromField)
	return &deleteAction{baseAction: b, fromField: src.cfg.FromField}, nil
}

func (a *deleteAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	if a.fromField != "" {
		v = a.endpoint.GetField(a.fromField)
	}
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 || v.IsEmpty() {
		return model.Null(), nil
	}
	if err := a.endpoint.Delete(ctx.Context(), v.String()); err != nil {
		return model.Null(), fmt.Errorf("deleting %q from %s: %w", v.String(), a.endpoint.Name(), err)
	}
	ctx.IncrementDeleted()
	return a.postProcess(ctx, v)
}

// emitAction feeds a structured value back through the flattener under prefix.
type emitAction struct {
	*baseAction
	prefix    string
	fromField string
	maxLevel  int
}

func newEmitAction(b *baseAction, src actionSource) (*emitAction, error) {
	cfg := src.cfg
	if cfg.Prefix == "" {
		return nil, configErrorf(b.component(), "emit action requires a prefix")
	}
	a := &emitAction{baseAction: b, prefix: cfg.Prefix, fromField: cfg.FromField, maxLevel: cfg.MaxLevel}
	if a.maxLevel <= 0 {
		a.maxLevel = UnlimitedDepth
	}
	b.needEndpoint = a.fromField != ""
	b.detail("prefix", a.prefix)
	b.detail("fromfield", a.fromField)
	return a, nil
}

func (a *emitAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	if a.fromField != "" {
		v = a.endpoint.GetField(a.fromField)
	}
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 || v.IsNull() {
		return model.Null(), nil
	}
	if err := ctx.IncrementEmitted(); err != nil {
		return model.Null(), err
	}
	if err := Flatten(ctx, ctx.Pipeline, v, a.prefix, a.maxLevel); err != nil {
		return model.Null(), err
	}
	return model.Null(), nil
}

// categoryAction classifies the current record.
type categoryAction struct {
	*baseAction
	collections []*category.Collection
}

func newCategoryAction(b *baseAction, src actionSource) (*categoryAction, error) {
	names := src.cfg.Categories
	if names == "" {
		return nil, configErrorf(b.component(), "category action requires categories")
	}
	b.needEndpoint = true
	b.detail("categories", names)
	a := &categoryAction{baseAction: b}
	if !src.resolvable(names) {
		return a, nil
	}
	if b.pipeline.res.Categories == nil {
		return nil, configErrorf(b.component(), "no categories configured")
	}
	cols, err := b.pipeline.res.Categories.Resolve(names)
	if err != nil {
		return nil, &ConfigError{Component: b.component(), Err: err}
	}
	a.collections = cols
	return a, nil
}

func (a *categoryAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip == 0 {
		for _, c := range a.collections {
			c.Apply(a.endpoint)
		}
	}
	return a.postProcess(ctx, v)
}

type onMatch uint8

const (
	onMatchSkip onMatch = iota
	onMatchSkipRest
	onMatchSkipAll
	onMatchClear
)

func parseOnMatch(s string, def onMatch) (onMatch, error) {
	switch strings.ToLower(s) {
	case "":
		return def, nil
	case "skip":
		return onMatchSkip, nil
	case "skiprest":
		return onMatchSkipRest, nil
	case "skipall":
		return onMatchSkipAll, nil
	case "clear":
		return onMatchClear, nil
	}
	return def, fmt.Errorf("invalid onmatch %q", s)
}

// apply raises the flags for a matched condition.
func (m onMatch) apply(ctx *Context, skipUntil string) {
	ctx.ActionFlags |= ConditionMatched
	switch m {
	case onMatchSkip:
		ctx.ActionFlags |= Skip
	case onMatchSkipRest:
		ctx.ActionFlags |= SkipRest
	case onMatchSkipAll:
		ctx.ActionFlags |= SkipAll
	case onMatchClear:
		ctx.ClearAllAndSetFlags(SkipAll, skipUntil)
		return
	}
	if skipUntil != "" {
		ctx.SkipUntilKey = skipUntil
	}
}

func (m onMatch) String() string {
	return [...]string{"skip", "skiprest", "skipall", "clear"}[m]
}

// condAction gates the remaining actions of a key on a predicate over the
// converted value: a regular expression, or the truthiness of the value.
type condAction struct {
	*baseAction
	re        *regexp.Regexp
	negate    bool
	onMatch   onMatch
	skipUntil string
}

func newCondAction(b *baseAction, src actionSource) (*condAction, error) {
	cfg := src.cfg
	a := &condAction{baseAction: b, negate: cfg.Negate, skipUntil: cfg.SkipUntil}
	if cfg.Cond != "" {
		re, err := regexp.Compile("(?i)" + cfg.Cond)
		if err != nil {
			return nil, &ConfigError{Component: b.component(), Err: err}
		}
		a.re = re
	}
	m, err := parseOnMatch(cfg.OnMatch, onMatchSkipRest)
	if err != nil {
		return nil, &ConfigError{Component: b.component(), Err: err}
	}
	a.onMatch = m
	b.needEndpoint = m == onMatchClear
	b.detail("cond", cfg.Cond)
	if a.negate {
		b.detail("negate", "true")
	}
	b.detail("onmatch", m.String())
	b.detail("skipuntil", a.skipUntil)
	return a, nil
}

func (a *condAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}
	var matched bool
	if a.re != nil {
		matched = !v.IsNull() && a.re.MatchString(v.String())
	} else {
		matched = v.Truthy()
	}
	if a.negate {
		matched = !matched
	}
	if matched {
		a.onMatch.apply(ctx, a.skipUntil)
		return model.Null(), nil
	}
	return a.postProcess(ctx, v)
}

// checkExistAction tests whether a record exists, either in the endpoint
// (by the converted value as id) or as a field of the record.
type checkExistAction struct {
	*baseAction
	field     string
	negate    bool
	onMatch   onMatch
	skipUntil string
	checker   endpoint.ExistChecker
}

func newCheckExistAction(b *baseAction, src actionSource) (*checkExistAction, error) {
	cfg := src.cfg
	a := &checkExistAction{baseAction: b, field: cfg.Field, negate: cfg.Negate, skipUntil: cfg.SkipUntil}
	m, err := parseOnMatch(cfg.OnMatch, onMatchClear)
	if err != nil {
		return nil, &ConfigError{Component: b.component(), Err: err}
	}
	a.onMatch = m
	b.needEndpoint = true
	b.detail("field", a.field)
	b.detail("onmatch", m.String())
	return a, nil
}

func (a *checkExistAction) Start(ctx *Context) error {
	if err := a.baseAction.Start(ctx); err != nil {
		return err
	}
	a.checker, _ = a.endpoint.(endpoint.ExistChecker)
	if a.field == "" && a.checker == nil {
		return configErrorf(a.component(), "endpoint %s cannot check existence; set field", a.endpoint.Name())
	}
	return nil
}

func (a *checkExistAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}
	var exists bool
	if a.field != "" {
		exists = !a.endpoint.GetField(a.field).IsEmpty()
	} else if !v.IsEmpty() {
		exists, err = a.checker.Exists(ctx.Context(), v.String())
		if err != nil {
			return model.Null(), fmt.Errorf("checking existence of %q in %s: %w", v.String(), a.endpoint.Name(), err)
		}
	}
	if a.negate {
		exists = !exists
	}
	if exists {
		a.onMatch.apply(ctx, a.skipUntil)
		return model.Null(), nil
	}
	return a.postProcess(ctx, v)
}

// errorHandlerAction reacts to prefix/_error events raised through
// Context.HandleException. Running it marks the error as handled.
type errorHandlerAction struct {
	*baseAction
	clear     bool
	skipUntil string
}

func newErrorHandlerAction(b *baseAction, src actionSource) (*errorHandlerAction, error) {
	cfg := src.cfg
	a := &errorHandlerAction{baseAction: b, skipUntil: cfg.SkipUntil}
	switch strings.ToLower(cfg.OnMatch) {
	case "":
	case "clear":
		a.clear = true
		b.needEndpoint = true
	default:
		return nil, configErrorf(b.component(), "invalid onmatch %q for errorhandler", cfg.OnMatch)
	}
	b.detail("clear", strconv.FormatBool(a.clear))
	b.detail("skipuntil", a.skipUntil)
	return a, nil
}

func (a *errorHandlerAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}
	ctx.Logger().Warningf("handled error: key=%s, error=%s", key, v.String())
	switch {
	case a.clear:
		ctx.ClearAllAndSetFlags(SkipRest, a.skipUntil)
	case a.skipUntil != "":
		ctx.SkipUntilKey = a.skipUntil
	}
	return a.postProcess(ctx, model.Null())
}

// exceptAction raises a record error.
type exceptAction struct {
	*baseAction
	message string
}

func (a *exceptAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	v, err := a.convertAndCallScript(ctx, key, v)
	if err != nil {
		return model.Null(), err
	}
	if ctx.ActionFlags&Skip != 0 {
		return model.Null(), nil
	}
	msg := a.message
	if msg == "" {
		msg = v.String()
	}
	if msg == "" {
		msg = "exception raised for key " + key
	}
	return model.Null(), &RecordError{Err: errors.New(msg)}
}
