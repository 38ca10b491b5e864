package pipeline

import (
	"fmt"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/converter"
	"github.com/GabrielNunesIT/import-pipeline/internal/endpoint"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
	"github.com/GabrielNunesIT/import-pipeline/internal/script"
)

// Action handles the events dispatched for its keys.
type Action interface {
	// Key returns the configured key list, or the matched key for template clones.
	Key() string
	// Type returns the action type name.
	Type() string
	// Start binds the action to the data endpoint of the run.
	Start(ctx *Context) error
	// HandleValue processes one event.
	HandleValue(ctx *Context, key string, v model.Value) (model.Value, error)
	// Endpoint returns the bound data endpoint; nil before Start or when none applies.
	Endpoint() endpoint.DataEndpoint
	// Forward returns the key the result is re-dispatched under, if any.
	Forward() string
	// VarsToClear lists the variables cleared after each invocation.
	VarsToClear() []string
	String() string
}

// actionSource is what an action is built from. Prototypes are the
// unsubstituted attribute sets of templates: names containing a
// substitution marker are not resolved for them.
type actionSource struct {
	cfg       config.ActionConfig
	key       string
	prototype bool
}

func (s actionSource) resolvable(name string) bool {
	return name != "" && !(s.prototype && strings.Contains(name, "$"))
}

// Action type names.
const (
	typeNop          = "nop"
	typeField        = "field"
	typeAdd          = "add"
	typeEmit         = "emit"
	typeErrorHandler = "errorhandler"
	typeExcept       = "except"
	typeClear        = "clear"
	typeDelete       = "delete"
	typeCategory     = "category"
	typeCond         = "cond"
	typeCheckExist   = "checkexist"
)

var actionTypeAliases = map[string]string{
	"nop":          typeNop,
	"field":        typeField,
	"add":          typeAdd,
	"emit":         typeEmit,
	"errorhandler": typeErrorHandler,
	"except":       typeExcept,
	"clear":        typeClear,
	"clr":          typeClear,
	"delete":       typeDelete,
	"del":          typeDelete,
	"category":     typeCategory,
	"cat":          typeCategory,
	"cond":         typeCond,
	"condition":    typeCond,
	"checkexist":   typeCheckExist,
}

// actionType determines the type of an action; without an explicit type it
// is inferred from the shortcut attributes.
func actionType(cfg config.ActionConfig) (string, error) {
	if cfg.Type != "" {
		t, ok := actionTypeAliases[strings.ToLower(cfg.Type)]
		if !ok {
			return "", fmt.Errorf("unknown action type %q", cfg.Type)
		}
		return t, nil
	}
	switch {
	case cfg.Add:
		return typeAdd, nil
	case cfg.Nop:
		return typeNop, nil
	case cfg.Prefix != "":
		return typeEmit, nil
	}
	return typeField, nil
}

func newAction(p *Pipeline, src actionSource) (Action, error) {
	typ, err := actionType(src.cfg)
	if err != nil {
		return nil, &ConfigError{Component: "action " + src.key, Err: err}
	}
	base, err := newBaseAction(p, src, typ)
	if err != nil {
		return nil, err
	}
	switch typ {
	case typeNop:
		return &nopAction{baseAction: base}, nil
	case typeField:
		return newFieldAction(base, src)
	case typeAdd:
		base.needEndpoint = true
		return &addAction{baseAction: base}, nil
	case typeEmit:
		return newEmitAction(base, src)
	case typeErrorHandler:
		return newErrorHandlerAction(base, src)
	case typeExcept:
		return &exceptAction{baseAction: base, message: src.cfg.Message}, nil
	case typeClear:
		base.needEndpoint = true
		return &clearAction{baseAction: base}, nil
	case typeDelete:
		return newDeleteAction(base, src)
	case typeCategory:
		return newCategoryAction(base, src)
	case typeCond:
		return newCondAction(base, src)
	case typeCheckExist:
		return newCheckExistAction(base, src)
	}
	return nil, configErrorf("action "+src.key, "unsupported action type %q", typ)
}

// baseAction carries the attributes shared by all action types.
type baseAction struct {
	pipeline       *Pipeline
	key            string
	typ            string
	endpointName   string
	convertersName string
	scriptName     string
	forwardTo      string
	clrVar         string
	varsToClear    []string
	debug          bool
	needEndpoint   bool
	details        []string

	converters []converter.Converter
	script     script.Func
	endpoint   endpoint.DataEndpoint
}

func newBaseAction(p *Pipeline, src actionSource, typ string) (*baseAction, error) {
	cfg := src.cfg
	b := &baseAction{
		pipeline:       p,
		key:            src.key,
		typ:            typ,
		endpointName:   cfg.Endpoint,
		convertersName: cfg.Converters,
		scriptName:     cfg.Script,
		forwardTo:      cfg.Forward,
		clrVar:         cfg.ClrVar,
		varsToClear:    config.SplitList(cfg.ClrVar),
		debug:          cfg.Debug,
	}
	if b.convertersName == "" {
		b.convertersName = p.defaultConverters
	}
	if src.resolvable(b.convertersName) {
		convs, err := p.res.Converters.Resolve(b.convertersName)
		if err != nil {
			return nil, &ConfigError{Component: b.component(), Err: err}
		}
		b.converters = convs
	}
	if src.resolvable(b.scriptName) {
		if p.res.Scripts == nil {
			return nil, configErrorf(b.component(), "script %q requested but no scripts are loaded", b.scriptName)
		}
		fn, err := p.res.Scripts.Func(b.scriptName)
		if err != nil {
			return nil, &ConfigError{Component: b.component(), Err: err}
		}
		b.script = fn
	}
	return b, nil
}

func (b *baseAction) component() string { return "action " + b.key }

func (b *baseAction) Key() string                     { return b.key }
func (b *baseAction) Type() string                    { return b.typ }
func (b *baseAction) Endpoint() endpoint.DataEndpoint { return b.endpoint }
func (b *baseAction) Forward() string                 { return b.forwardTo }
func (b *baseAction) VarsToClear() []string           { return b.varsToClear }

// Start binds the data endpoint.
func (b *baseAction) Start(ctx *Context) error {
	ep, err := b.pipeline.dataEndpoint(ctx, b.endpointName)
	if err != nil {
		return err
	}
	if ep == nil && b.needEndpoint {
		return configErrorf(b.component(), "no endpoint for %s action", b.typ)
	}
	b.endpoint = ep
	return nil
}

func (b *baseAction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: (key=%s", b.typ, b.key)
	if b.endpointName != "" {
		fmt.Fprintf(&sb, ", endpoint=%s", b.endpointName)
	}
	if b.convertersName != "" {
		fmt.Fprintf(&sb, ", conv=%s", b.convertersName)
	}
	if b.scriptName != "" {
		fmt.Fprintf(&sb, ", script=%s", b.scriptName)
	}
	if b.forwardTo != "" {
		fmt.Fprintf(&sb, ", forward=%s", b.forwardTo)
	}
	if b.clrVar != "" {
		fmt.Fprintf(&sb, ", clrvar=%s", b.clrVar)
	}
	for _, d := range b.details {
		sb.WriteString(", ")
		sb.WriteString(d)
	}
	sb.WriteByte(')')
	return sb.String()
}

func (b *baseAction) detail(name, value string) {
	if value != "" {
		b.details = append(b.details, name+"="+value)
	}
}

// convertAndCallScript runs the script hook and then, unless the script
// raised Skip, the converter chain.
func (b *baseAction) convertAndCallScript(ctx *Context, key string, v model.Value) (model.Value, error) {
	if b.script != nil {
		out, err := b.script(&scriptEnv{ctx: ctx, action: b, key: key}, v)
		if err != nil {
			return v, fmt.Errorf("script %s: %w", b.scriptName, err)
		}
		v = out
		if ctx.ActionFlags&Skip != 0 {
			return v, nil
		}
	}
	for _, c := range b.converters {
		out, err := c.Convert(ctx, v)
		if err != nil {
			return v, &ConversionError{Converter: c.Name(), Value: v, Err: err}
		}
		v = out
	}
	if b.debug {
		ctx.Logger().Debugf("action %s converted value: %s [%s]", b.key, v.String(), v.TypeName())
	}
	return v, nil
}

// postProcess re-dispatches v under the forward key when one is configured.
func (b *baseAction) postProcess(ctx *Context, v model.Value) (model.Value, error) {
	if b.forwardTo == "" {
		return v, nil
	}
	if ctx.forwardDepth >= MaxForwardDepth {
		return v, configErrorf(b.component(), "forward chain to %s deeper than %d", b.forwardTo, MaxForwardDepth)
	}
	ctx.forwardDepth++
	defer func() { ctx.forwardDepth-- }()
	return ctx.Pipeline.HandleValue(ctx, b.forwardTo, v)
}

// nopAction is registered for keys without actions. It is also available
// as an explicit type to silence keys.
type nopAction struct {
	*baseAction
}

func newNopAction(p *Pipeline, key string) *nopAction {
	return &nopAction{baseAction: &baseAction{pipeline: p, key: key, typ: typeNop}}
}

func (a *nopAction) Start(ctx *Context) error { return nil }

func (a *nopAction) HandleValue(ctx *Context, key string, v model.Value) (model.Value, error) {
	return v, nil
}
