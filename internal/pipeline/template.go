package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
)

// Template creates actions for keys that match its expression. String
// attributes containing '$' are expanded against the match, so
// expr "^record/(.*)$" with field "$1" maps record/name to field name.
type Template struct {
	pipeline *Pipeline
	expr     string
	re       *regexp.Regexp
	proto    config.ActionConfig
	typ      string
}

func newTemplate(p *Pipeline, cfg config.TemplateConfig) (*Template, error) {
	component := p.component() + " template"
	if cfg.Expr == "" {
		return nil, configErrorf(component, "template without expr")
	}
	re, err := regexp.Compile("(?i)" + cfg.Expr)
	if err != nil {
		return nil, &ConfigError{Component: component + " " + cfg.Expr, Err: err}
	}
	proto, err := newAction(p, actionSource{cfg: cfg.ActionConfig, key: cfg.Expr, prototype: true})
	if err != nil {
		return nil, err
	}
	return &Template{pipeline: p, expr: cfg.Expr, re: re, proto: cfg.ActionConfig, typ: proto.Type()}, nil
}

// Expr returns the template expression.
func (t *Template) Expr() string { return t.expr }

// OptCreateAction returns a new action for key, or nil when key does not match.
func (t *Template) OptCreateAction(ctx *Context, key string) (Action, error) {
	if !t.re.MatchString(key) {
		return nil, nil
	}
	cfg := t.expand(key)
	a, err := newAction(t.pipeline, actionSource{cfg: cfg, key: key})
	if err != nil {
		return nil, err
	}
	if ctx != nil && cfg.Debug {
		ctx.Logger().Debugf("template %s created %s", t.expr, a)
	}
	return a, nil
}

// expand substitutes the match into every templated attribute. The
// condition expression is a pattern itself and is left alone.
func (t *Template) expand(key string) config.ActionConfig {
	cfg := t.proto
	for _, s := range []*string{
		&cfg.Endpoint, &cfg.Converters, &cfg.Script, &cfg.Forward, &cfg.ClrVar,
		&cfg.Field, &cfg.FieldFromVar, &cfg.ToVar, &cfg.FromVar, &cfg.FromField, &cfg.FromValue,
		&cfg.Categories, &cfg.SkipUntil, &cfg.Prefix, &cfg.Message,
	} {
		*s = t.optReplace(key, *s)
	}
	return cfg
}

func (t *Template) optReplace(key, repl string) string {
	if !strings.Contains(repl, "$") {
		return repl
	}
	return t.re.ReplaceAllString(key, repl)
}

func (t *Template) String() string {
	return fmt.Sprintf("template %s: (expr=%s)", t.typ, t.expr)
}
