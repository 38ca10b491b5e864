// Package category classifies records by matching field values against
// named regex rulesets.
package category

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// Record is the accumulator a collection reads from and writes to.
type Record interface {
	GetField(name string) model.Value
	SetField(name string, v model.Value, policy model.WritePolicy, sep string)
}

type rule struct {
	field    string
	re       *regexp.Regexp
	category string
}

// Collection is a named, ordered ruleset writing matched categories to a field.
type Collection struct {
	name     string
	field    string
	def      string
	multiple bool
	rules    []rule
}

// New compiles a collection.
func New(cfg config.CategoryConfig) (*Collection, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("category collection without name")
	}
	c := &Collection{
		name:     cfg.Name,
		field:    cfg.Field,
		def:      cfg.Default,
		multiple: cfg.Multiple,
	}
	if c.field == "" {
		c.field = "category"
	}
	for i, rc := range cfg.Rules {
		if rc.Field == "" || rc.Category == "" {
			return nil, fmt.Errorf("category %s: rule %d needs field and category", cfg.Name, i)
		}
		re, err := regexp.Compile("(?i)" + rc.Expr)
		if err != nil {
			return nil, fmt.Errorf("category %s: rule %d: %w", cfg.Name, i, err)
		}
		c.rules = append(c.rules, rule{field: rc.Field, re: re, category: rc.Category})
	}
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Apply evaluates the rules against rec and appends the matched categories
// to the target field. Without a match the default, if any, is written.
func (c *Collection) Apply(rec Record) []string {
	var matched []string
	seen := map[string]bool{}
	for _, r := range c.rules {
		if seen[r.category] || !r.matches(rec.GetField(r.field)) {
			continue
		}
		seen[r.category] = true
		matched = append(matched, r.category)
		if !c.multiple {
			break
		}
	}
	if len(matched) == 0 && c.def != "" {
		matched = []string{c.def}
	}
	for _, m := range matched {
		rec.SetField(c.field, model.String(m), model.Append, "")
	}
	return matched
}

func (r rule) matches(v model.Value) bool {
	if v.Kind() == model.KindSeq {
		for _, e := range v.Seq() {
			if r.matches(e) {
				return true
			}
		}
		return false
	}
	if v.IsNull() {
		return false
	}
	return r.re.MatchString(v.String())
}

// Registry holds all configured collections by name.
type Registry struct {
	byName map[string]*Collection
}

// NewRegistry compiles all collections.
func NewRegistry(cfgs []config.CategoryConfig) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Collection)}
	for _, cfg := range cfgs {
		c, err := New(cfg)
		if err != nil {
			return nil, err
		}
		r.byName[strings.ToLower(c.name)] = c
	}
	return r, nil
}

// Resolve turns a comma or semicolon separated list into collections.
func (r *Registry) Resolve(names string) ([]*Collection, error) {
	var out []*Collection
	for _, n := range config.SplitList(names) {
		c, ok := r.byName[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("cannot find category collection %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}
