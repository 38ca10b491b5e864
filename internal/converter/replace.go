package converter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

type replaceFlags uint8

const (
	replaceEvaluateAll replaceFlags = 1 << iota
	replaceNoMatchReturnNull
	replaceNoMatchReturnOriginal
)

func parseReplaceFlags(s string, def replaceFlags) (replaceFlags, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	var f replaceFlags
	for _, part := range config.SplitList(s) {
		switch strings.ToLower(part) {
		case "evaluateall":
			f |= replaceEvaluateAll
		case "nomatchreturnnull":
			f |= replaceNoMatchReturnNull
		case "nomatchreturnoriginal":
			f |= replaceNoMatchReturnOriginal
		default:
			return 0, fmt.Errorf("unknown replace flag %q", part)
		}
	}
	return f, nil
}

// replacer is a single value or regex match with its replacement.
type replacer struct {
	re     *regexp.Regexp
	value  string
	repl   string
	isExpr bool
}

func newReplacer(cfg config.ReplaceConfig) (*replacer, error) {
	r := &replacer{repl: cfg.Repl}
	if cfg.ReplExpr != "" {
		r.repl = cfg.ReplExpr
		r.isExpr = true
	}
	if cfg.Expr != "" {
		re, err := regexp.Compile("(?i)" + cfg.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid replace expression %q: %w", cfg.Expr, err)
		}
		r.re = re
		return r, nil
	}
	if r.isExpr {
		return nil, fmt.Errorf("replexpr %q needs an expr, not a value", cfg.ReplExpr)
	}
	r.value = cfg.Value
	return r, nil
}

func (r *replacer) tryReplace(s string) (string, bool) {
	if r.re != nil {
		if !r.re.MatchString(s) {
			return s, false
		}
		if r.isExpr {
			return r.re.ReplaceAllString(s, r.repl), true
		}
		return r.repl, true
	}
	if !strings.EqualFold(s, r.value) {
		return s, false
	}
	return r.repl, true
}

// replaceConverter maps values through an ordered replacement list.
type replaceConverter struct {
	base
	replacers []*replacer
	flags     replaceFlags
	maxMissed int
	missed    []string
	missedSet map[string]struct{}
}

func newReplaceConverter(cfg config.ConverterConfig) (Converter, error) {
	def := replaceNoMatchReturnOriginal
	c := &replaceConverter{maxMissed: cfg.DumpMissed}
	if c.maxMissed > 0 {
		c.missedSet = make(map[string]struct{})
		def = replaceNoMatchReturnNull
	}
	flags, err := parseReplaceFlags(cfg.Flags, def)
	if err != nil {
		return nil, fmt.Errorf("converter %s: %w", cfg.Name, err)
	}
	c.flags = flags
	for _, rc := range cfg.Replace {
		r, err := newReplacer(rc)
		if err != nil {
			return nil, fmt.Errorf("converter %s: %w", cfg.Name, err)
		}
		c.replacers = append(c.replacers, r)
	}
	c.base = base{name: cfg.Name, needValue: true, scalar: c.convert}
	return c, nil
}

func (c *replaceConverter) convert(_ Context, v model.Value) (model.Value, error) {
	s := v.String()
	if out, ok := c.tryReplace(s); ok {
		return model.String(out), nil
	}
	if c.flags&replaceNoMatchReturnNull != 0 {
		return model.Null(), nil
	}
	return model.String(s), nil
}

func (c *replaceConverter) tryReplace(s string) (string, bool) {
	if s == "" {
		return s, false
	}
	replaced := false
	for _, r := range c.replacers {
		out, ok := r.tryReplace(s)
		if !ok {
			continue
		}
		s = out
		replaced = true
		if c.flags&replaceEvaluateAll == 0 {
			return s, true
		}
	}
	if replaced {
		return s, true
	}
	if c.missedSet != nil && len(c.missed) < c.maxMissed {
		if _, seen := c.missedSet[s]; !seen {
			c.missedSet[s] = struct{}{}
			c.missed = append(c.missed, s)
		}
	}
	return s, false
}

// Missed returns the unmatched values collected so far.
func (c *replaceConverter) Missed() []string {
	return append([]string(nil), c.missed...)
}

// DumpMissed logs and resets the unmatched values.
func (c *replaceConverter) DumpMissed(log logger.ILogger) {
	if c.missedSet == nil {
		return
	}
	log.Infof("missed %q conversions: %d", c.name, len(c.missed))
	for _, m := range c.missed {
		log.Infof("-- %s", m)
	}
	c.missed = nil
	c.missedSet = make(map[string]struct{})
}
