package converter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

type formatFlags uint8

const (
	formatNeedArguments formatFlags = 1 << iota
	formatNeedValue
)

// formatArgument fetches a placeholder argument from a field or a variable.
type formatArgument struct {
	name    string
	isField bool
}

func (a formatArgument) get(ctx Context) model.Value {
	if ctx == nil {
		return model.Null()
	}
	if a.isField {
		return ctx.Field(a.name)
	}
	return ctx.Variable(a.name)
}

func parseFormatArgument(arg string) (formatArgument, error) {
	lc := strings.ToLower(strings.TrimSpace(arg))
	if strings.HasSuffix(lc, ")") {
		for _, p := range []struct {
			prefix  string
			isField bool
		}{{"field(", true}, {"f(", true}, {"key(", false}, {"k(", false}} {
			if strings.HasPrefix(lc, p.prefix) {
				return formatArgument{name: strings.TrimSpace(lc[len(p.prefix) : len(lc)-1]), isField: p.isField}, nil
			}
		}
	}
	return formatArgument{}, fmt.Errorf("invalid format argument %q", arg)
}

func parseFormatFlags(s string) (formatFlags, error) {
	if strings.TrimSpace(s) == "" {
		return formatNeedArguments, nil
	}
	var f formatFlags
	for _, part := range config.SplitList(s) {
		switch strings.ToLower(part) {
		case "none":
		case "needarguments":
			f |= formatNeedArguments
		case "needvalue":
			f |= formatNeedValue
		case "needall":
			f |= formatNeedArguments | formatNeedValue
		default:
			return 0, fmt.Errorf("unknown format flag %q", part)
		}
	}
	return f, nil
}

// formatConverter renders "{0}"-style templates. Placeholder 0 is the
// converted value, 1..n are the configured arguments.
type formatConverter struct {
	base
	format string
	args   []formatArgument
	flags  formatFlags
}

func newFormatConverter(cfg config.ConverterConfig) (Converter, error) {
	if cfg.Format == "" {
		return nil, fmt.Errorf("converter %s: format is required", cfg.Name)
	}
	flags, err := parseFormatFlags(cfg.Flags)
	if err != nil {
		return nil, fmt.Errorf("converter %s: %w", cfg.Name, err)
	}
	c := &formatConverter{format: cfg.Format, flags: flags}
	for _, a := range cfg.Arguments {
		arg, err := parseFormatArgument(a)
		if err != nil {
			return nil, fmt.Errorf("converter %s: %w", cfg.Name, err)
		}
		c.args = append(c.args, arg)
	}
	c.base = base{name: cfg.Name, needValue: flags&formatNeedValue != 0, scalar: c.convert}
	return c, nil
}

func (c *formatConverter) convert(ctx Context, v model.Value) (model.Value, error) {
	if c.flags&formatNeedValue != 0 && v.IsNull() {
		return model.Null(), nil
	}
	vals := make([]model.Value, 0, len(c.args)+1)
	vals = append(vals, v)
	for _, a := range c.args {
		arg := a.get(ctx)
		if c.flags&formatNeedArguments != 0 && arg.IsEmpty() {
			return model.Null(), nil
		}
		vals = append(vals, arg)
	}
	s, err := renderFormat(c.format, vals)
	if err != nil {
		return model.Null(), err
	}
	return model.String(s), nil
}

// renderFormat substitutes {n} placeholders. "{{" and "}}" are literal braces.
func renderFormat(format string, vals []model.Value) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		ch := format[i]
		switch {
		case ch == '{' && i+1 < len(format) && format[i+1] == '{':
			sb.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(format) && format[i+1] == '}':
			sb.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder in %q", format)
			}
			n, err := strconv.Atoi(strings.TrimSpace(format[i+1 : i+end]))
			if err != nil || n < 0 || n >= len(vals) {
				return "", fmt.Errorf("invalid placeholder %q in %q", format[i:i+end+1], format)
			}
			sb.WriteString(vals[n].String())
			i += end
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String(), nil
}
