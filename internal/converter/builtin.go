package converter

import (
	"fmt"
	"html"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// builtinNames are available without configuration.
var builtinNames = []string{
	"htmlencode", "htmldecode", "urlencode", "urldecode",
	"date", "datetime", "time", "dateonly",
	"trim", "trimwhite", "lower", "upper", "string",
	"double", "int32", "int64", "split", "uuid",
}

func newTextConverter(cfg config.ConverterConfig, typ string) Converter {
	b := &base{name: cfg.Name, needValue: true}
	switch typ {
	case "htmlencode":
		b.scalar = stringOnly(html.EscapeString)
	case "htmldecode":
		b.scalar = stringOnly(html.UnescapeString)
	case "urlencode":
		b.scalar = stringOnly(url.QueryEscape)
	case "urldecode":
		b.scalar = stringOnly(func(s string) string {
			if d, err := url.QueryUnescape(s); err == nil {
				return d
			}
			return s
		})
	case "trim":
		b.scalar = stringOnly(strings.TrimSpace)
	case "trimwhite":
		b.scalar = stringOnly(trimWhite)
	case "lower":
		b.scalar = stringOnly(strings.ToLower)
	case "upper":
		b.scalar = stringOnly(strings.ToUpper)
	case "string":
		b.scalar = toString
	case "split":
		sep := cfg.Sep
		if sep == "" {
			sep = ";"
		}
		b.scalar = func(_ Context, v model.Value) (model.Value, error) {
			if v.Kind() != model.KindString {
				return v, nil
			}
			parts := strings.Split(v.String(), sep)
			out := make([]model.Value, len(parts))
			for i, p := range parts {
				out[i] = model.String(strings.TrimSpace(p))
			}
			return model.Seq(out...), nil
		}
	case "uuid":
		b.needValue = false
		b.scalar = func(_ Context, v model.Value) (model.Value, error) {
			if v.IsNull() {
				return model.String(uuid.NewString()), nil
			}
			return model.String(uuid.NewSHA1(uuid.NameSpaceOID, []byte(v.String())).String()), nil
		}
	}
	return b
}

// trimWhite trims and collapses inner whitespace runs to a single space.
func trimWhite(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func toString(_ Context, v model.Value) (model.Value, error) {
	switch v.Kind() {
	case model.KindString:
		return v, nil
	case model.KindMap, model.KindSeq, model.KindTime:
		return model.String(v.String()), nil
	}
	s, err := cast.ToStringE(v.Native())
	if err != nil {
		return model.Null(), err
	}
	return model.String(s), nil
}

type dateConverter struct {
	base
	formats  []string
	utc      bool
	dateOnly bool
}

func newDateConverter(cfg config.ConverterConfig, typ string) Converter {
	c := &dateConverter{
		formats:  cfg.Formats,
		utc:      cfg.UTC && typ != "dateonly",
		dateOnly: typ == "dateonly",
	}
	c.base = base{name: cfg.Name, needValue: true, scalar: c.convert}
	return c
}

func (c *dateConverter) convert(_ Context, v model.Value) (model.Value, error) {
	var t time.Time
	switch v.Kind() {
	case model.KindTime:
		t = v.Time()
	case model.KindString:
		parsed, err := c.parse(v.String())
		if err != nil {
			return model.Null(), err
		}
		t = parsed
	default:
		parsed, err := cast.ToTimeE(v.Native())
		if err != nil {
			return model.Null(), err
		}
		t = parsed
	}
	if c.utc {
		t = t.UTC()
	}
	if c.dateOnly {
		y, m, d := t.Date()
		t = time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
	return model.Time(t), nil
}

func (c *dateConverter) parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range c.formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return cast.ToTimeE(s)
}

type numberConverter struct {
	base
	groupSep   string
	decimalSep string
	bits       int // 0 for float64
}

func newNumberConverter(cfg config.ConverterConfig, typ string) Converter {
	c := &numberConverter{groupSep: cfg.GroupSep, decimalSep: cfg.DecimalSep}
	switch typ {
	case "int32":
		c.bits = 32
	case "int64":
		c.bits = 64
	}
	c.base = base{name: cfg.Name, needValue: true, scalar: c.convert}
	return c
}

func (c *numberConverter) normalize(s string) string {
	s = strings.TrimSpace(s)
	if c.groupSep != "" {
		s = strings.ReplaceAll(s, c.groupSep, "")
	}
	if c.decimalSep != "" && c.decimalSep != "." {
		s = strings.ReplaceAll(s, c.decimalSep, ".")
	}
	return s
}

func (c *numberConverter) convert(_ Context, v model.Value) (model.Value, error) {
	if c.bits == 0 {
		return c.toFloat(v)
	}
	return c.toInt(v)
}

func (c *numberConverter) toFloat(v model.Value) (model.Value, error) {
	switch v.Kind() {
	case model.KindFloat:
		return v, nil
	case model.KindInt:
		return model.Float(v.Float()), nil
	case model.KindString:
		f, err := strconv.ParseFloat(c.normalize(v.String()), 64)
		if err != nil {
			return model.Null(), fmt.Errorf("cannot convert %q to double", v.String())
		}
		return model.Float(f), nil
	}
	f, err := cast.ToFloat64E(v.Native())
	if err != nil {
		return model.Null(), err
	}
	return model.Float(f), nil
}

func (c *numberConverter) toInt(v model.Value) (model.Value, error) {
	var i int64
	switch v.Kind() {
	case model.KindInt:
		i = v.Int()
	case model.KindFloat:
		i = int64(v.Float())
	case model.KindString:
		s := c.normalize(v.String())
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != math.Trunc(f) {
				return model.Null(), fmt.Errorf("cannot convert %q to int%d", v.String(), c.bits)
			}
			n = int64(f)
		}
		i = n
	default:
		n, err := cast.ToInt64E(v.Native())
		if err != nil {
			return model.Null(), err
		}
		i = n
	}
	if c.bits == 32 && (i > math.MaxInt32 || i < math.MinInt32) {
		return model.Null(), fmt.Errorf("value %d overflows int32", i)
	}
	return model.Int(i), nil
}
