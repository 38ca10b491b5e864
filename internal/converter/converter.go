// Package converter implements the value converters applied by pipeline actions.
package converter

import (
	"fmt"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// Context gives converters read access to the running pipeline.
type Context interface {
	// Variable returns a pipeline variable, Null when unset.
	Variable(name string) model.Value
	// Field returns a field from the current action's accumulator.
	Field(name string) model.Value
}

// Converter transforms a value.
type Converter interface {
	Name() string
	Convert(ctx Context, v model.Value) (model.Value, error)
}

// MissedDumper is implemented by converters that collect unmatched inputs.
type MissedDumper interface {
	DumpMissed(log logger.ILogger)
}

type scalarFunc func(ctx Context, v model.Value) (model.Value, error)

// base applies a scalar function with the shared null and sequence handling:
// Null passes through unless needValue is false, sequences convert element-wise.
type base struct {
	name      string
	needValue bool
	scalar    scalarFunc
}

func (b *base) Name() string { return b.name }

func (b *base) Convert(ctx Context, v model.Value) (model.Value, error) {
	switch v.Kind() {
	case model.KindNull:
		if b.needValue {
			return v, nil
		}
		return b.scalar(ctx, v)
	case model.KindSeq:
		src := v.Seq()
		out := make([]model.Value, len(src))
		for i, e := range src {
			c, err := b.scalar(ctx, e)
			if err != nil {
				return model.Null(), err
			}
			out[i] = c
		}
		return model.Seq(out...), nil
	}
	return b.scalar(ctx, v)
}

// stringOnly wraps a string transform; non-string values pass unchanged.
func stringOnly(fn func(string) string) scalarFunc {
	return func(_ Context, v model.Value) (model.Value, error) {
		if v.Kind() != model.KindString {
			return v, nil
		}
		return model.String(fn(v.String())), nil
	}
}

// New creates a converter from its configuration. The type defaults to the name.
func New(cfg config.ConverterConfig) (Converter, error) {
	typ := strings.ToLower(cfg.Type)
	if typ == "" {
		typ = strings.ToLower(cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = typ
	}

	switch typ {
	case "htmlencode", "htmldecode", "urlencode", "urldecode",
		"trim", "trimwhite", "lower", "upper", "string", "split", "uuid":
		return newTextConverter(cfg, typ), nil
	case "date", "datetime", "time", "dateonly":
		return newDateConverter(cfg, typ), nil
	case "double", "int32", "int64":
		return newNumberConverter(cfg, typ), nil
	case "format":
		return newFormatConverter(cfg)
	case "replace":
		return newReplaceConverter(cfg)
	case "jq":
		return newJQConverter(cfg)
	}
	return nil, fmt.Errorf("unknown converter type %q", typ)
}
