package converter

import (
	"fmt"
	"math"
	"time"

	"github.com/itchyny/gojq"

	"github.com/GabrielNunesIT/import-pipeline/internal/config"
	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// jqConverter runs a jq query over the whole value. A single result is
// returned as is, several results as a sequence.
type jqConverter struct {
	name string
	code *gojq.Code
}

func newJQConverter(cfg config.ConverterConfig) (Converter, error) {
	if cfg.Query == "" {
		return nil, fmt.Errorf("converter %s: query is required", cfg.Name)
	}
	q, err := gojq.Parse(cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("converter %s: parsing jq query: %w", cfg.Name, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("converter %s: compiling jq query: %w", cfg.Name, err)
	}
	return &jqConverter{name: cfg.Name, code: code}, nil
}

func (c *jqConverter) Name() string { return c.name }

func (c *jqConverter) Convert(_ Context, v model.Value) (model.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	var results []model.Value
	iter := c.code.Run(jqInput(v))
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return model.Null(), fmt.Errorf("jq %s: %w", c.name, err)
		}
		results = append(results, model.FromNative(out))
	}
	switch len(results) {
	case 0:
		return model.Null(), nil
	case 1:
		return results[0], nil
	}
	return model.Seq(results...), nil
}

// jqInput converts a value into the types gojq accepts.
func jqInput(v model.Value) any {
	switch v.Kind() {
	case model.KindInt:
		i := v.Int()
		if i >= math.MinInt && i <= math.MaxInt {
			return int(i)
		}
		return float64(i)
	case model.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case model.KindSeq:
		src := v.Seq()
		out := make([]any, len(src))
		for i, e := range src {
			out[i] = jqInput(e)
		}
		return out
	case model.KindMap:
		out := make(map[string]any, v.Map().Len())
		v.Map().Range(func(k string, e model.Value) bool {
			out[k] = jqInput(e)
			return true
		})
		return out
	case model.KindOpaque:
		return v.String()
	}
	return v.Native()
}
