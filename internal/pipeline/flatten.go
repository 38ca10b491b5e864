package pipeline

import (
	"math"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

// UnlimitedDepth expands structured values completely.
const UnlimitedDepth = math.MaxInt32

// Sink receives keyed events. Pipeline is the sink datasources feed.
type Sink interface {
	HandleValue(ctx *Context, key string, v model.Value) (model.Value, error)
}

// Flatten sends v to sink as a sequence of keyed events. Sequence elements
// are sent under key/_v, map entries under key/<name> (key/_o for an empty
// name), each container followed by (key, Null). Once maxDepth levels are
// expanded, remaining containers are sent as single values.
func Flatten(ctx *Context, sink Sink, v model.Value, key string, maxDepth int) error {
	switch v.Kind() {
	case model.KindSeq:
		if maxDepth <= 0 {
			break
		}
		sub := key + "/_v"
		for _, e := range v.Seq() {
			if err := Flatten(ctx, sink, e, sub, maxDepth-1); err != nil {
				return err
			}
		}
		_, err := sink.HandleValue(ctx, key, model.Null())
		return err

	case model.KindMap:
		if maxDepth <= 0 {
			break
		}
		var err error
		if m := v.Map(); m != nil {
			m.Range(func(k string, e model.Value) bool {
				if k == "" {
					k = "_o"
				}
				err = Flatten(ctx, sink, e, key+"/"+k, maxDepth-1)
				return err == nil
			})
		}
		if err != nil {
			return err
		}
		_, err = sink.HandleValue(ctx, key, model.Null())
		return err
	}
	_, err := sink.HandleValue(ctx, key, v)
	return err
}
