// Package model defines the value types flowing through an import pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindSeq
	KindMap
	KindOpaque
)

var kindNames = [...]string{"Null", "Bool", "Int", "Float", "String", "Time", "Seq", "Map", "Opaque"}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a closed variant over the value shapes an event can carry.
// The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	seq  []Value
	m    *Map
	o    any
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps a 64-bit integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a 64-bit float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Time wraps a timestamp.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Seq wraps an ordered sequence.
func Seq(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindSeq, seq: vs}
}

// MapValue wraps an ordered map. A nil map is wrapped as an empty one.
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Opaque wraps a value the pipeline should pass along without interpretation.
func Opaque(o any) Value {
	if o == nil {
		return Null()
	}
	return Value{kind: KindOpaque, o: o}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// TypeName is used in diagnostics.
func (v Value) TypeName() string { return v.kind.String() }

// Bool returns the boolean payload, false for other kinds.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns the integer payload. Floats are truncated.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return int64(v.f)
	}
	return 0
}

// Float returns the numeric payload as float64.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.i)
	}
	return 0
}

// Time returns the timestamp payload.
func (v Value) Time() time.Time { return v.t }

// Seq returns the sequence payload, nil for other kinds.
func (v Value) Seq() []Value { return v.seq }

// Map returns the map payload, nil for other kinds.
func (v Value) Map() *Map { return v.m }

// Opaque returns the opaque payload.
func (v Value) Opaque() any { return v.o }

// String renders the value as text. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindSeq, KindMap:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s>", v.kind)
		}
		return string(b)
	default:
		return fmt.Sprint(v.o)
	}
}

// Truthy reports whether the value counts as true in a condition:
// non-null, non-false, non-zero and non-empty.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0 && !math.IsNaN(v.f)
	case KindString:
		return v.s != "" && !strings.EqualFold(v.s, "false")
	case KindTime:
		return !v.t.IsZero()
	case KindSeq:
		return len(v.seq) > 0
	case KindMap:
		return v.m.Len() > 0
	}
	return true
}

// IsEmpty reports whether the value is null or renders as an empty string.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == ""
	case KindSeq:
		return len(v.seq) == 0
	case KindMap:
		return v.m.Len() == 0
	}
	return false
}

// Native converts the value into plain Go values: nil, bool, int64, float64,
// string, time.Time, []any, map[string]any or the opaque payload.
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindSeq:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Native()
		}
		return out
	case KindMap:
		return v.m.Native()
	default:
		return v.o
	}
}

// MarshalJSON keeps map key order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindMap:
		return v.m.MarshalJSON()
	case KindSeq:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.seq {
			if i > 0 {
				sb.WriteByte(',')
			}
			b, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			sb.Write(b)
		}
		sb.WriteByte(']')
		return []byte(sb.String()), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
	}
	return json.Marshal(v.Native())
}

// FromNative converts decoded Go values (JSON, YAML, script results) into a Value.
// Unknown types become Opaque.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Map:
		return MapValue(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Float(f)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case time.Time:
		return Time(t)
	case []Value:
		return Seq(t...)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromNative(e)
		}
		return Seq(out...)
	case []string:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = String(e)
		}
		return Seq(out...)
	case map[string]any:
		return MapValue(MapFromNative(t))
	case map[any]any:
		return MapValue(mapFromAnyKeys(t))
	}
	return Opaque(x)
}
