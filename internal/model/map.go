package model

import (
	"fmt"
	"sort"
	"strings"
)

// WritePolicy decides how a field write combines with an existing value.
type WritePolicy uint8

const (
	// OverWrite replaces the existing value.
	OverWrite WritePolicy = iota
	// Append joins strings with the separator, or accumulates a sequence
	// when no separator is given.
	Append
	// KeepFirst leaves an existing non-null value untouched.
	KeepFirst
)

// ParseWritePolicy maps a config flag to a WritePolicy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return OverWrite, nil
	case "append":
		return Append, nil
	case "keepfirst":
		return KeepFirst, nil
	}
	return OverWrite, fmt.Errorf("unknown write policy %q", s)
}

// Map is a string-keyed map that remembers insertion order.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// MapFromNative converts a Go map. Keys are sorted since Go maps are unordered.
func MapFromNative(src map[string]any) *Map {
	m := NewMap()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, FromNative(src[k]))
	}
	return m
}

func mapFromAnyKeys(src map[any]any) *Map {
	byName := make(map[string]any, len(src))
	keys := make([]string, 0, len(src))
	for k, v := range src {
		name := fmt.Sprint(k)
		byName[name] = v
		keys = append(keys, name)
	}
	sort.Strings(keys)
	m := NewMap()
	for _, k := range keys {
		m.Set(k, FromNative(byName[k]))
	}
	return m
}

// Len returns the number of entries. A nil map is empty.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Null(), false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Set stores a value, keeping the original position of an existing key.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

// Delete removes a key.
func (m *Map) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Clear removes all entries.
func (m *Map) Clear() {
	m.keys = m.keys[:0]
	m.vals = make(map[string]Value)
}

// Range calls fn for each entry in order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	c := NewMap()
	m.Range(func(k string, v Value) bool {
		c.Set(k, cloneValue(v))
		return true
	})
	return c
}

func cloneValue(v Value) Value {
	switch v.kind {
	case KindMap:
		return MapValue(v.m.Clone())
	case KindSeq:
		out := make([]Value, len(v.seq))
		for i, e := range v.seq {
			out[i] = cloneValue(e)
		}
		return Seq(out...)
	}
	return v
}

// GetPath resolves a dot separated path through nested maps.
func (m *Map) GetPath(path string) Value {
	cur := m
	parts := strings.Split(path, ".")
	for i, p := range parts {
		v, ok := cur.Get(p)
		if !ok {
			return Null()
		}
		if i == len(parts)-1 {
			return v
		}
		if v.kind != KindMap {
			return Null()
		}
		cur = v.m
	}
	return Null()
}

// SetPath stores v under a dot separated path, creating intermediate maps.
// A non-map intermediate value is replaced.
func (m *Map) SetPath(path string, v Value) {
	parent, leaf := m.parentOf(path)
	parent.Set(leaf, v)
}

// DeletePath removes the value under a dot separated path.
func (m *Map) DeletePath(path string) {
	parent, leaf := m.parentOf(path)
	parent.Delete(leaf)
}

func (m *Map) parentOf(path string) (*Map, string) {
	cur := m
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		v, ok := cur.Get(p)
		if !ok || v.kind != KindMap {
			v = MapValue(NewMap())
			cur.Set(p, v)
		}
		cur = v.m
	}
	return cur, parts[len(parts)-1]
}

// Write stores v under path according to policy.
// An empty path merges a map value into m at top level.
func (m *Map) Write(path string, v Value, policy WritePolicy, sep string) {
	if path == "" {
		if v.kind == KindMap {
			v.m.Range(func(k string, e Value) bool {
				m.Write(k, e, policy, sep)
				return true
			})
		}
		return
	}
	if v.IsNull() && policy != OverWrite {
		return
	}
	existing := m.GetPath(path)
	if existing.IsNull() {
		m.SetPath(path, v)
		return
	}
	switch policy {
	case KeepFirst:
		return
	case Append:
		m.SetPath(path, appendValue(existing, v, sep))
	default:
		m.SetPath(path, v)
	}
}

func appendValue(existing, v Value, sep string) Value {
	if sep != "" {
		return String(existing.String() + sep + v.String())
	}
	var out []Value
	if existing.kind == KindSeq {
		out = append(out, existing.seq...)
	} else {
		out = append(out, existing)
	}
	if v.kind == KindSeq {
		out = append(out, v.seq...)
	} else {
		out = append(out, v)
	}
	return Seq(out...)
}

// Native converts to a plain Go map, dropping order.
func (m *Map) Native() map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v Value) bool {
		out[k] = v.Native()
		return true
	})
	return out
}

// MarshalJSON writes keys in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	i := 0
	var err error
	m.Range(func(k string, v Value) bool {
		if i > 0 {
			sb.WriteByte(',')
		}
		i++
		kb, kerr := jsonString(k)
		if kerr != nil {
			err = kerr
			return false
		}
		sb.Write(kb)
		sb.WriteByte(':')
		vb, verr := v.MarshalJSON()
		if verr != nil {
			err = verr
			return false
		}
		sb.Write(vb)
		return true
	})
	if err != nil {
		return nil, err
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
