package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

func jsonString(s string) ([]byte, error) {
	return json.Marshal(s)
}

// JSONDecoder reads consecutive JSON documents from a stream, preserving
// object key order.
type JSONDecoder struct {
	dec *json.Decoder
}

// NewJSONDecoder creates a decoder over r.
func NewJSONDecoder(r io.Reader) *JSONDecoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &JSONDecoder{dec: dec}
}

// Next decodes the next document. It returns io.EOF at the end of the stream.
func (d *JSONDecoder) Next() (Value, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return Null(), err
	}
	v, err := d.value(tok)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return v, err
}

func (d *JSONDecoder) value(tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return d.object()
		case '[':
			return d.array()
		}
		return Null(), fmt.Errorf("unexpected delimiter %q", t)
	default:
		return FromNative(t), nil
	}
}

func (d *JSONDecoder) object() (Value, error) {
	m := NewMap()
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return Null(), err
		}
		key, ok := tok.(string)
		if !ok {
			return Null(), fmt.Errorf("expected object key, got %v", tok)
		}
		tok, err = d.dec.Token()
		if err != nil {
			return Null(), err
		}
		v, err := d.value(tok)
		if err != nil {
			return Null(), err
		}
		m.Set(key, v)
	}
	if _, err := d.dec.Token(); err != nil {
		return Null(), err
	}
	return MapValue(m), nil
}

func (d *JSONDecoder) array() (Value, error) {
	out := []Value{}
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return Null(), err
		}
		v, err := d.value(tok)
		if err != nil {
			return Null(), err
		}
		out = append(out, v)
	}
	if _, err := d.dec.Token(); err != nil {
		return Null(), err
	}
	return Seq(out...), nil
}

// DecodeJSON decodes a single JSON document.
func DecodeJSON(r io.Reader) (Value, error) {
	v, err := NewJSONDecoder(r).Next()
	if errors.Is(err, io.EOF) {
		return Null(), nil
	}
	return v, err
}

// YAMLDecoder reads consecutive YAML documents, preserving mapping order.
// Mapping keys keep their literal text: "y" or "on" stay strings.
type YAMLDecoder struct {
	dec *yaml.Decoder
}

// NewYAMLDecoder creates a decoder over r.
func NewYAMLDecoder(r io.Reader) *YAMLDecoder {
	return &YAMLDecoder{dec: yaml.NewDecoder(r)}
}

// Next decodes the next document. It returns io.EOF at the end of the stream.
func (d *YAMLDecoder) Next() (Value, error) {
	var doc yaml.Node
	if err := d.dec.Decode(&doc); err != nil {
		return Null(), err
	}
	return fromYAMLNode(&doc)
}

func fromYAMLNode(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return fromYAMLNode(n.Content[0])
	case yaml.AliasNode:
		return fromYAMLNode(n.Alias)
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind == yaml.AliasNode {
				k = k.Alias
			}
			v, err := fromYAMLNode(n.Content[i+1])
			if err != nil {
				return Null(), err
			}
			m.Set(k.Value, v)
		}
		return MapValue(m), nil
	case yaml.SequenceNode:
		out := make([]Value, len(n.Content))
		for i, e := range n.Content {
			v, err := fromYAMLNode(e)
			if err != nil {
				return Null(), err
			}
			out[i] = v
		}
		return Seq(out...), nil
	}
	var raw any
	if err := n.Decode(&raw); err != nil {
		return Null(), fmt.Errorf("line %d: %w", n.Line, err)
	}
	return FromNative(raw), nil
}
