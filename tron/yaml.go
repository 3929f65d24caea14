package tron

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	yamlNullTag   = "!!null"
	yamlBoolTag   = "!!bool"
	yamlIntTag    = "!!int"
	yamlFloatTag  = "!!float"
	yamlStrTag    = "!!str"
	yamlBinaryTag = "!!binary"
)

// ToYAML renders the document as a single YAML document. Members keep
// their insertion order and bytes values are tagged !!binary.
func (d *Document) ToYAML() ([]byte, error) {
	root, err := d.yamlNode(Root, 0)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yamlScalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func yamlFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return ".nan"
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func (d *Document) yamlNode(h Handle, depth int) (*yaml.Node, error) {
	if depth > MaxNesting {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, MaxNesting)
	}
	t, err := d.TypeAt(h)
	if err != nil {
		return nil, err
	}
	var inner error
	conv := func(v Value) *yaml.Node {
		switch v.Type {
		case TypeNull:
			return yamlScalar(yamlNullTag, "null")
		case TypeBool:
			return yamlScalar(yamlBoolTag, strconv.FormatBool(v.Bool))
		case TypeInt64:
			return yamlScalar(yamlIntTag, strconv.FormatInt(v.Int, 10))
		case TypeFloat64:
			return yamlScalar(yamlFloatTag, yamlFloat(v.Float))
		case TypeString:
			return yamlScalar(yamlStrTag, v.Str)
		case TypeBytes:
			return yamlScalar(yamlBinaryTag, base64.StdEncoding.EncodeToString(v.Bytes))
		}
		var n *yaml.Node
		n, inner = d.yamlNode(v.Handle, depth+1)
		return n
	}
	if t == TypeObject {
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		err = d.Range(h, func(key string, v Value) bool {
			n.Content = append(n.Content, yamlScalar(yamlStrTag, key), conv(v))
			return inner == nil
		})
		if err == nil {
			err = inner
		}
		return n, err
	}
	n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	err = d.RangeArray(h, func(_ int, v Value) bool {
		n.Content = append(n.Content, conv(v))
		return inner == nil
	})
	if err == nil {
		err = inner
	}
	return n, err
}

// FromYAML builds a document from the first YAML document in data, whose
// top level node must be a mapping or a sequence. Aliases are expanded.
func FromYAML(data []byte, opts ...Option) (*Document, error) {
	var n yaml.Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedYAML, err)
	}
	if n.Kind != yaml.DocumentNode || len(n.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedYAML)
	}
	root := resolveAlias(n.Content[0])
	var kind Type
	switch root.Kind {
	case yaml.MappingNode:
		kind = TypeObject
	case yaml.SequenceNode:
		kind = TypeArray
	default:
		return nil, fmt.Errorf("%w: top level node must be a mapping or sequence", ErrMalformedYAML)
	}
	doc, err := New(kind, opts...)
	if err != nil {
		return nil, err
	}
	b := &yamlBuilder{doc: doc, budget: 64*len(data) + 1024}
	if err := b.fill(Root, root, 1); err != nil {
		return nil, err
	}
	return doc, nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// yamlBuilder bounds the number of nodes visited, since aliases can make
// the expanded tree far larger than the input.
type yamlBuilder struct {
	doc    *Document
	budget int
}

func (b *yamlBuilder) fill(h Handle, n *yaml.Node, depth int) error {
	if depth > MaxNesting {
		return fmt.Errorf("%w: nesting deeper than %d", ErrMalformedYAML, MaxNesting)
	}
	if n.Kind == yaml.MappingNode {
		if len(n.Content)%2 != 0 {
			return fmt.Errorf("%w: line %d: odd mapping content", ErrMalformedYAML, n.Line)
		}
		for i := 0; i < len(n.Content); i += 2 {
			k := resolveAlias(n.Content[i])
			if k == nil || k.Kind != yaml.ScalarNode {
				return fmt.Errorf("%w: line %d: mapping keys must be scalars", ErrUnsupportedValue, n.Content[i].Line)
			}
			key := k.Value
			put := func(v Value) (Handle, error) { return b.doc.setMember(h, key, v) }
			if err := b.put(put, n.Content[i+1], depth); err != nil {
				return err
			}
		}
		return nil
	}
	put := func(v Value) (Handle, error) { return b.doc.appendSlot(h, v) }
	for _, c := range n.Content {
		if err := b.put(put, c, depth); err != nil {
			return err
		}
	}
	return nil
}

func (b *yamlBuilder) put(put func(Value) (Handle, error), n *yaml.Node, depth int) error {
	if b.budget--; b.budget < 0 {
		return fmt.Errorf("%w: document expands to too many nodes", ErrMalformedYAML)
	}
	n = resolveAlias(n)
	if n == nil {
		return fmt.Errorf("%w: dangling alias", ErrMalformedYAML)
	}
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode:
		kind := TypeObject
		if n.Kind == yaml.SequenceNode {
			kind = TypeArray
		}
		child, err := put(Value{Type: kind})
		if err != nil {
			return err
		}
		return b.fill(child, n, depth+1)
	case yaml.ScalarNode:
		v, err := yamlValue(n)
		if err != nil {
			return err
		}
		_, err = put(v)
		return err
	}
	return fmt.Errorf("%w: line %d: unexpected node kind %d", ErrMalformedYAML, n.Line, n.Kind)
}

// yamlValue maps a scalar by its resolved tag. Tags without a native
// counterpart, such as !!timestamp, keep their text as a string.
func yamlValue(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case yamlNullTag:
		return NullValue(), nil
	case yamlBoolTag:
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("%w: line %d: %v", ErrMalformedYAML, n.Line, err)
		}
		return BoolValue(b), nil
	case yamlIntTag:
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, fmt.Errorf("%w: line %d: integer %s: %v", ErrUnsupportedValue, n.Line, n.Value, err)
		}
		return Int64Value(i), nil
	case yamlFloatTag:
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, fmt.Errorf("%w: line %d: %v", ErrMalformedYAML, n.Line, err)
		}
		return Float64Value(f), nil
	case yamlBinaryTag:
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return Value{}, fmt.Errorf("%w: line %d: %v", ErrMalformedYAML, n.Line, err)
		}
		return BytesValue(raw), nil
	}
	return StringValue(n.Value), nil
}
