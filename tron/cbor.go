package tron

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 1024,
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// ToCBOR encodes the document as core deterministic CBOR. Object keys come
// out sorted, bytes values are native byte strings.
func (d *Document) ToCBOR() ([]byte, error) {
	x, err := d.toAny(Root, 0)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(x)
}

// FromCBOR builds a document from a CBOR map with text keys or a CBOR
// array. Members are inserted in sorted key order.
func FromCBOR(data []byte, opts ...Option) (*Document, error) {
	var x any
	if err := cborDec.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCBOR, err)
	}
	var kind Type
	switch x.(type) {
	case map[string]any:
		kind = TypeObject
	case []any:
		kind = TypeArray
	default:
		return nil, fmt.Errorf("%w: top level item must be a map or array, not %T", ErrMalformedCBOR, x)
	}
	doc, err := New(kind, opts...)
	if err != nil {
		return nil, err
	}
	if err := doc.fillAny(Root, x); err != nil {
		return nil, err
	}
	return doc, nil
}

// toAny converts the container at h to map[string]any or []any.
func (d *Document) toAny(h Handle, depth int) (any, error) {
	if depth > MaxNesting {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, MaxNesting)
	}
	t, err := d.TypeAt(h)
	if err != nil {
		return nil, err
	}
	var inner error
	conv := func(v Value) any {
		switch v.Type {
		case TypeNull:
			return nil
		case TypeBool:
			return v.Bool
		case TypeInt64:
			return v.Int
		case TypeFloat64:
			return v.Float
		case TypeString:
			return v.Str
		case TypeBytes:
			return v.Bytes
		}
		var x any
		x, inner = d.toAny(v.Handle, depth+1)
		return x
	}
	if t == TypeObject {
		m := map[string]any{}
		err = d.Range(h, func(key string, v Value) bool {
			m[key] = conv(v)
			return inner == nil
		})
		if err == nil {
			err = inner
		}
		return m, err
	}
	a := []any{}
	err = d.RangeArray(h, func(_ int, v Value) bool {
		a = append(a, conv(v))
		return inner == nil
	})
	if err == nil {
		err = inner
	}
	return a, err
}

// fillAny adds the entries of a decoded map[string]any or []any to the
// container at h.
func (d *Document) fillAny(h Handle, x any) error {
	switch c := x.(type) {
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			put := func(v Value) (Handle, error) { return d.setMember(h, k, v) }
			if err := d.putAny(put, c[k]); err != nil {
				return err
			}
		}
	case []any:
		put := func(v Value) (Handle, error) { return d.appendSlot(h, v) }
		for _, e := range c {
			if err := d.putAny(put, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Document) putAny(put func(Value) (Handle, error), x any) error {
	var v Value
	switch t := x.(type) {
	case nil:
		v = NullValue()
	case bool:
		v = BoolValue(t)
	case int64:
		v = Int64Value(t)
	case uint64:
		if t > math.MaxInt64 {
			return fmt.Errorf("%w: integer %d overflows int64", ErrUnsupportedValue, t)
		}
		v = Int64Value(int64(t))
	case float64:
		v = Float64Value(t)
	case string:
		v = StringValue(t)
	case []byte:
		v = BytesValue(t)
	case map[string]any, []any:
		kind := TypeObject
		if _, ok := t.([]any); ok {
			kind = TypeArray
		}
		child, err := put(Value{Type: kind})
		if err != nil {
			return err
		}
		return d.fillAny(child, t)
	default:
		return fmt.Errorf("%w: cbor item of type %T", ErrUnsupportedValue, x)
	}
	_, err := put(v)
	return err
}
