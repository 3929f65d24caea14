package tron

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxNesting bounds container depth accepted by the decoders.
const MaxNesting = 10000

const hexDigits = "0123456789abcdef"

// ToJSON renders the whole document.
func (d *Document) ToJSON(pretty bool) ([]byte, error) {
	b, err := d.appendJSON(nil, Root, pretty, 0)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeJSON writes the container at h, which need not be the root.
func (d *Document) EncodeJSON(w io.Writer, h Handle, pretty bool) error {
	if _, err := d.TypeAt(h); err != nil {
		return err
	}
	b, err := d.appendJSON(nil, h, pretty, 0)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func appendIndent(b []byte, pretty bool, depth int) []byte {
	if !pretty {
		return b
	}
	b = append(b, '\n')
	for i := 0; i < depth; i++ {
		b = append(b, ' ', ' ')
	}
	return b
}

func (d *Document) appendJSON(b []byte, h Handle, pretty bool, depth int) ([]byte, error) {
	t, err := d.TypeAt(h)
	if err != nil {
		return b, err
	}
	n, err := d.Len(h)
	if err != nil {
		return b, err
	}
	open, closing := byte('{'), byte('}')
	if t == TypeArray {
		open, closing = '[', ']'
	}
	b = append(b, open)
	if n == 0 {
		return append(b, closing), nil
	}

	var inner error
	first := true
	elem := func(key *string, v Value) bool {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = appendIndent(b, pretty, depth+1)
		if key != nil {
			b = appendJSONString(b, *key)
			b = append(b, ':')
			if pretty {
				b = append(b, ' ')
			}
		}
		b, inner = d.appendJSONValue(b, v, pretty, depth+1)
		return inner == nil
	}
	if t == TypeObject {
		err = d.Range(h, func(key string, v Value) bool { return elem(&key, v) })
	} else {
		err = d.RangeArray(h, func(_ int, v Value) bool { return elem(nil, v) })
	}
	if err != nil {
		return b, err
	}
	if inner != nil {
		return b, inner
	}
	b = appendIndent(b, pretty, depth)
	return append(b, closing), nil
}

func (d *Document) appendJSONValue(b []byte, v Value, pretty bool, depth int) ([]byte, error) {
	switch v.Type {
	case TypeNull:
		return append(b, "null"...), nil
	case TypeBool:
		return strconv.AppendBool(b, v.Bool), nil
	case TypeInt64:
		return strconv.AppendInt(b, v.Int, 10), nil
	case TypeFloat64:
		return appendJSONFloat(b, v.Float)
	case TypeString:
		return appendJSONString(b, v.Str), nil
	case TypeBytes:
		b = append(b, '"')
		b = base64.StdEncoding.AppendEncode(b, v.Bytes)
		return append(b, '"'), nil
	case TypeObject, TypeArray:
		if depth > MaxNesting {
			return b, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, MaxNesting)
		}
		return d.appendJSON(b, v.Handle, pretty, depth)
	}
	return b, fmt.Errorf("%w: tag %d", ErrCorruptStream, v.Type)
}

// appendJSONFloat formats like encoding/json, but always keeps a fraction
// or exponent so the text reads back as a float.
func appendJSONFloat(b []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return b, fmt.Errorf("%w: %v has no json form", ErrUnsupportedValue, f)
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	start := len(b)
	b = strconv.AppendFloat(b, f, format, -1, 64)
	if format == 'e' {
		// clean up e-09 to e-9
		n := len(b)
		if n-start >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
		return b, nil
	}
	if bytes.IndexByte(b[start:], '.') < 0 {
		b = append(b, '.', '0')
	}
	return b, nil
}

func appendJSONString(b []byte, s string) []byte {
	b = append(b, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			b = append(b, s[start:i]...)
			switch c {
			case '"', '\\':
				b = append(b, '\\', c)
			case '\n':
				b = append(b, '\\', 'n')
			case '\r':
				b = append(b, '\\', 'r')
			case '\t':
				b = append(b, '\\', 't')
			default:
				b = append(b, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b = append(b, s[start:i]...)
			b = append(b, `\ufffd`...)
			i += size
			start = i
			continue
		}
		if r == '\u2028' || r == '\u2029' {
			b = append(b, s[start:i]...)
			b = append(b, '\\', 'u', '2', '0', '2', hexDigits[r&0xF])
			i += size
			start = i
			continue
		}
		i += size
	}
	b = append(b, s[start:]...)
	return append(b, '"')
}

// FromJSON builds a document from JSON text. The top level value must be
// an object or an array.
func FromJSON(data []byte, opts ...Option) (*Document, error) {
	p := &jsonParser{data: data, dec: json.NewDecoder(bytes.NewReader(data))}
	p.dec.UseNumber()

	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil, p.errorf("top level value must be an object or array")
	}
	kind := TypeObject
	if delim == '[' {
		kind = TypeArray
	}
	doc, err := New(kind, opts...)
	if err != nil {
		return nil, err
	}
	p.doc = doc
	if err := p.fill(Root, kind, 1); err != nil {
		return nil, err
	}
	if _, err := p.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, p.errorf("unexpected data after top level value")
	}
	return doc, nil
}

// ReadJSON reads r to the end and decodes it with FromJSON.
func ReadJSON(r io.Reader, opts ...Option) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return FromJSON(data, opts...)
}

func FromJSONFile(path string, opts ...Option) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromJSON(data, opts...)
}

type jsonParser struct {
	data []byte
	dec  *json.Decoder
	doc  *Document
}

func (p *jsonParser) errorf(format string, args ...any) error {
	return newJSONError(p.data, p.dec.InputOffset(), fmt.Sprintf(format, args...))
}

func (p *jsonParser) token() (json.Token, error) {
	tok, err := p.dec.Token()
	if err == nil {
		return tok, nil
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return nil, newJSONError(p.data, syn.Offset, syn.Error())
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, newJSONError(p.data, int64(len(p.data)), "unexpected end of input")
	}
	return nil, p.errorf("%v", err)
}

// fill consumes the members or elements of the container just opened,
// including its closing delimiter.
func (p *jsonParser) fill(h Handle, kind Type, depth int) error {
	if depth > MaxNesting {
		return p.errorf("nesting deeper than %d", MaxNesting)
	}
	for p.dec.More() {
		var put func(Value) (Handle, error)
		if kind == TypeObject {
			tok, err := p.token()
			if err != nil {
				return err
			}
			key, ok := tok.(string)
			if !ok {
				return p.errorf("object key must be a string")
			}
			put = func(v Value) (Handle, error) { return p.doc.setMember(h, key, v) }
		} else {
			put = func(v Value) (Handle, error) { return p.doc.appendSlot(h, v) }
		}
		if err := p.value(put, depth); err != nil {
			return err
		}
	}
	_, err := p.token()
	return err
}

func (p *jsonParser) value(put func(Value) (Handle, error), depth int) error {
	tok, err := p.token()
	if err != nil {
		return err
	}
	var v Value
	switch t := tok.(type) {
	case json.Delim:
		kind := TypeObject
		if t == '[' {
			kind = TypeArray
		} else if t != '{' {
			return p.errorf("unexpected %q", rune(t))
		}
		child, err := put(Value{Type: kind})
		if err != nil {
			return err
		}
		return p.fill(child, kind, depth+1)
	case string:
		v = StringValue(t)
	case json.Number:
		if v, err = p.number(string(t)); err != nil {
			return err
		}
	case bool:
		v = BoolValue(t)
	case nil:
		v = NullValue()
	default:
		return p.errorf("unexpected token %v", tok)
	}
	_, err = put(v)
	return err
}

// number maps integers that fit to Int64 and everything else to Float64.
func (p *jsonParser) number(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int64Value(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, p.errorf("number %s out of range", s)
	}
	return Float64Value(f), nil
}
