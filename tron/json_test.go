package tron

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	in := `{"name":"tron","n":-3,"big":9223372036854775807,"f":2.5,"whole":3.0,"tiny":1e-9,` +
		`"ok":true,"nothing":null,"list":[1,"two",{"three":3},[]],"empty":{},"esc":"a\"b\\c\n\u0001"}`
	doc, err := FromJSON([]byte(in))
	require.NoError(t, err)

	typ, err := doc.GetType(Root, "whole")
	require.NoError(t, err)
	assert.Equal(t, TypeFloat64, typ)
	i, err := doc.GetInt64(Root, "big")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), i)

	out, err := doc.ToJSON(false)
	require.NoError(t, err)
	want := `{"name":"tron","n":-3,"big":9223372036854775807,"f":2.5,"whole":3.0,"tiny":1e-9,` +
		`"ok":true,"nothing":null,"list":[1,"two",{"three":3},[]],"empty":{},"esc":"a\"b\\c\n\u0001"}`
	assert.Equal(t, want, string(out))

	again, err := FromJSON(out)
	require.NoError(t, err)
	out2, err := again.ToJSON(false)
	require.NoError(t, err)
	assert.Equal(t, out, out2)
	assert.True(t, json.Valid(out))
}

func TestJSONPretty(t *testing.T) {
	doc, err := FromJSON([]byte(`{"a":[1,{"b":null}],"c":{}}`))
	require.NoError(t, err)

	out, err := doc.ToJSON(true)
	require.NoError(t, err)
	want := "{\n" +
		"  \"a\": [\n" +
		"    1,\n" +
		"    {\n" +
		"      \"b\": null\n" +
		"    }\n" +
		"  ],\n" +
		"  \"c\": {}\n" +
		"}"
	assert.Equal(t, want, string(out))

	var compact bytes.Buffer
	require.NoError(t, json.Compact(&compact, out))
	assert.Equal(t, `{"a":[1,{"b":null}],"c":{}}`, compact.String())
}

func TestJSONValues(t *testing.T) {
	doc, err := NewObject()
	require.NoError(t, err)
	require.NoError(t, doc.SetBytes(Root, "raw", []byte("hi!")))
	require.NoError(t, doc.SetFloat64(Root, "big", 1e21))
	require.NoError(t, doc.SetFloat64(Root, "neg", -0.25))
	require.NoError(t, doc.SetString(Root, "uni", "x \xff \u00e9"))

	out, err := doc.ToJSON(false)
	require.NoError(t, err)
	assert.Equal(t, "{\"raw\":\"aGkh\",\"big\":1e+21,\"neg\":-0.25,\"uni\":\"x \\ufffd \u00e9\"}", string(out))

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		require.NoError(t, doc.SetFloat64(Root, "bad", f))
		_, err := doc.ToJSON(false)
		require.ErrorIs(t, err, ErrUnsupportedValue)
	}
}

func TestJSONNumbers(t *testing.T) {
	doc, err := FromJSON([]byte(`[0,-0,12,99999999999999999999,1.5,2e3,-7E-1]`))
	require.NoError(t, err)

	want := []Value{
		Int64Value(0), Int64Value(0), Int64Value(12), Float64Value(1e20),
		Float64Value(1.5), Float64Value(2000), Float64Value(-0.7),
	}
	for i, w := range want {
		v, err := doc.ArrayGet(Root, i)
		require.NoError(t, err)
		assert.Equal(t, w, v, "index %d", i)
	}

	_, err = FromJSON([]byte(`[1e400]`))
	require.ErrorIs(t, err, ErrMalformedJSON)
}

func TestJSONDuplicateKeys(t *testing.T) {
	doc, err := FromJSON([]byte(`{"a":1,"b":2,"a":"x"}`))
	require.NoError(t, err)
	keys, err := doc.Keys(Root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	s, err := doc.GetString(Root, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", s)
}

func TestJSONErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
		line int
	}{
		{"empty", ``, 1},
		{"scalar top level", `42`, 1},
		{"string top level", `"x"`, 1},
		{"truncated", "{\n  \"a\": [1, 2", 2},
		{"bad token", "{\n  \"a\": trux\n}", 2},
		{"trailing data", `{} {}`, 1},
		{"missing colon", `{"a" 1}`, 1},
		{"trailing comma", "[1,\n2,\n]", 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tc.in))
			require.ErrorIs(t, err, ErrMalformedJSON)
			var jerr *JSONError
			require.True(t, errors.As(err, &jerr))
			assert.Equal(t, tc.line, jerr.Line)
			assert.GreaterOrEqual(t, jerr.Column, 1)
		})
	}

	deep := strings.Repeat("[", MaxNesting+1) + strings.Repeat("]", MaxNesting+1)
	_, err := FromJSON([]byte(deep))
	require.ErrorIs(t, err, ErrMalformedJSON)
}

func TestEncodeJSONSubtree(t *testing.T) {
	doc, err := FromJSON([]byte(`{"outer":{"inner":[true,false]}}`))
	require.NoError(t, err)
	h, err := doc.GetObject(Root, "outer")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.EncodeJSON(&buf, h, false))
	assert.Equal(t, `{"inner":[true,false]}`, buf.String())

	require.ErrorIs(t, doc.EncodeJSON(&buf, 3, false), ErrInvalidHandle)
}

func TestJSONReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a",1]`), 0o644))

	doc, err := FromJSONFile(path)
	require.NoError(t, err)
	assert.Equal(t, TypeArray, doc.Kind())

	doc, err = ReadJSON(strings.NewReader(`{"x":1}`), WithCapacity(64))
	require.NoError(t, err)
	assert.True(t, doc.Exists(Root, "x"))

	_, err = FromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
