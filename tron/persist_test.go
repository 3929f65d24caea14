package tron

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleObject(t *testing.T) *Document {
	t.Helper()
	doc, err := FromJSON([]byte(`{"id":1,"name":"sample","tags":["a","b",{"c":null}],"ratio":0.5,"nested":{"deep":{"x":true}}}`))
	require.NoError(t, err)
	require.NoError(t, doc.SetBytes(Root, "blob", []byte{0xde, 0xad, 0xbe, 0xef}))
	require.NoError(t, doc.Delete(Root, "id"))
	return doc
}

func requireSameJSON(t *testing.T, want, got *Document) {
	t.Helper()
	a, err := want.ToJSON(false)
	require.NoError(t, err)
	b, err := got.ToJSON(false)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func TestPersistRoundTrip(t *testing.T) {
	obj := sampleObject(t)
	arr, err := FromJSON([]byte(`[1,"two",[3.5],{"four":4}]`))
	require.NoError(t, err)
	require.NoError(t, arr.AppendBytes(Root, []byte("five")))

	for _, doc := range []*Document{obj, arr} {
		t.Run(doc.Kind().String(), func(t *testing.T) {
			data, err := doc.MarshalBinary()
			require.NoError(t, err)
			require.Len(t, data, HeaderBytesV1+doc.UsedLength())

			loaded, err := FromBytes(data)
			require.NoError(t, err)
			assert.Equal(t, doc.Kind(), loaded.Kind())
			assert.Equal(t, doc.ID(), loaded.ID())
			assert.Equal(t, doc.Bytes(), loaded.Bytes())
			requireSameJSON(t, doc, loaded)

			var buf bytes.Buffer
			n, err := doc.WriteTo(&buf)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), n)
			assert.Equal(t, data, buf.Bytes())

			loaded, err = ReadDocument(&buf)
			require.NoError(t, err)
			requireSameJSON(t, doc, loaded)
		})
	}
}

func TestLoadedDocumentIsMutable(t *testing.T) {
	doc := sampleObject(t)
	data, err := doc.MarshalBinary()
	require.NoError(t, err)

	loaded, err := FromBytes(data, WithCapacity(len(data)*4))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loaded.Capacity(), len(data)*4)

	require.NoError(t, loaded.SetString(Root, "added", "later"))
	tags, err := loaded.GetArray(Root, "tags")
	require.NoError(t, err)
	require.NoError(t, loaded.AppendInt64(tags, 3))
	n, err := loaded.Len(tags)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// the source buffer is not aliased
	again, err := FromBytes(data)
	require.NoError(t, err)
	assert.False(t, again.Exists(Root, "added"))
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.tron")
	id := uuid.MustParse("0193b4a6-1c7e-7cc2-9a0b-6f2d1e3c4b5a")

	doc, err := NewObject(WithID(id))
	require.NoError(t, err)
	require.NoError(t, doc.SetString(Root, "k", "v"))
	require.NoError(t, doc.Save(path))
	require.NoError(t, doc.SetString(Root, "k", "overwritten"))
	require.NoError(t, doc.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.ID())
	s, err := loaded.GetString(Root, "k")
	require.NoError(t, err)
	assert.Equal(t, "overwritten", s)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left behind")

	_, err = Load(filepath.Join(dir, "missing.tron"))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Error(t, doc.Save(filepath.Join(dir, "no", "such", "dir", "doc.tron")))
}

func TestLoadRejectsCorruption(t *testing.T) {
	doc := sampleObject(t)
	good, err := doc.MarshalBinary()
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte{}, good...)
		return f(b)
	}
	// rewrite the checksum so only the structural checks can catch it
	resum := func(b []byte) []byte {
		writeU32BE(b[24:28], checksum(b[HeaderBytesV1:]))
		return b
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", good[:HeaderBytesV1-1]},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b })},
		{"bad version", mutate(func(b []byte) []byte { b[4] = 2; return b })},
		{"bad root kind", mutate(func(b []byte) []byte { b[5] = byte(TypeString); return b })},
		{"bad alignment", mutate(func(b []byte) []byte { b[6] = 4; return b })},
		{"reserved byte", mutate(func(b []byte) []byte { b[7] = 1; return b })},
		{"truncated data", good[:len(good)-1]},
		{"trailing data", append(append([]byte{}, good...), 0)},
		{"checksum", mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b })},
		{"root count", mutate(func(b []byte) []byte { writeU32BE(b[12:16], 99); return b })},
		{"root table", mutate(func(b []byte) []byte { writeU32BE(b[20:24], 8); return b })},
		{"kind disagrees with root", mutate(func(b []byte) []byte { b[5] = byte(TypeArray); return b })},
		{"member count", mutate(func(b []byte) []byte {
			writeU32BE(b[HeaderBytesV1+objCountAt:], 9)
			writeU32BE(b[12:16], 9)
			return resum(b)
		})},
		{"dangling bucket", mutate(func(b []byte) []byte {
			tbl := readU32BE(b[HeaderBytesV1+objBucketsAt:])
			writeU32BE(b[HeaderBytesV1+int(tbl):], uint32(len(b)))
			return resum(b)
		})},
		{"child cycle", mutate(func(b []byte) []byte {
			data := b[HeaderBytesV1:]
			m := readU32BE(data[objFirstAt:])
			for ; m != 0 && Type(data[m]) != TypeArray; m = readU32BE(data[m+memAfterAt:]) {
			}
			writeU64BE(data[m+memPayloadAt:], 0)
			return resum(b)
		})},
		{"child without container mark", mutate(func(b []byte) []byte {
			data := b[HeaderBytesV1:]
			m := readU32BE(data[objFirstAt:])
			for ; m != 0 && Type(data[m]) != TypeObject; m = readU32BE(data[m+memAfterAt:]) {
			}
			data[readU64BE(data[m+memPayloadAt:])+markAt] = 0
			return resum(b)
		})},
		{"chained member not on the order list", unlistedChainMember(t)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromBytes(tc.data)
			require.ErrorIs(t, err, ErrCorruptStream)
		})
	}
}

// unlistedChainMember saves {"a":null} with the bucket for "a" pointing at
// an extra member node appended past the real one. The stream header and
// checksum are rewritten to match.
func unlistedChainMember(t *testing.T) []byte {
	t.Helper()
	doc, err := FromJSON([]byte(`{"a":null}`))
	require.NoError(t, err)
	good, err := doc.MarshalBinary()
	require.NoError(t, err)
	h, err := DecodeHeaderV1(good)
	require.NoError(t, err)

	data := append([]byte{}, good[HeaderBytesV1:]...)
	for len(data)%NodeAlignment != 0 {
		data = append(data, ZeroPad)
	}
	extra := uint32(len(data))
	node := make([]byte, MemberHeaderBytes)
	node[0] = byte(TypeNull)
	writeU32BE(node[memHashAt:], DJB2("a"))
	writeU32BE(node[memKeyLenAt:], 1)
	data = append(data, node...)
	writeU32BE(data[bucketCell(data, 0, DJB2("a")):], extra)

	h.DataLen = uint32(len(data))
	h.Checksum = checksum(data)
	out := make([]byte, HeaderBytesV1+len(data))
	require.NoError(t, EncodeHeaderV1(out, h))
	copy(out[HeaderBytesV1:], data)
	return out
}

func TestHeaderV1(t *testing.T) {
	h := HeaderV1{
		RootKind:      TypeArray,
		Alignment:     NodeAlignment,
		DataLen:       RootArrayBytes,
		RootTableSize: InitialSlots,
		RootTableOff:  ArrayNodeBytes,
		Checksum:      0x01020304,
		ID:            uuid.New(),
	}
	region := make([]byte, HeaderBytesV1)
	require.NoError(t, EncodeHeaderV1(region, h))
	assert.Equal(t, []byte(MagicV1), region[:4])

	got, err := DecodeHeaderV1(region)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	h.RootKind = TypeNull
	require.ErrorIs(t, EncodeHeaderV1(region, h), ErrInvalidRootKind)
}
