package tron

import (
	"math"
)

const (
	// NodeAlignment is the boundary every node starts on.
	NodeAlignment = 8
	// ZeroPad is the value of every padding byte.
	ZeroPad byte = 0x00
	// DJB2Seed seeds the key hash.
	DJB2Seed uint32 = 5381

	// ObjectNodeBytes is the object header layout
	//
	// .     | tag | mark | zero | count | buckets n | bucket table | first | last |
	// bytes |  1  |  1   |  2   |   4   |     4     |      4       |   4   |  4   |
	ObjectNodeBytes = 24
	// ArrayNodeBytes is the array header layout
	//
	// .     | tag | mark | zero | length | capacity | slot table |
	// bytes |  1  |  1   |  2   |   4    |    4     |     4      |
	ArrayNodeBytes = 16
	// MemberHeaderBytes is the fixed part of an object member
	//
	// .     | tag | zero | next | hash | key len | order prev | order next | payload |
	// bytes |  1  |  3   |  4   |  4   |    4    |     4      |     4      |    8    |
	//
	// followed by the key, a NUL, and the inline string (+NUL) or bytes value.
	MemberHeaderBytes = 32
	// SlotBytes is the array slot layout
	//
	// .     | tag | zero | aux len | payload |
	// bytes |  1  |  3   |    4    |    8    |
	SlotBytes   = 16
	BucketBytes = 4

	InitialBuckets = 8
	InitialSlots   = 4
	// MaxLoadFactor is the members per bucket tolerated before the bucket
	// table doubles.
	MaxLoadFactor = 1

	// RootObjectBytes is the footprint of a freshly initialized object root.
	RootObjectBytes = ObjectNodeBytes + InitialBuckets*BucketBytes
	// RootArrayBytes is the footprint of a freshly initialized array root.
	RootArrayBytes = ArrayNodeBytes + InitialSlots*SlotBytes

	MaxKeyBytes = math.MaxUint16

	// ContainerMark follows the tag of every container header. Members and
	// slots carry a zero there, so their offsets never pass as handles.
	ContainerMark byte = 0xC7
)

const (
	markAt = 1

	objCountAt       = 4
	objBucketCountAt = 8
	objBucketsAt     = 12
	objFirstAt       = 16
	objLastAt        = 20

	arrLenAt   = 4
	arrCapAt   = 8
	arrSlotsAt = 12

	memNextAt    = 4
	memHashAt    = 8
	memKeyLenAt  = 12
	memPrevAt    = 16
	memAfterAt   = 20
	memPayloadAt = 24
	memKeyAt     = MemberHeaderBytes

	slotAuxAt     = 4
	slotPayloadAt = 8
)

// valueExtent is the number of bytes a string or bytes value occupies in
// the arena. Strings carry a trailing NUL.
func valueExtent(t Type, n int) int {
	switch t {
	case TypeString:
		return n + 1
	case TypeBytes:
		return n
	}
	return 0
}

// memberBytes is the logical (unpadded) size of a member node.
func memberBytes(keyLen int, t Type, valueLen int) int {
	return MemberHeaderBytes + keyLen + 1 + valueExtent(t, valueLen)
}

// containerBytes is the worst case arena consumption of a new, empty
// container of type t, including alignment slack.
func containerBytes(t Type) int {
	switch t {
	case TypeObject:
		return ObjectNodeBytes + InitialBuckets*BucketBytes + 2*NodeAlignment
	case TypeArray:
		return ArrayNodeBytes + InitialSlots*SlotBytes + 2*NodeAlignment
	}
	return 0
}

func headerBytes(t Type) int {
	if t == TypeArray {
		return ArrayNodeBytes
	}
	return ObjectNodeBytes
}

// payloadBits encodes the 8 byte payload for v. For string and bytes it is
// the value length, for containers the child offset.
func payloadBits(v Value, child uint32) uint64 {
	switch v.Type {
	case TypeBool:
		if v.Bool {
			return 1
		}
	case TypeInt64:
		return uint64(v.Int)
	case TypeFloat64:
		return math.Float64bits(v.Float)
	case TypeString, TypeBytes:
		return uint64(v.dataLen())
	case TypeObject, TypeArray:
		return uint64(child)
	}
	return 0
}

// decodeScalar fills in v from payload bits for the fixed width types.
func decodeScalar(t Type, p uint64) Value {
	v := Value{Type: t}
	switch t {
	case TypeBool:
		v.Bool = p != 0
	case TypeInt64:
		v.Int = int64(p)
	case TypeFloat64:
		v.Float = math.Float64frombits(p)
	case TypeObject, TypeArray:
		v.Handle = Handle(p)
	}
	return v
}

func memberKeyLen(mem []byte, off uint32) int {
	return int(readU32BE(mem[off+memKeyLenAt:]))
}

func memberKey(mem []byte, off uint32) []byte {
	n := uint32(memberKeyLen(mem, off))
	return mem[off+memKeyAt : off+memKeyAt+n]
}

func memberKeyEqual(mem []byte, off uint32, key string) bool {
	return memberKeyLen(mem, off) == len(key) && string(memberKey(mem, off)) == key
}

// memberSize is the logical size of the member node at off.
func memberSize(mem []byte, off uint32) int {
	t := Type(mem[off])
	n := 0
	if t == TypeString || t == TypeBytes {
		n = int(readU64BE(mem[off+memPayloadAt:]))
	}
	return memberBytes(memberKeyLen(mem, off), t, n)
}

// writeMemberValue writes the tag, payload and inline value of a member
// whose key is already in place.
func writeMemberValue(mem []byte, off uint32, v Value, child uint32) {
	mem[off] = byte(v.Type)
	writeU64BE(mem[off+memPayloadAt:], payloadBits(v, child))
	start := int(off) + memKeyAt + memberKeyLen(mem, off) + 1
	switch v.Type {
	case TypeString:
		n := copy(mem[start:], v.Str)
		mem[start+n] = ZeroPad
	case TypeBytes:
		copy(mem[start:], v.Bytes)
	}
}

func readMemberValue(mem []byte, off uint32) Value {
	t := Type(mem[off])
	p := readU64BE(mem[off+memPayloadAt:])
	if t != TypeString && t != TypeBytes {
		return decodeScalar(t, p)
	}
	start := int(off) + memKeyAt + memberKeyLen(mem, off) + 1
	data := mem[start : start+int(p)]
	if t == TypeString {
		return Value{Type: t, Str: string(data)}
	}
	return Value{Type: t, Bytes: append([]byte{}, data...)}
}

func readSlotValue(mem []byte, off uint32) Value {
	t := Type(mem[off])
	p := readU64BE(mem[off+slotPayloadAt:])
	if t != TypeString && t != TypeBytes {
		return decodeScalar(t, p)
	}
	n := readU32BE(mem[off+slotAuxAt:])
	data := mem[uint32(p) : uint32(p)+n]
	if t == TypeString {
		return Value{Type: t, Str: string(data)}
	}
	return Value{Type: t, Bytes: append([]byte{}, data...)}
}
