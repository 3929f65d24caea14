package tron

// Type is the tag stored in the first byte of every node and slot.
type Type uint8

const (
	// TypeInvalid is purposefully 0 so zero filled memory never reads as a
	// valid node.
	TypeInvalid Type = iota
	TypeNull
	TypeBool
	TypeInt64
	TypeFloat64
	TypeBytes
	TypeString
	TypeObject
	TypeArray
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt64:
		return "i64"
	case TypeFloat64:
		return "f64"
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "invalid"
	}
}

func (t Type) Valid() bool {
	return t >= TypeNull && t <= TypeArray
}

func (t Type) IsContainer() bool {
	return t == TypeObject || t == TypeArray
}

// Value is a decoded member or element. Only the field selected by Type is
// meaningful. Str and Bytes never alias the arena.
type Value struct {
	Type   Type
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	Handle Handle
}

func NullValue() Value             { return Value{Type: TypeNull} }
func BoolValue(b bool) Value       { return Value{Type: TypeBool, Bool: b} }
func Int64Value(i int64) Value     { return Value{Type: TypeInt64, Int: i} }
func Float64Value(f float64) Value { return Value{Type: TypeFloat64, Float: f} }
func StringValue(s string) Value   { return Value{Type: TypeString, Str: s} }
func BytesValue(b []byte) Value    { return Value{Type: TypeBytes, Bytes: b} }

// dataLen is the length of the variable sized part of v.
func (v Value) dataLen() int {
	switch v.Type {
	case TypeString:
		return len(v.Str)
	case TypeBytes:
		return len(v.Bytes)
	}
	return 0
}
