package tron

import (
	"fmt"
)

// appendSlot adds v at the end of the array at h. Like setMember it
// reserves everything up front.
func (d *Document) appendSlot(h Handle, v Value) (Handle, error) {
	if err := d.container(h, TypeArray); err != nil {
		return 0, err
	}
	arr := uint32(h)
	mem := d.mem.Mem()
	n := readU32BE(mem[arr+arrLenAt:])
	capacity := readU32BE(mem[arr+arrCapAt:])
	extent := valueExtent(v.Type, v.dataLen())

	need := containerBytes(v.Type)
	if extent > 0 {
		need += extent + NodeAlignment
	}
	if n == capacity {
		need += int(2*capacity)*SlotBytes + NodeAlignment
	}
	if err := d.mem.Reserve(need); err != nil {
		return 0, err
	}

	if n == capacity {
		if err := d.growSlots(arr, n, 2*capacity); err != nil {
			return 0, err
		}
	}

	var blob uint32
	if extent > 0 {
		off, err := d.mem.Allocate(extent)
		if err != nil {
			return 0, err
		}
		blob = off
		mem = d.mem.Mem()
		if v.Type == TypeString {
			copy(mem[blob:], v.Str)
			mem[int(blob)+len(v.Str)] = ZeroPad
		} else {
			copy(mem[blob:], v.Bytes)
		}
	}
	child, err := d.childFor(v)
	if err != nil {
		return 0, err
	}

	mem = d.mem.Mem()
	slot := readU32BE(mem[arr+arrSlotsAt:]) + n*SlotBytes
	mem[slot] = byte(v.Type)
	switch v.Type {
	case TypeString, TypeBytes:
		writeU32BE(mem[slot+slotAuxAt:], uint32(v.dataLen()))
		writeU64BE(mem[slot+slotPayloadAt:], uint64(blob))
	default:
		writeU64BE(mem[slot+slotPayloadAt:], payloadBits(v, child))
	}
	writeU32BE(mem[arr+arrLenAt:], n+1)
	return Handle(child), nil
}

// growSlots moves the slot table of arr to a new table of size capacity.
func (d *Document) growSlots(arr, n, capacity uint32) error {
	tbl, err := d.mem.Allocate(int(capacity) * SlotBytes)
	if err != nil {
		return err
	}
	mem := d.mem.Mem()
	old := readU32BE(mem[arr+arrSlotsAt:])
	copy(mem[tbl:], mem[old:old+n*SlotBytes])
	writeU32BE(mem[arr+arrCapAt:], capacity)
	writeU32BE(mem[arr+arrSlotsAt:], tbl)
	return nil
}

func (d *Document) AppendNull(h Handle) error {
	_, err := d.appendSlot(h, NullValue())
	return err
}

func (d *Document) AppendBool(h Handle, b bool) error {
	_, err := d.appendSlot(h, BoolValue(b))
	return err
}

func (d *Document) AppendInt64(h Handle, i int64) error {
	_, err := d.appendSlot(h, Int64Value(i))
	return err
}

func (d *Document) AppendFloat64(h Handle, f float64) error {
	_, err := d.appendSlot(h, Float64Value(f))
	return err
}

func (d *Document) AppendString(h Handle, s string) error {
	_, err := d.appendSlot(h, StringValue(s))
	return err
}

func (d *Document) AppendBytes(h Handle, b []byte) error {
	_, err := d.appendSlot(h, BytesValue(b))
	return err
}

// AppendObject appends a new empty object and returns its handle.
func (d *Document) AppendObject(h Handle) (Handle, error) {
	return d.appendSlot(h, Value{Type: TypeObject})
}

// AppendArray appends a new empty array and returns its handle.
func (d *Document) AppendArray(h Handle) (Handle, error) {
	return d.appendSlot(h, Value{Type: TypeArray})
}

// Append adds a scalar value. Container values are rejected, use
// AppendObject or AppendArray.
func (d *Document) Append(h Handle, v Value) error {
	if !v.Type.Valid() || v.Type.IsContainer() {
		return fmt.Errorf("%w: cannot append a %s value", ErrUnsupportedValue, v.Type)
	}
	_, err := d.appendSlot(h, v)
	return err
}

func (d *Document) slotAt(h Handle, i int) (uint32, error) {
	if err := d.container(h, TypeArray); err != nil {
		return 0, err
	}
	mem := d.mem.Mem()
	arr := uint32(h)
	n := int(readU32BE(mem[arr+arrLenAt:]))
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: %d, length %d", ErrIndexOutOfRange, i, n)
	}
	return readU32BE(mem[arr+arrSlotsAt:]) + uint32(i)*SlotBytes, nil
}

// ArrayGet returns the element at index i.
func (d *Document) ArrayGet(h Handle, i int) (Value, error) {
	slot, err := d.slotAt(h, i)
	if err != nil {
		return Value{}, err
	}
	return readSlotValue(d.mem.Mem(), slot), nil
}

func (d *Document) ArrayGetType(h Handle, i int) (Type, error) {
	slot, err := d.slotAt(h, i)
	if err != nil {
		return TypeInvalid, err
	}
	return Type(d.mem.Mem()[slot]), nil
}

func (d *Document) arrayGetTyped(h Handle, i int, want Type) (Value, error) {
	v, err := d.ArrayGet(h, i)
	if err != nil {
		return Value{}, err
	}
	if v.Type != want {
		return Value{}, mismatch(fmt.Sprintf("index %d", i), v.Type, want)
	}
	return v, nil
}

func (d *Document) ArrayGetNull(h Handle, i int) error {
	_, err := d.arrayGetTyped(h, i, TypeNull)
	return err
}

func (d *Document) ArrayGetBool(h Handle, i int) (bool, error) {
	v, err := d.arrayGetTyped(h, i, TypeBool)
	return v.Bool, err
}

func (d *Document) ArrayGetInt64(h Handle, i int) (int64, error) {
	v, err := d.arrayGetTyped(h, i, TypeInt64)
	return v.Int, err
}

func (d *Document) ArrayGetFloat64(h Handle, i int) (float64, error) {
	v, err := d.arrayGetTyped(h, i, TypeFloat64)
	return v.Float, err
}

func (d *Document) ArrayGetString(h Handle, i int) (string, error) {
	v, err := d.arrayGetTyped(h, i, TypeString)
	return v.Str, err
}

func (d *Document) ArrayGetBytes(h Handle, i int) ([]byte, error) {
	v, err := d.arrayGetTyped(h, i, TypeBytes)
	return v.Bytes, err
}

func (d *Document) ArrayGetObject(h Handle, i int) (Handle, error) {
	v, err := d.arrayGetTyped(h, i, TypeObject)
	return v.Handle, err
}

func (d *Document) ArrayGetArray(h Handle, i int) (Handle, error) {
	v, err := d.arrayGetTyped(h, i, TypeArray)
	return v.Handle, err
}

// RangeArray calls fn for every element in index order until fn returns
// false. fn must not mutate the document.
func (d *Document) RangeArray(h Handle, fn func(i int, v Value) bool) error {
	if err := d.container(h, TypeArray); err != nil {
		return err
	}
	mem := d.mem.Mem()
	arr := uint32(h)
	n := int(readU32BE(mem[arr+arrLenAt:]))
	slots := readU32BE(mem[arr+arrSlotsAt:])
	for i := 0; i < n; i++ {
		if !fn(i, readSlotValue(mem, slots+uint32(i)*SlotBytes)) {
			break
		}
	}
	return nil
}
