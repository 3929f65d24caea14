package tron

import (
	"fmt"
)

// bucketCell returns the offset of the bucket table cell for hash.
func bucketCell(mem []byte, obj uint32, hash uint32) uint32 {
	n := readU32BE(mem[obj+objBucketCountAt:])
	tbl := readU32BE(mem[obj+objBucketsAt:])
	return tbl + (hash%n)*BucketBytes
}

// findMember walks the chain for key. cur is 0 when the key is absent, prev
// is 0 when cur is the head of its chain.
func (d *Document) findMember(obj uint32, key string, hash uint32) (cell, prev, cur uint32) {
	mem := d.mem.Mem()
	cell = bucketCell(mem, obj, hash)
	for cur = readU32BE(mem[cell:]); cur != 0; cur = readU32BE(mem[cur+memNextAt:]) {
		if readU32BE(mem[cur+memHashAt:]) == hash && memberKeyEqual(mem, cur, key) {
			return cell, prev, cur
		}
		prev = cur
	}
	return cell, prev, 0
}

func (d *Document) lookup(h Handle, key string) (uint32, error) {
	if err := d.container(h, TypeObject); err != nil {
		return 0, err
	}
	_, _, cur := d.findMember(uint32(h), key, DJB2(key))
	if cur == 0 {
		return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return cur, nil
}

// setMember inserts or overwrites key in the object at h. For container
// values a new empty container is created and its handle returned.
//
// All the space the operation can need is reserved before anything is
// written, so a failed call leaves the object unchanged.
func (d *Document) setMember(h Handle, key string, v Value) (Handle, error) {
	if err := d.container(h, TypeObject); err != nil {
		return 0, err
	}
	if len(key) > MaxKeyBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}
	obj := uint32(h)
	hash := DJB2(key)
	cell, prev, cur := d.findMember(obj, key, hash)

	mem := d.mem.Mem()
	size := memberBytes(len(key), v.Type, v.dataLen())
	need := size + NodeAlignment + containerBytes(v.Type)
	grow := false
	if cur == 0 {
		count := readU32BE(mem[obj+objCountAt:])
		n := readU32BE(mem[obj+objBucketCountAt:])
		if count+1 > n*MaxLoadFactor {
			grow = true
			need += int(2*n)*BucketBytes + NodeAlignment
		}
	}
	if err := d.mem.Reserve(need); err != nil {
		return 0, err
	}

	if cur != 0 {
		return d.replaceMember(obj, key, hash, cell, prev, cur, size, v)
	}

	if grow {
		if err := d.rehash(obj); err != nil {
			return 0, err
		}
	}
	off, err := d.mem.Allocate(size)
	if err != nil {
		return 0, err
	}
	child, err := d.childFor(v)
	if err != nil {
		return 0, err
	}
	mem = d.mem.Mem()
	writeMemberKey(mem, off, key, hash)
	writeMemberValue(mem, off, v, child)

	cell = bucketCell(mem, obj, hash)
	writeU32BE(mem[off+memNextAt:], readU32BE(mem[cell:]))
	writeU32BE(mem[cell:], off)

	last := readU32BE(mem[obj+objLastAt:])
	writeU32BE(mem[off+memPrevAt:], last)
	if last == 0 {
		writeU32BE(mem[obj+objFirstAt:], off)
	} else {
		writeU32BE(mem[last+memAfterAt:], off)
	}
	writeU32BE(mem[obj+objLastAt:], off)
	writeU32BE(mem[obj+objCountAt:], readU32BE(mem[obj+objCountAt:])+1)
	return Handle(child), nil
}

// replaceMember overwrites the value of an existing member. A value that
// fits the old node is written in place, otherwise a new node takes over
// the old one's chain and order links.
func (d *Document) replaceMember(obj uint32, key string, hash, cell, prev, cur uint32, size int, v Value) (Handle, error) {
	mem := d.mem.Mem()
	oldSize := memberSize(mem, cur)
	if size <= oldSize {
		child, err := d.childFor(v)
		if err != nil {
			return 0, err
		}
		mem = d.mem.Mem()
		clear(mem[int(cur)+size : int(cur)+oldSize])
		writeMemberValue(mem, cur, v, child)
		return Handle(child), nil
	}

	off, err := d.mem.Allocate(size)
	if err != nil {
		return 0, err
	}
	child, err := d.childFor(v)
	if err != nil {
		return 0, err
	}
	mem = d.mem.Mem()
	writeMemberKey(mem, off, key, hash)
	writeMemberValue(mem, off, v, child)

	writeU32BE(mem[off+memNextAt:], readU32BE(mem[cur+memNextAt:]))
	if prev == 0 {
		writeU32BE(mem[cell:], off)
	} else {
		writeU32BE(mem[prev+memNextAt:], off)
	}

	before := readU32BE(mem[cur+memPrevAt:])
	after := readU32BE(mem[cur+memAfterAt:])
	writeU32BE(mem[off+memPrevAt:], before)
	writeU32BE(mem[off+memAfterAt:], after)
	if before == 0 {
		writeU32BE(mem[obj+objFirstAt:], off)
	} else {
		writeU32BE(mem[before+memAfterAt:], off)
	}
	if after == 0 {
		writeU32BE(mem[obj+objLastAt:], off)
	} else {
		writeU32BE(mem[after+memPrevAt:], off)
	}
	return Handle(child), nil
}

// childFor allocates the empty container a container value refers to.
func (d *Document) childFor(v Value) (uint32, error) {
	if !v.Type.IsContainer() {
		return 0, nil
	}
	return d.newContainer(v.Type)
}

func writeMemberKey(mem []byte, off uint32, key string, hash uint32) {
	writeU32BE(mem[off+memHashAt:], hash)
	writeU32BE(mem[off+memKeyLenAt:], uint32(len(key)))
	n := copy(mem[off+memKeyAt:], key)
	mem[int(off)+memKeyAt+n] = ZeroPad
}

// rehash doubles the bucket table of obj and relinks every member in
// insertion order.
func (d *Document) rehash(obj uint32) error {
	n := readU32BE(d.mem.Mem()[obj+objBucketCountAt:]) * 2
	tbl, err := d.mem.Allocate(int(n) * BucketBytes)
	if err != nil {
		return err
	}
	mem := d.mem.Mem()
	writeU32BE(mem[obj+objBucketCountAt:], n)
	writeU32BE(mem[obj+objBucketsAt:], tbl)
	for m := readU32BE(mem[obj+objFirstAt:]); m != 0; m = readU32BE(mem[m+memAfterAt:]) {
		cell := tbl + (readU32BE(mem[m+memHashAt:])%n)*BucketBytes
		writeU32BE(mem[m+memNextAt:], readU32BE(mem[cell:]))
		writeU32BE(mem[cell:], m)
	}
	if d.log != nil {
		d.log.Debugf("tron: object %d rehashed to %d buckets", obj, n)
	}
	return nil
}

func (d *Document) SetNull(h Handle, key string) error {
	_, err := d.setMember(h, key, NullValue())
	return err
}

func (d *Document) SetBool(h Handle, key string, b bool) error {
	_, err := d.setMember(h, key, BoolValue(b))
	return err
}

func (d *Document) SetInt64(h Handle, key string, i int64) error {
	_, err := d.setMember(h, key, Int64Value(i))
	return err
}

func (d *Document) SetFloat64(h Handle, key string, f float64) error {
	_, err := d.setMember(h, key, Float64Value(f))
	return err
}

func (d *Document) SetString(h Handle, key string, s string) error {
	_, err := d.setMember(h, key, StringValue(s))
	return err
}

func (d *Document) SetBytes(h Handle, key string, b []byte) error {
	_, err := d.setMember(h, key, BytesValue(b))
	return err
}

// SetObject stores a new empty object under key and returns its handle.
// Any previous value of key is replaced.
func (d *Document) SetObject(h Handle, key string) (Handle, error) {
	return d.setMember(h, key, Value{Type: TypeObject})
}

// SetArray stores a new empty array under key and returns its handle.
func (d *Document) SetArray(h Handle, key string) (Handle, error) {
	return d.setMember(h, key, Value{Type: TypeArray})
}

// Set stores a scalar value under key. Container values are rejected, use
// SetObject or SetArray.
func (d *Document) Set(h Handle, key string, v Value) error {
	if !v.Type.Valid() || v.Type.IsContainer() {
		return fmt.Errorf("%w: cannot set a %s value", ErrUnsupportedValue, v.Type)
	}
	_, err := d.setMember(h, key, v)
	return err
}

// Get returns the value stored under key.
func (d *Document) Get(h Handle, key string) (Value, error) {
	cur, err := d.lookup(h, key)
	if err != nil {
		return Value{}, err
	}
	return readMemberValue(d.mem.Mem(), cur), nil
}

func (d *Document) getTyped(h Handle, key string, want Type) (Value, error) {
	v, err := d.Get(h, key)
	if err != nil {
		return Value{}, err
	}
	if v.Type != want {
		return Value{}, mismatch(fmt.Sprintf("key %q", key), v.Type, want)
	}
	return v, nil
}

func (d *Document) GetBool(h Handle, key string) (bool, error) {
	v, err := d.getTyped(h, key, TypeBool)
	return v.Bool, err
}

func (d *Document) GetInt64(h Handle, key string) (int64, error) {
	v, err := d.getTyped(h, key, TypeInt64)
	return v.Int, err
}

func (d *Document) GetFloat64(h Handle, key string) (float64, error) {
	v, err := d.getTyped(h, key, TypeFloat64)
	return v.Float, err
}

func (d *Document) GetString(h Handle, key string) (string, error) {
	v, err := d.getTyped(h, key, TypeString)
	return v.Str, err
}

// GetBytes returns a copy of the bytes stored under key.
func (d *Document) GetBytes(h Handle, key string) ([]byte, error) {
	v, err := d.getTyped(h, key, TypeBytes)
	return v.Bytes, err
}

func (d *Document) GetObject(h Handle, key string) (Handle, error) {
	v, err := d.getTyped(h, key, TypeObject)
	return v.Handle, err
}

func (d *Document) GetArray(h Handle, key string) (Handle, error) {
	v, err := d.getTyped(h, key, TypeArray)
	return v.Handle, err
}

// GetNull succeeds only if key holds null.
func (d *Document) GetNull(h Handle, key string) error {
	_, err := d.getTyped(h, key, TypeNull)
	return err
}

func (d *Document) GetType(h Handle, key string) (Type, error) {
	cur, err := d.lookup(h, key)
	if err != nil {
		return TypeInvalid, err
	}
	return Type(d.mem.Mem()[cur]), nil
}

// Exists reports whether key is present. Invalid handles report false.
func (d *Document) Exists(h Handle, key string) bool {
	_, err := d.lookup(h, key)
	return err == nil
}

// Delete unlinks key from the object. The node's bytes are not reclaimed.
func (d *Document) Delete(h Handle, key string) error {
	if err := d.container(h, TypeObject); err != nil {
		return err
	}
	obj := uint32(h)
	cell, prev, cur := d.findMember(obj, key, DJB2(key))
	if cur == 0 {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	mem := d.mem.Mem()
	next := readU32BE(mem[cur+memNextAt:])
	if prev == 0 {
		writeU32BE(mem[cell:], next)
	} else {
		writeU32BE(mem[prev+memNextAt:], next)
	}

	before := readU32BE(mem[cur+memPrevAt:])
	after := readU32BE(mem[cur+memAfterAt:])
	if before == 0 {
		writeU32BE(mem[obj+objFirstAt:], after)
	} else {
		writeU32BE(mem[before+memAfterAt:], after)
	}
	if after == 0 {
		writeU32BE(mem[obj+objLastAt:], before)
	} else {
		writeU32BE(mem[after+memPrevAt:], before)
	}
	writeU32BE(mem[obj+objCountAt:], readU32BE(mem[obj+objCountAt:])-1)
	return nil
}

// Keys returns the keys of the object at h in insertion order.
func (d *Document) Keys(h Handle) ([]string, error) {
	var keys []string
	err := d.Range(h, func(key string, _ Value) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}

// Range calls fn for every member of the object at h in insertion order
// until fn returns false. fn must not mutate the document.
func (d *Document) Range(h Handle, fn func(key string, v Value) bool) error {
	if err := d.container(h, TypeObject); err != nil {
		return err
	}
	mem := d.mem.Mem()
	for m := readU32BE(mem[uint32(h)+objFirstAt:]); m != 0; m = readU32BE(mem[m+memAfterAt:]) {
		if !fn(string(memberKey(mem, m)), readMemberValue(mem, m)) {
			break
		}
	}
	return nil
}
