package tron

import "fmt"

// Handle is the offset of a container header in the arena. Handles stay
// valid across arena growth, but not across InitObject, InitArray or
// loading.
type Handle uint32

// Root is the handle of the root container.
const Root Handle = 0

// TypeAt reports the kind of container h refers to.
func (d *Document) TypeAt(h Handle) (Type, error) {
	mem := d.mem.Bytes()
	if int(h)%NodeAlignment != 0 || int(h) >= len(mem) {
		return TypeInvalid, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	t := Type(mem[h])
	if !t.IsContainer() || int(h)+headerBytes(t) > len(mem) || mem[int(h)+markAt] != ContainerMark {
		return TypeInvalid, fmt.Errorf("%w: %d does not address a container", ErrInvalidHandle, h)
	}
	if !tableInside(mem, uint32(h), t) {
		return TypeInvalid, fmt.Errorf("%w: %d has a table outside the arena", ErrInvalidHandle, h)
	}
	return t, nil
}

// tableInside checks the bucket or slot table of the container at off lies
// within mem.
func tableInside(mem []byte, off uint32, t Type) bool {
	if t == TypeObject {
		n := readU32BE(mem[off+objBucketCountAt:])
		tbl := readU32BE(mem[off+objBucketsAt:])
		return n != 0 && inside(mem, uint64(tbl), uint64(n)*BucketBytes)
	}
	n := readU32BE(mem[off+arrLenAt:])
	capacity := readU32BE(mem[off+arrCapAt:])
	slots := readU32BE(mem[off+arrSlotsAt:])
	return n <= capacity && inside(mem, uint64(slots), uint64(capacity)*SlotBytes)
}

// container checks h addresses a container of kind want.
func (d *Document) container(h Handle, want Type) error {
	t, err := d.TypeAt(h)
	if err != nil {
		return err
	}
	if t == want {
		return nil
	}
	if h == Root {
		return fmt.Errorf("%w: root is %s, not %s", ErrInvalidRootOperation, t, want)
	}
	return mismatch(fmt.Sprintf("handle %d", h), t, want)
}
