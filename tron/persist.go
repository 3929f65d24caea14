package tron

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/forestrie/go-tron/arena"
)

// MarshalBinary returns the header followed by the used arena bytes.
func (d *Document) MarshalBinary() ([]byte, error) {
	data := d.mem.Bytes()
	out := make([]byte, HeaderBytesV1+len(data))
	if err := EncodeHeaderV1(out, d.header()); err != nil {
		return nil, err
	}
	copy(out[HeaderBytesV1:], data)
	return out, nil
}

func (d *Document) WriteTo(w io.Writer) (int64, error) {
	var hdr [HeaderBytesV1]byte
	if err := EncodeHeaderV1(hdr[:], d.header()); err != nil {
		return 0, err
	}
	n, err := w.Write(hdr[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(d.mem.Bytes())
	return int64(n + m), err
}

// Save writes the document to path through a temporary file in the same
// directory, so readers never see a partial document.
func (d *Document) Save(path string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			err = errors.Join(err, os.Remove(tmp))
		}
	}()
	if _, err = d.WriteTo(f); err != nil {
		return errors.Join(err, f.Close())
	}
	if err = f.Sync(); err != nil {
		return errors.Join(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// FromBytes loads a persisted document. data is copied, the caller may
// reuse it.
func FromBytes(data []byte, opts ...Option) (*Document, error) {
	h, err := DecodeHeaderV1(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderBytesV1:]
	if len(body) != int(h.DataLen) {
		return nil, fmt.Errorf("%w: header records %d data bytes, found %d", ErrCorruptStream, h.DataLen, len(body))
	}
	if sum := checksum(body); sum != h.Checksum {
		return nil, fmt.Errorf("%w: checksum %08x, want %08x", ErrCorruptStream, sum, h.Checksum)
	}

	o := newOptions(opts)
	mem, err := arena.FromBytes(body, o.Capacity, o.arenaOptions()...)
	if err != nil {
		return nil, err
	}
	d := &Document{id: h.ID, kind: h.RootKind, mem: mem, log: o.Log}
	if got := d.header(); got != h {
		return nil, fmt.Errorf("%w: root header disagrees with the stream header", ErrCorruptStream)
	}
	if err := d.verify(); err != nil {
		return nil, err
	}
	if d.log != nil {
		d.log.Debugf("tron: loaded %s document %s, %d bytes", d.kind, d.id, h.DataLen)
	}
	return d, nil
}

// ReadDocument reads a persisted document from r until EOF.
func ReadDocument(r io.Reader, opts ...Option) (*Document, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return FromBytes(buf.Bytes(), opts...)
}

func Load(path string, opts ...Option) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromBytes(data, opts...)
}

// verify walks every node reachable from the root and checks that all
// offsets stay inside the data and that links terminate. Child containers
// always sit above the node referring to them, which rules out cycles.
func (d *Document) verify() error {
	if Type(d.mem.Bytes()[0]) != d.kind {
		return fmt.Errorf("%w: root tag %d", ErrCorruptStream, d.mem.Bytes()[0])
	}
	return d.verifyContainer(0, 1)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptStream, fmt.Sprintf(format, args...))
}

func inside(mem []byte, off, n uint64) bool {
	size := uint64(len(mem))
	return off <= size && n <= size-off
}

func (d *Document) verifyContainer(off uint32, depth int) error {
	if depth > MaxNesting {
		return corrupt("nesting deeper than %d", MaxNesting)
	}
	mem := d.mem.Bytes()
	if off%NodeAlignment != 0 {
		return corrupt("unaligned container at %d", off)
	}
	t := Type(mem[off])
	if !inside(mem, uint64(off), uint64(headerBytes(t))) {
		return corrupt("container at %d overruns the data", off)
	}
	if !t.IsContainer() || mem[off+markAt] != ContainerMark {
		return corrupt("tag %d at %d is not a container", t, off)
	}
	if t == TypeObject {
		return d.verifyObject(off, depth)
	}
	return d.verifyArray(off, depth)
}

func (d *Document) verifyObject(obj uint32, depth int) error {
	mem := d.mem.Bytes()
	count := readU32BE(mem[obj+objCountAt:])
	n := readU32BE(mem[obj+objBucketCountAt:])
	tbl := readU32BE(mem[obj+objBucketsAt:])
	if n == 0 || !inside(mem, uint64(tbl), uint64(n)*BucketBytes) {
		return corrupt("bucket table of object %d", obj)
	}

	listed := make(map[uint32]bool)
	prev := uint32(0)
	for m := readU32BE(mem[obj+objFirstAt:]); m != 0; m = readU32BE(mem[m+memAfterAt:]) {
		if uint32(len(listed)) == count {
			return corrupt("object %d has more members than its count %d", obj, count)
		}
		if m <= obj || m%NodeAlignment != 0 || !inside(mem, uint64(m), MemberHeaderBytes) {
			return corrupt("member at %d", m)
		}
		if readU32BE(mem[m+memPrevAt:]) != prev {
			return corrupt("member %d order link", m)
		}
		tag := Type(mem[m])
		if !tag.Valid() || !inside(mem, uint64(m), memberBytesAt(mem, m)) {
			return corrupt("member %d overruns the data", m)
		}
		if readU32BE(mem[m+memHashAt:]) != djb2Bytes(memberKey(mem, m)) {
			return corrupt("member %d hash", m)
		}
		if tag.IsContainer() {
			child := readU64BE(mem[m+memPayloadAt:])
			if child <= uint64(m) || child >= uint64(len(mem)) || Type(mem[child]) != tag {
				return corrupt("member %d child %d", m, child)
			}
			if err := d.verifyContainer(uint32(child), depth+1); err != nil {
				return err
			}
		}
		prev = m
		listed[m] = false
	}
	if uint32(len(listed)) != count || readU32BE(mem[obj+objLastAt:]) != prev {
		return corrupt("object %d order list", obj)
	}

	chained := uint32(0)
	for i := uint32(0); i < n; i++ {
		for m := readU32BE(mem[tbl+i*BucketBytes:]); m != 0; m = readU32BE(mem[m+memNextAt:]) {
			if chained == count || m <= obj || m%NodeAlignment != 0 || !inside(mem, uint64(m), MemberHeaderBytes) {
				return corrupt("bucket chain of object %d", obj)
			}
			if done, ok := listed[m]; !ok || done {
				return corrupt("member %d is chained but not listed once", m)
			}
			if readU32BE(mem[m+memHashAt:])%n != i {
				return corrupt("member %d in the wrong bucket", m)
			}
			listed[m] = true
			chained++
		}
	}
	if chained != count {
		return corrupt("object %d chains hold %d of %d members", obj, chained, count)
	}
	return nil
}

func (d *Document) verifyArray(arr uint32, depth int) error {
	mem := d.mem.Bytes()
	n := readU32BE(mem[arr+arrLenAt:])
	capacity := readU32BE(mem[arr+arrCapAt:])
	slots := readU32BE(mem[arr+arrSlotsAt:])
	if n > capacity || !inside(mem, uint64(slots), uint64(capacity)*SlotBytes) {
		return corrupt("slot table of array %d", arr)
	}
	for i := uint32(0); i < n; i++ {
		slot := slots + i*SlotBytes
		tag := Type(mem[slot])
		p := readU64BE(mem[slot+slotPayloadAt:])
		switch {
		case !tag.Valid():
			return corrupt("array %d slot %d tag %d", arr, i, tag)
		case tag == TypeString || tag == TypeBytes:
			if !inside(mem, p, uint64(readU32BE(mem[slot+slotAuxAt:]))) {
				return corrupt("array %d slot %d data", arr, i)
			}
		case tag.IsContainer():
			if p <= uint64(arr) || p >= uint64(len(mem)) || Type(mem[p]) != tag {
				return corrupt("array %d slot %d child %d", arr, i, p)
			}
			if err := d.verifyContainer(uint32(p), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// memberBytesAt is memberSize without trusting the recorded lengths.
func memberBytesAt(mem []byte, off uint32) uint64 {
	n := uint64(MemberHeaderBytes) + uint64(readU32BE(mem[off+memKeyLenAt:])) + 1
	if p := readU64BE(mem[off+memPayloadAt:]); p > uint64(len(mem)) {
		switch Type(mem[off]) {
		case TypeString, TypeBytes:
			return math.MaxUint64
		}
	}
	switch Type(mem[off]) {
	case TypeString:
		n += readU64BE(mem[off+memPayloadAt:]) + 1
	case TypeBytes:
		n += readU64BE(mem[off+memPayloadAt:])
	}
	return n
}
