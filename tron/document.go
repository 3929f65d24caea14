package tron

import (
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-tron/arena"
	"github.com/google/uuid"
)

type Options struct {
	Capacity int
	MaxSize  int
	Log      logger.Logger
	ID       uuid.UUID
}

type Option func(*Options)

// WithCapacity sets the initial (or, when loading, minimum) arena capacity.
func WithCapacity(n int) Option {
	return func(o *Options) {
		o.Capacity = n
	}
}

// WithMaxSize limits how far the arena may grow. Growth past it fails with
// ErrAllocationFailure.
func WithMaxSize(n int) Option {
	return func(o *Options) {
		o.MaxSize = n
	}
}

func WithLogger(log logger.Logger) Option {
	return func(o *Options) {
		o.Log = log
	}
}

// WithID sets the document id of a new document. Loaded documents keep the
// id recorded in their header.
func WithID(id uuid.UUID) Option {
	return func(o *Options) {
		o.ID = id
	}
}

// Document is a root container and the arena holding it.
type Document struct {
	id   uuid.UUID
	kind Type
	mem  *arena.Arena
	log  logger.Logger
}

func newOptions(opts []Option) Options {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) arenaOptions() []arena.Option {
	aopts := []arena.Option{arena.WithAlignment(NodeAlignment)}
	if o.MaxSize > 0 {
		aopts = append(aopts, arena.WithMaxSize(o.MaxSize))
	}
	if o.Log != nil {
		log := o.Log
		aopts = append(aopts, arena.WithGrowHook(func(oldCap, newCap int) {
			log.Debugf("tron: arena grown %d -> %d", oldCap, newCap)
		}))
	}
	return aopts
}

// New creates a document whose root container is of kind, which must be
// TypeObject or TypeArray. The root kind never changes.
func New(kind Type, opts ...Option) (*Document, error) {
	if !kind.IsContainer() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRootKind, kind)
	}
	o := newOptions(opts)
	mem, err := arena.New(o.Capacity, o.arenaOptions()...)
	if err != nil {
		return nil, err
	}
	id := o.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	d := &Document{id: id, kind: kind, mem: mem, log: o.Log}
	if _, err := d.newContainer(kind); err != nil {
		return nil, err
	}
	return d, nil
}

// NewObject creates a document with an object root.
func NewObject(opts ...Option) (*Document, error) { return New(TypeObject, opts...) }

// NewArray creates a document with an array root.
func NewArray(opts ...Option) (*Document, error) { return New(TypeArray, opts...) }

func (d *Document) ID() uuid.UUID { return d.id }
func (d *Document) Kind() Type    { return d.kind }

// UsedLength is the logical length of the arena.
func (d *Document) UsedLength() int { return d.mem.Used() }

// Capacity is the size of the arena's backing buffer.
func (d *Document) Capacity() int { return d.mem.Cap() }

// Bytes returns the used arena bytes. The slice is a view that is
// invalidated by the next mutation.
func (d *Document) Bytes() []byte { return d.mem.Bytes() }

// FillPattern overwrites the whole arena capacity, including live nodes,
// with b. It exists to test padding guarantees and must be followed by
// InitObject or InitArray.
func (d *Document) FillPattern(b byte) { d.mem.Fill(b) }

// InitObject resets the document to an empty object root.
func (d *Document) InitObject() error { return d.initRoot(TypeObject) }

// InitArray resets the document to an empty array root.
func (d *Document) InitArray() error { return d.initRoot(TypeArray) }

func (d *Document) initRoot(kind Type) error {
	if d.kind != kind {
		return fmt.Errorf("%w: root is %s, not %s", ErrInvalidRootOperation, d.kind, kind)
	}
	d.mem.Reset()
	_, err := d.newContainer(kind)
	return err
}

// newContainer allocates an empty object or array and returns its offset.
func (d *Document) newContainer(t Type) (uint32, error) {
	switch t {
	case TypeObject:
		hdr, err := d.mem.Allocate(ObjectNodeBytes)
		if err != nil {
			return 0, err
		}
		tbl, err := d.mem.Allocate(InitialBuckets * BucketBytes)
		if err != nil {
			return 0, err
		}
		mem := d.mem.Mem()
		mem[hdr] = byte(TypeObject)
		mem[hdr+markAt] = ContainerMark
		writeU32BE(mem[hdr+objBucketCountAt:], InitialBuckets)
		writeU32BE(mem[hdr+objBucketsAt:], tbl)
		return hdr, nil
	case TypeArray:
		hdr, err := d.mem.Allocate(ArrayNodeBytes)
		if err != nil {
			return 0, err
		}
		slots, err := d.mem.Allocate(InitialSlots * SlotBytes)
		if err != nil {
			return 0, err
		}
		mem := d.mem.Mem()
		mem[hdr] = byte(TypeArray)
		mem[hdr+markAt] = ContainerMark
		writeU32BE(mem[hdr+arrCapAt:], InitialSlots)
		writeU32BE(mem[hdr+arrSlotsAt:], slots)
		return hdr, nil
	}
	return 0, fmt.Errorf("%w: %s is not a container", ErrTypeMismatch, t)
}

// Len is the member count of an object or the length of an array.
func (d *Document) Len(h Handle) (int, error) {
	t, err := d.TypeAt(h)
	if err != nil {
		return 0, err
	}
	mem := d.mem.Mem()
	if t == TypeObject {
		return int(readU32BE(mem[uint32(h)+objCountAt:])), nil
	}
	return int(readU32BE(mem[uint32(h)+arrLenAt:])), nil
}
