package arena

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultAlignment is used when no alignment option is given.
	DefaultAlignment = 8
	// DefaultCapacity is used when a non positive capacity is requested.
	DefaultCapacity = 1024
	// DefaultMaxSize keeps every offset representable in 32 bits.
	DefaultMaxSize = math.MaxUint32
)

var (
	ErrAllocationFailure = errors.New("arena: allocation exceeds the size limit")
	ErrBadAlignment      = errors.New("arena: alignment must be a power of two")
	ErrBadSize           = errors.New("arena: negative size")
)

type Options struct {
	Alignment int
	MaxSize   int
	OnGrow    func(oldCap, newCap int)
}

type Option func(*Options)

// WithAlignment sets the allocation boundary. It must be a power of two.
func WithAlignment(n int) Option {
	return func(o *Options) {
		o.Alignment = n
	}
}

// WithMaxSize limits the capacity the arena may grow to.
func WithMaxSize(n int) Option {
	return func(o *Options) {
		o.MaxSize = n
	}
}

// WithGrowHook registers a callback invoked after every reallocation.
func WithGrowHook(f func(oldCap, newCap int)) Option {
	return func(o *Options) {
		o.OnGrow = f
	}
}

type Arena struct {
	buf  []byte
	used int
	opts Options
}

func newOptions(opts []Option) (Options, error) {
	o := Options{Alignment: DefaultAlignment, MaxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Alignment <= 0 || o.Alignment&(o.Alignment-1) != 0 {
		return Options{}, ErrBadAlignment
	}
	if o.MaxSize <= 0 || o.MaxSize > DefaultMaxSize {
		o.MaxSize = DefaultMaxSize
	}
	return o, nil
}

// New creates an empty arena with at least capacity bytes.
func New(capacity int, opts ...Option) (*Arena, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity > o.MaxSize {
		return nil, fmt.Errorf("%w: capacity %d, limit %d", ErrAllocationFailure, capacity, o.MaxSize)
	}
	return &Arena{buf: make([]byte, capacity), opts: o}, nil
}

// FromBytes creates an arena whose used region is a copy of data.
func FromBytes(data []byte, capacity int, opts ...Option) (*Arena, error) {
	if capacity < len(data) {
		capacity = len(data)
	}
	a, err := New(capacity, opts...)
	if err != nil {
		return nil, err
	}
	copy(a.buf, data)
	a.used = len(data)
	return a, nil
}

// Align rounds n up to the arena alignment.
func (a *Arena) Align(n int) int {
	m := a.opts.Alignment - 1
	return (n + m) &^ m
}

func (a *Arena) Alignment() int { return a.opts.Alignment }
func (a *Arena) Used() int      { return a.used }
func (a *Arena) Cap() int       { return len(a.buf) }
func (a *Arena) MaxSize() int   { return a.opts.MaxSize }

// Bytes returns the used region. The slice is only valid until the next
// call that may allocate.
func (a *Arena) Bytes() []byte { return a.buf[:a.used] }

// Mem returns the whole backing slice, including the unused tail.
func (a *Arena) Mem() []byte { return a.buf }

// Reserve ensures at least n bytes are available past the aligned logical
// end.
func (a *Arena) Reserve(n int) error {
	if n < 0 {
		return ErrBadSize
	}
	need := a.Align(a.used) + n
	if need <= len(a.buf) {
		return nil
	}
	if need > a.opts.MaxSize {
		return fmt.Errorf("%w: need %d bytes, limit %d", ErrAllocationFailure, need, a.opts.MaxSize)
	}
	newCap := len(a.buf) * 2
	if newCap < need {
		newCap = need
	}
	if newCap > a.opts.MaxSize {
		// retry with the exact requirement
		newCap = need
	}
	buf := make([]byte, newCap)
	copy(buf, a.buf)
	oldCap := len(a.buf)
	a.buf = buf
	if a.opts.OnGrow != nil {
		a.opts.OnGrow(oldCap, newCap)
	}
	return nil
}

// Allocate returns the offset of a zero filled region of size bytes.
func (a *Arena) Allocate(size int) (uint32, error) {
	if size < 0 {
		return 0, ErrBadSize
	}
	start := a.Align(a.used)
	end := a.Align(start + size)
	if err := a.Reserve(end - start); err != nil {
		return 0, err
	}
	clear(a.buf[a.used:end])
	a.used = start + size
	return uint32(start), nil
}

// Fill overwrites the entire capacity with b. It is a test utility for
// proving that allocations zero their padding.
func (a *Arena) Fill(b byte) {
	for i := range a.buf {
		a.buf[i] = b
	}
}

// Reset discards every allocation. The capacity is retained.
func (a *Arena) Reset() {
	a.used = 0
}
