package tron

import (
	"errors"
	"fmt"

	"github.com/forestrie/go-tron/arena"
)

var (
	ErrTypeMismatch         = errors.New("tron: type mismatch")
	ErrKeyNotFound          = errors.New("tron: key not found")
	ErrIndexOutOfRange      = errors.New("tron: index out of range")
	ErrInvalidRootOperation = errors.New("tron: operation not valid for the root kind")
	ErrAllocationFailure    = arena.ErrAllocationFailure
	ErrMalformedJSON        = errors.New("tron: malformed json")
	ErrCorruptStream        = errors.New("tron: corrupt stream")

	ErrInvalidHandle    = errors.New("tron: invalid handle")
	ErrInvalidRootKind  = errors.New("tron: root kind must be object or array")
	ErrKeyTooLong       = errors.New("tron: key too long")
	ErrUnsupportedValue = errors.New("tron: value not representable")
	ErrMalformedCBOR    = errors.New("tron: malformed cbor")
	ErrMalformedYAML    = errors.New("tron: malformed yaml")
)

// JSONError reports where JSON input stopped making sense. It matches
// ErrMalformedJSON with errors.Is.
type JSONError struct {
	Offset int64
	Line   int
	Column int
	Msg    string
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("tron: malformed json at line %d, column %d (offset %d): %s",
		e.Line, e.Column, e.Offset, e.Msg)
}

func (e *JSONError) Is(target error) bool {
	return target == ErrMalformedJSON
}

func newJSONError(data []byte, offset int64, msg string) *JSONError {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return &JSONError{Offset: offset, Line: line, Column: col, Msg: msg}
}

func mismatch(what string, got, want Type) error {
	return fmt.Errorf("%w: %s holds %s, not %s", ErrTypeMismatch, what, got, want)
}
