package tron

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

const (
	MagicV1   = "TRN1"
	VersionV1 = uint8(1)

	// HeaderBytesV1 is the persisted header layout
	//
	// .     | magic | version | root kind | alignment | zero | data len | root count |
	// bytes |   4   |    1    |     1     |     1     |  1   |    4     |     4      |
	//
	// .     | root table size | root table | crc32c | zero | document id |
	// bytes |        4        |     4      |   4    |  4   |     16      |
	HeaderBytesV1 = 48
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// HeaderV1 describes a persisted document.
type HeaderV1 struct {
	RootKind      Type
	Alignment     uint8
	DataLen       uint32
	RootCount     uint32
	RootTableSize uint32
	RootTableOff  uint32
	Checksum      uint32
	ID            uuid.UUID
}

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// DecodeHeaderV1 decodes and checks the header in region. It does not look
// at the data that follows.
func DecodeHeaderV1(region []byte) (HeaderV1, error) {
	if len(region) < HeaderBytesV1 {
		return HeaderV1{}, fmt.Errorf("%w: %d bytes is too short for a header", ErrCorruptStream, len(region))
	}
	if !bytes.Equal(region[0:4], []byte(MagicV1)) {
		return HeaderV1{}, fmt.Errorf("%w: bad magic %q", ErrCorruptStream, region[0:4])
	}
	if region[4] != VersionV1 {
		return HeaderV1{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptStream, region[4])
	}
	h := HeaderV1{
		RootKind:      Type(region[5]),
		Alignment:     region[6],
		DataLen:       readU32BE(region[8:12]),
		RootCount:     readU32BE(region[12:16]),
		RootTableSize: readU32BE(region[16:20]),
		RootTableOff:  readU32BE(region[20:24]),
		Checksum:      readU32BE(region[24:28]),
	}
	copy(h.ID[:], region[32:48])

	if !h.RootKind.IsContainer() {
		return HeaderV1{}, fmt.Errorf("%w: root kind %s", ErrCorruptStream, h.RootKind)
	}
	if h.Alignment != NodeAlignment {
		return HeaderV1{}, fmt.Errorf("%w: alignment %d", ErrCorruptStream, h.Alignment)
	}
	if region[7] != 0 || !bytes.Equal(region[28:32], []byte{0, 0, 0, 0}) {
		return HeaderV1{}, fmt.Errorf("%w: reserved bytes are not zero", ErrCorruptStream)
	}
	if int(h.DataLen) < headerBytes(h.RootKind) {
		return HeaderV1{}, fmt.Errorf("%w: data length %d", ErrCorruptStream, h.DataLen)
	}
	return h, nil
}

// EncodeHeaderV1 writes h into region.
func EncodeHeaderV1(region []byte, h HeaderV1) error {
	if len(region) < HeaderBytesV1 {
		return fmt.Errorf("%w: region of %d bytes", ErrAllocationFailure, len(region))
	}
	if !h.RootKind.IsContainer() {
		return fmt.Errorf("%w: %s", ErrInvalidRootKind, h.RootKind)
	}
	copy(region[0:4], MagicV1)
	region[4] = VersionV1
	region[5] = byte(h.RootKind)
	region[6] = h.Alignment
	region[7] = 0
	writeU32BE(region[8:12], h.DataLen)
	writeU32BE(region[12:16], h.RootCount)
	writeU32BE(region[16:20], h.RootTableSize)
	writeU32BE(region[20:24], h.RootTableOff)
	writeU32BE(region[24:28], h.Checksum)
	clear(region[28:32])
	copy(region[32:48], h.ID[:])
	return nil
}

// header describes the document as it stands.
func (d *Document) header() HeaderV1 {
	data := d.mem.Bytes()
	h := HeaderV1{
		RootKind:  d.kind,
		Alignment: NodeAlignment,
		DataLen:   uint32(len(data)),
		Checksum:  checksum(data),
		ID:        d.id,
	}
	if d.kind == TypeObject {
		h.RootCount = readU32BE(data[objCountAt:])
		h.RootTableSize = readU32BE(data[objBucketCountAt:])
		h.RootTableOff = readU32BE(data[objBucketsAt:])
	} else {
		h.RootCount = readU32BE(data[arrLenAt:])
		h.RootTableSize = readU32BE(data[arrCapAt:])
		h.RootTableOff = readU32BE(data[arrSlotsAt:])
	}
	return h
}
