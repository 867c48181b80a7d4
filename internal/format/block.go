package format

import (
	"fmt"

	"github.com/joshuapare/kacchikit/internal/buf"
)

// Header is the decoded form of a heap block header.
//
// Off is the offset of the header inside the heap region, not an address.
type Header struct {
	Off  int
	Size int
	Free bool
	Next uint32
}

// End returns the offset one past the block's payload.
func (h Header) End() int {
	return h.Off + BlockHeaderSize + h.Size
}

// Payload returns the offset of the first payload byte.
func (h Header) Payload() int {
	return h.Off + BlockHeaderSize
}

// HasNext reports whether another header follows in list order.
func (h Header) HasNext() bool {
	return h.Next != NoNext
}

// ReadHeader decodes the block header at off.
func ReadHeader(b []byte, off int) (Header, error) {
	if !buf.Has(b, off, BlockHeaderSize) {
		return Header{}, fmt.Errorf("block at %d: %w", off, ErrTruncated)
	}
	if ReadU32(b, off+BlockMagicOffset) != BlockMagic {
		return Header{}, fmt.Errorf("block at %d: %w", off, ErrSignatureMismatch)
	}
	return Header{
		Off:  off,
		Size: int(ReadU32(b, off+BlockSizeOffset)),
		Free: ReadU32(b, off+BlockFlagsOffset)&BlockFlagFree != 0,
		Next: ReadU32(b, off+BlockNextOffset),
	}, nil
}

// PutHeader encodes h at h.Off. The caller guarantees the header fits.
func PutHeader(b []byte, h Header) {
	var flags uint32
	if h.Free {
		flags = BlockFlagFree
	}
	PutU32(b, h.Off+BlockMagicOffset, BlockMagic)
	PutU32(b, h.Off+BlockSizeOffset, uint32(h.Size))
	PutU32(b, h.Off+BlockFlagsOffset, flags)
	PutU32(b, h.Off+BlockNextOffset, h.Next)
}

// ClearHeader wipes the magic of an absorbed header so a stale pointer to its
// payload no longer validates.
func ClearHeader(b []byte, off int) {
	for i := range BlockHeaderSize {
		b[off+i] = 0
	}
}
