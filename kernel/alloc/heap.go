package alloc

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joshuapare/kacchikit/internal/format"
	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/kernel/region"
)

// Runtime debug flag for allocation logging - controlled by KACCHI_LOG_ALLOC env var.
var logAlloc = os.Getenv("KACCHI_LOG_ALLOC") != ""

const (
	headerSize = format.BlockHeaderSize

	// minBlock is the smallest region that can hold one block.
	minBlock = headerSize + format.MinPayload
)

// Heap is a first-fit free-list allocator over a single region.
//
// Block headers live inside the region and are addressed by offset. The list
// always starts at offset 0 and runs in strictly increasing address order.
//
// NOT thread-safe.
type Heap struct {
	r      *region.Region
	data   []byte
	usage  int
	policy Policy
	log    *slog.Logger
	stats  HeapStats
}

// NewHeap installs one free block spanning the whole region.
func NewHeap(r *region.Region, opts ...HeapOption) (*Heap, error) {
	if r.Len() < minBlock {
		return nil, fmt.Errorf("%w: heap needs %d bytes, region has %d", ErrRegionTooSmall, minBlock, r.Len())
	}
	if uint64(r.Len()) >= format.NoNext {
		return nil, fmt.Errorf("%w: heap region of %d bytes exceeds offset range", region.ErrBadLayout, r.Len())
	}

	h := &Heap{
		r:      r,
		data:   r.Bytes(),
		policy: DefaultPolicy,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logger.Subsystem(h.log, "MEM")
	h.stats.Capacity = r.Len()

	// Payloads must stay 8-byte aligned, so a ragged tail is left unused.
	format.PutHeader(h.data, format.Header{
		Off:  0,
		Size: (r.Len() - headerSize) &^ format.PayloadAlignmentMask,
		Free: true,
		Next: format.NoNext,
	})

	h.log.Info("heap initialized", "start", r.Base(), "end", r.End(), "size", r.Len())
	return h, nil
}

// Alloc returns the payload address of a block of at least size bytes.
//
// A zero size returns the null handle and no error. Sizes are rounded up to
// 8 bytes. When nothing fits the heap reports ErrOutOfMemory, calling the
// policy's Halt first if heap exhaustion is fatal.
func (h *Heap) Alloc(size int) (region.Addr, error) {
	h.stats.AllocCalls++

	if size < 0 {
		h.stats.Failures++
		return region.Null, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if size == 0 {
		return region.Null, nil
	}
	// No block can exceed the region; larger sizes would also overflow Align8.
	if size > len(h.data) {
		return region.Null, h.outOfMemory(size, size)
	}
	need := format.Align8(size)

	off := 0
	for {
		b, err := format.ReadHeader(h.data, off)
		if err != nil {
			h.stats.Failures++
			return region.Null, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if b.Free && b.Size >= need {
			return h.take(b, need), nil
		}
		if !b.HasNext() {
			break
		}
		off = int(b.Next)
	}

	return region.Null, h.outOfMemory(size, need)
}

// outOfMemory records a failed Alloc and applies the exhaustion policy.
func (h *Heap) outOfMemory(size, need int) error {
	h.stats.Failures++
	err := fmt.Errorf("%w: requested %d bytes (aligned %d), largest free %d", ErrOutOfMemory, size, need, h.largestFree())
	h.log.Error("kmalloc: OUT OF MEMORY", "size", size, "aligned", need, "usage", h.usage)
	h.policy.halt(err)
	return err
}

// take marks b used, splitting off the tail when it can hold another block.
func (h *Heap) take(b format.Header, need int) region.Addr {
	if b.Size >= need+minBlock {
		h.stats.Splits++
		tail := format.Header{
			Off:  b.Off + headerSize + need,
			Size: b.Size - need - headerSize,
			Free: true,
			Next: b.Next,
		}
		format.PutHeader(h.data, tail)
		b.Size = need
		b.Next = uint32(tail.Off)

		if logAlloc {
			h.log.Info("split", "block", h.r.Addr(b.Off), "need", need, "remainder", tail.Size)
		}
	}

	b.Free = false
	format.PutHeader(h.data, b)

	h.usage += b.Size
	h.stats.HighWater = max(h.stats.HighWater, h.usage)

	addr := h.r.Addr(b.Payload())
	if logAlloc {
		h.log.Info("kmalloc", "addr", addr, "size", b.Size, "usage", h.usage)
	}
	return addr
}

// Free releases the block whose payload starts at addr.
//
// The null handle is a no-op. An address that is outside the region or does
// not name a block payload yields ErrInvalidPointer; a block that is already
// free yields ErrDoubleFree. Neither changes the heap.
func (h *Heap) Free(addr region.Addr) error {
	h.stats.FreeCalls++
	if addr == region.Null {
		return nil
	}

	b, err := h.lookup(addr)
	if err != nil {
		h.stats.Failures++
		h.log.Warn("kfree: invalid pointer", "addr", addr)
		return err
	}
	if b.Free {
		h.stats.Failures++
		h.log.Warn("kfree: double free detected", "addr", addr)
		return fmt.Errorf("%w: %s", ErrDoubleFree, addr)
	}

	b.Free = true
	format.PutHeader(h.data, b)
	h.usage -= b.Size

	if logAlloc {
		h.log.Info("kfree", "addr", addr, "size", b.Size, "usage", h.usage)
	}
	return h.coalesce()
}

// lookup finds the block whose payload starts at addr.
func (h *Heap) lookup(addr region.Addr) (format.Header, error) {
	if !h.r.Contains(addr) {
		return format.Header{}, fmt.Errorf("%w: %s outside heap %s", ErrInvalidPointer, addr, h.r)
	}
	payload, _ := h.r.Offset(addr)
	hdr := payload - headerSize
	if hdr < 0 {
		return format.Header{}, fmt.Errorf("%w: %s header before heap start", ErrInvalidPointer, addr)
	}

	// Walk the list rather than trusting the bytes in front of addr: an
	// interior pointer may land on payload data that looks like a header.
	off := 0
	for {
		b, err := format.ReadHeader(h.data, off)
		if err != nil {
			return format.Header{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if b.Off == hdr {
			return b, nil
		}
		if b.Off > hdr || !b.HasNext() {
			return format.Header{}, fmt.Errorf("%w: %s is not a block payload", ErrInvalidPointer, addr)
		}
		off = int(b.Next)
	}
}

// coalesce makes one forward pass over the list, merging each free block with
// the following one while both are free and physically contiguous.
func (h *Heap) coalesce() error {
	off := 0
	for {
		b, err := format.ReadHeader(h.data, off)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if !b.HasNext() {
			return nil
		}
		n, err := format.ReadHeader(h.data, int(b.Next))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if b.Free && n.Free && b.End() == n.Off {
			h.stats.Coalesces++
			b.Size += headerSize + n.Size
			b.Next = n.Next
			format.PutHeader(h.data, b)
			format.ClearHeader(h.data, n.Off)
			continue
		}
		off = int(b.Next)
	}
}

// Usage returns the payload bytes currently allocated.
func (h *Heap) Usage() int {
	return h.usage
}

// Region returns the managed region.
func (h *Heap) Region() *region.Region {
	return h.r
}

// PayloadSize returns the payload size of the used block at addr.
func (h *Heap) PayloadSize(addr region.Addr) (int, error) {
	b, err := h.used(addr)
	if err != nil {
		return 0, err
	}
	return b.Size, nil
}

// Bytes returns the payload of the used block at addr.
func (h *Heap) Bytes(addr region.Addr) ([]byte, error) {
	b, err := h.used(addr)
	if err != nil {
		return nil, err
	}
	return h.data[b.Payload():b.End()], nil
}

func (h *Heap) used(addr region.Addr) (format.Header, error) {
	b, err := h.lookup(addr)
	if err != nil {
		return format.Header{}, err
	}
	if b.Free {
		return format.Header{}, fmt.Errorf("%w: %s is free", ErrInvalidPointer, addr)
	}
	return b, nil
}

// Blocks returns the block list in address order.
func (h *Heap) Blocks() []Block {
	var blocks []Block
	h.walk(func(b format.Header) {
		blocks = append(blocks, Block{
			Off:  b.Off,
			Addr: h.r.Addr(b.Payload()),
			Size: b.Size,
			Free: b.Free,
		})
	})
	return blocks
}

// walk visits headers until the tail or the first undecodable header.
func (h *Heap) walk(fn func(format.Header)) {
	off := 0
	for {
		b, err := format.ReadHeader(h.data, off)
		if err != nil {
			return
		}
		fn(b)
		if !b.HasNext() {
			return
		}
		off = int(b.Next)
	}
}

func (h *Heap) largestFree() int {
	largest := 0
	h.walk(func(b format.Header) {
		if b.Free && b.Size > largest {
			largest = b.Size
		}
	})
	return largest
}

// Stats returns occupancy and counters.
func (h *Heap) Stats() HeapStats {
	s := h.stats
	s.Used = h.usage
	h.walk(func(b format.Header) {
		s.Blocks++
		if b.Free {
			s.FreeBlocks++
			s.FreeBytes += b.Size
			s.LargestFree = max(s.LargestFree, b.Size)
		}
	})
	return s
}

// Verify walks the list and checks its invariants: headers decode, offsets
// increase with no gaps, payloads are aligned, the list ends inside the
// region and the used payload sum equals Usage.
func (h *Heap) Verify() error {
	off, used := 0, 0
	for {
		b, err := format.ReadHeader(h.data, off)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if !format.IsAligned8(b.Size) {
			return fmt.Errorf("%w: block at %d has unaligned size %d", ErrCorrupt, b.Off, b.Size)
		}
		if b.End() > len(h.data) {
			return fmt.Errorf("%w: block at %d runs past the region", ErrCorrupt, b.Off)
		}
		if !b.Free {
			used += b.Size
		}
		if !b.HasNext() {
			if len(h.data)-b.End() >= format.PayloadAlignment {
				return fmt.Errorf("%w: %d bytes after the last block", ErrCorrupt, len(h.data)-b.End())
			}
			break
		}
		if int(b.Next) != b.End() {
			return fmt.Errorf("%w: block at %d ends at %d but next starts at %d", ErrCorrupt, b.Off, b.End(), b.Next)
		}
		off = int(b.Next)
	}
	if used != h.usage {
		return fmt.Errorf("%w: used blocks hold %d bytes, usage says %d", ErrCorrupt, used, h.usage)
	}
	return nil
}
