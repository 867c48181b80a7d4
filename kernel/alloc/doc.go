// Package alloc provides the kernel heap allocator and the fixed-size kernel
// stack pool.
//
// # Overview
//
// Both allocators manage a region.Region handed to them at boot. The boot code
// partitions a single range derived from the end of the kernel image: the
// stack pool claims the low part, the heap owns the remainder.
//
// # Heap
//
// Heap is a first-fit allocator over an address-ordered, singly-linked list of
// blocks. Every block starts with a 16-byte header written into the region
// itself (see internal/format):
//
//	+-------+------+-------+------+------------------+
//	| magic | size | flags | next | payload (size B) |
//	+-------+------+-------+------+------------------+
//
// The list covers the whole region with no gaps. Alloc rounds requests up to
// 8 bytes, takes the first free block that fits, and splits it when the tail
// can hold another header plus an 8-byte payload. Free marks the block free
// and runs a single forward coalescing pass that merges list neighbours that
// are both free and physically contiguous. Free blocks that are not adjacent
// stay separate.
//
//	h, err := alloc.NewHeap(heapRegion)
//	if err != nil {
//	    return err
//	}
//	a, err := h.Alloc(32)
//	...
//	err = h.Free(a)
//
// # Stack pool
//
// StackPool splits its region into N slots of equal size and tracks them with
// a used bitmap. Acquire returns the TOP address of the slot because stacks
// grow downward; Release only accepts exact top addresses.
//
// # Error policy
//
// Heap exhaustion is fatal by default: the heap calls Policy.Halt before
// returning ErrOutOfMemory. Install PolicyRecoverable to receive the error
// instead. Stack exhaustion, double frees and invalid pointers are always
// recoverable: they are logged and returned, and the allocator state is left
// untouched.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. The kernel core runs on a single
// logical thread and never touches them concurrently.
//
// # Related Packages
//
//   - github.com/joshuapare/kacchikit/kernel/region: Address ranges
//   - github.com/joshuapare/kacchikit/kernel/proc: Process table built on both allocators
//   - github.com/joshuapare/kacchikit/internal/format: Header layout constants
package alloc
