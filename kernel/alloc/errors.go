package alloc

import "errors"

var (
	// ErrOutOfMemory indicates that no free block large enough was found.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrOutOfStacks indicates every stack slot is in use.
	ErrOutOfStacks = errors.New("alloc: out of stacks")

	// ErrDoubleFree indicates a release of a block or slot that is already free.
	ErrDoubleFree = errors.New("alloc: double free")

	// ErrInvalidPointer indicates a release target outside the managed region,
	// or one that does not name a block payload or a slot top.
	ErrInvalidPointer = errors.New("alloc: invalid pointer")

	// ErrBadSize indicates a negative allocation request.
	ErrBadSize = errors.New("alloc: negative size")

	// ErrRegionTooSmall indicates the region cannot hold a single block or slot.
	ErrRegionTooSmall = errors.New("alloc: region too small")

	// ErrBadSlotSize indicates a stack slot size that is not a positive multiple of 8.
	ErrBadSlotSize = errors.New("alloc: slot size must be a positive multiple of 8")

	// ErrCorrupt indicates the block list no longer satisfies its invariants.
	ErrCorrupt = errors.New("alloc: heap corrupted")
)
