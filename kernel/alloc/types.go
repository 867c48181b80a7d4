package alloc

import (
	"log/slog"

	"github.com/joshuapare/kacchikit/kernel/region"
)

// Block is a snapshot of one heap block.
type Block struct {
	Off  int         // Header offset inside the heap region
	Addr region.Addr // Payload address handed to callers
	Size int         // Payload size in bytes
	Free bool
}

// End returns the offset one past the block's payload.
func (b Block) End() int {
	return b.Off + headerSize + b.Size
}

// HeapStats holds heap occupancy and operation counters.
type HeapStats struct {
	Capacity    int // Region size in bytes
	Used        int // Payload bytes in used blocks
	FreeBytes   int // Payload bytes in free blocks
	Blocks      int // Total blocks
	FreeBlocks  int // Free blocks
	LargestFree int // Largest free payload
	HighWater   int // Highest Used value observed

	AllocCalls int
	FreeCalls  int
	Splits     int
	Coalesces  int
	Failures   int // Failed Alloc and Free calls
}

// StackStats holds stack pool occupancy.
type StackStats struct {
	Slots    int
	Used     int
	Free     int
	SlotSize int
}

// HeapOption configures a Heap.
type HeapOption func(*Heap)

// WithPolicy sets the heap's exhaustion policy.
func WithPolicy(p Policy) HeapOption {
	return func(h *Heap) { h.policy = p }
}

// WithLogger sets the heap's logger.
func WithLogger(l *slog.Logger) HeapOption {
	return func(h *Heap) { h.log = l }
}

// StackOption configures a StackPool.
type StackOption func(*StackPool)

// WithStackLogger sets the stack pool's logger.
func WithStackLogger(l *slog.Logger) StackOption {
	return func(p *StackPool) { p.log = l }
}
