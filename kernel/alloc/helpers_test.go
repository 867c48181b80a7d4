package alloc

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kacchikit/kernel/region"
)

const testBase region.Addr = 0x00100000

// discard is a logger that drops everything.
var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestRegion wraps a plain slice so tests don't depend on mmap.
func newTestRegion(t testing.TB, base region.Addr, size int) *region.Region {
	t.Helper()
	r, err := region.New(base, make([]byte, size))
	require.NoError(t, err)
	return r
}

// newTestHeap returns a recoverable heap over size bytes.
func newTestHeap(t testing.TB, size int) *Heap {
	t.Helper()
	h, err := NewHeap(newTestRegion(t, testBase, size), WithPolicy(PolicyRecoverable), WithLogger(discard))
	require.NoError(t, err)
	return h
}

// mustAlloc allocates or fails the test.
func mustAlloc(t testing.TB, h *Heap, size int) region.Addr {
	t.Helper()
	addr, err := h.Alloc(size)
	require.NoError(t, err)
	require.NotEqual(t, region.Null, addr)
	return addr
}

// requireHealthy checks the heap invariants.
func requireHealthy(t testing.TB, h *Heap) {
	t.Helper()
	require.NoError(t, h.Verify())
}

// blockAt returns the snapshot of the block whose payload starts at addr.
func blockAt(t testing.TB, h *Heap, addr region.Addr) Block {
	t.Helper()
	for _, b := range h.Blocks() {
		if b.Addr == addr {
			return b
		}
	}
	require.Failf(t, "block not found", "no block with payload %s", addr)
	return Block{}
}

// freeBlocks returns the free blocks in address order.
func freeBlocks(h *Heap) []Block {
	var out []Block
	for _, b := range h.Blocks() {
		if b.Free {
			out = append(out, b)
		}
	}
	return out
}
