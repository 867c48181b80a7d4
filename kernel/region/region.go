// Package region models the contiguous address ranges the kernel core manages.
//
// A Region is a simulated physical range [Base, Base+Len) backed by a byte
// slice. Addresses handed out by the allocators are region.Addr values; the
// backing slice is only reached through Offset so no code needs unsafe
// pointer arithmetic.
package region

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/joshuapare/kacchikit/internal/buf"
)

// Addr is a simulated 32-bit address. Zero is the null handle.
type Addr uint32

// Null is the null handle.
const Null Addr = 0

// String formats the address the way the serial console prints it.
func (a Addr) String() string {
	return fmt.Sprintf("0x%08X", uint32(a))
}

// LogValue renders addresses as hex in structured logs.
func (a Addr) LogValue() slog.Value {
	return slog.StringValue(a.String())
}

var (
	// ErrOutOfRange indicates an address or length outside the region.
	ErrOutOfRange = errors.New("region: address out of range")

	// ErrBadLayout indicates a base/size combination that cannot be mapped.
	ErrBadLayout = errors.New("region: invalid layout")
)

// Region is a contiguous byte range established once and never resized.
type Region struct {
	base    Addr
	data    []byte
	release func() error
}

// New wraps data as a region starting at base.
func New(base Addr, data []byte) (*Region, error) {
	if base == Null {
		return nil, fmt.Errorf("%w: base must be non-zero", ErrBadLayout)
	}
	if uint64(base)+uint64(len(data)) > math.MaxUint32+1 {
		return nil, fmt.Errorf("%w: %d bytes at %#x overflow the address space", ErrBadLayout, len(data), uint32(base))
	}
	return &Region{base: base, data: data}, nil
}

// Map allocates a zeroed backing store of size bytes and wraps it as a region
// at base. Close releases the mapping.
func Map(base Addr, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrBadLayout, size)
	}
	data, release, err := mapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("region: map %d bytes: %w", size, err)
	}
	r, err := New(base, data)
	if err != nil {
		_ = release()
		return nil, err
	}
	r.release = release
	return r, nil
}

// Base returns the first address of the region.
func (r *Region) Base() Addr { return r.base }

// End returns the address one past the region.
func (r *Region) End() Addr { return r.base + Addr(len(r.data)) }

// Len returns the region size in bytes.
func (r *Region) Len() int { return len(r.data) }

// Bytes exposes the backing store.
func (r *Region) Bytes() []byte { return r.data }

// Contains reports whether addr lies in [Base, End).
func (r *Region) Contains(addr Addr) bool {
	return addr >= r.base && uint64(addr) < uint64(r.base)+uint64(len(r.data))
}

// Offset converts addr to an offset into Bytes.
func (r *Region) Offset(addr Addr) (int, error) {
	if !r.Contains(addr) {
		return 0, fmt.Errorf("%w: %#08x not in [%#08x, %#08x)", ErrOutOfRange, uint32(addr), uint32(r.base), uint64(r.base)+uint64(len(r.data)))
	}
	return int(addr - r.base), nil
}

// Addr converts an offset into an address.
func (r *Region) Addr(off int) Addr {
	return r.base + Addr(off)
}

// Slice returns n bytes starting at addr.
func (r *Region) Slice(addr Addr, n int) ([]byte, error) {
	off, err := r.Offset(addr)
	if err != nil {
		return nil, err
	}
	b, ok := buf.Slice(r.data, off, n)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes at %#08x", ErrOutOfRange, n, uint32(addr))
	}
	return b, nil
}

// Split partitions the region at n: the low range covers [Base, Base+n) and
// the high range the remainder. Both share the parent's backing store; only
// the parent owns the mapping.
func (r *Region) Split(n int) (low, high *Region, err error) {
	if n <= 0 || n >= len(r.data) {
		return nil, nil, fmt.Errorf("%w: split at %d of %d bytes", ErrBadLayout, n, len(r.data))
	}
	low = &Region{base: r.base, data: r.data[:n:n]}
	high = &Region{base: r.base + Addr(n), data: r.data[n:]}
	return low, high, nil
}

// Close releases the backing mapping, if any. Calling it twice is a no-op.
func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	release := r.release
	r.release = nil
	r.data = nil
	return release()
}

// String formats the region as [base, end).
func (r *Region) String() string {
	return fmt.Sprintf("[%#08x, %#08x)", uint32(r.base), uint64(r.base)+uint64(len(r.data)))
}
