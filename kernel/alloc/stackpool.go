package alloc

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/kacchikit/internal/buf"
	"github.com/joshuapare/kacchikit/internal/format"
	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/kernel/region"
)

// StackPool hands out fixed-size kernel stacks from a region.
//
// Slots are addressed by index and carry no header, so the whole slot is
// available to the stack that owns it. Handles are slot TOP addresses.
//
// NOT thread-safe.
type StackPool struct {
	r        *region.Region
	slotSize int
	used     []bool
	inUse    int
	log      *slog.Logger
}

// NewStackPool partitions r into slotCount slots of slotSize bytes.
func NewStackPool(r *region.Region, slotSize, slotCount int, opts ...StackOption) (*StackPool, error) {
	if slotSize <= 0 || !format.IsAligned8(slotSize) {
		return nil, fmt.Errorf("%w: %d", ErrBadSlotSize, slotSize)
	}
	if slotCount <= 0 {
		return nil, fmt.Errorf("%w: %d slots", ErrRegionTooSmall, slotCount)
	}
	if _, err := buf.CheckArray(r.Len(), 0, slotCount, slotSize); err != nil {
		return nil, fmt.Errorf("%w: %d slots of %d bytes in %d: %w",
			ErrRegionTooSmall, slotCount, slotSize, r.Len(), err)
	}

	p := &StackPool{
		r:        r,
		slotSize: slotSize,
		used:     make([]bool, slotCount),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.Subsystem(p.log, "STACK")

	p.log.Info("stack pool initialized", "start", r.Base(), "slots", slotCount, "slot_size", slotSize)
	return p, nil
}

// Acquire claims the first free slot and returns its top address.
func (p *StackPool) Acquire() (region.Addr, error) {
	for i, used := range p.used {
		if used {
			continue
		}
		p.used[i] = true
		p.inUse++
		return p.top(i), nil
	}
	p.log.Warn("kstack_alloc: no free stacks", "slots", len(p.used))
	return region.Null, fmt.Errorf("%w: all %d slots in use", ErrOutOfStacks, len(p.used))
}

// Release returns the slot whose top address is top. The null handle is a
// no-op; anything that is not exactly a slot top yields ErrInvalidPointer.
func (p *StackPool) Release(top region.Addr) error {
	if top == region.Null {
		return nil
	}
	i, err := p.index(top)
	if err != nil {
		p.log.Warn("kstack_free: invalid stack pointer", "addr", top)
		return err
	}
	if !p.used[i] {
		p.log.Warn("kstack_free: double free detected", "addr", top, "slot", i)
		return fmt.Errorf("%w: stack slot %d at %s", ErrDoubleFree, i, top)
	}
	p.used[i] = false
	p.inUse--
	return nil
}

// Slot returns the stack bytes of the in-use slot whose top address is top.
func (p *StackPool) Slot(top region.Addr) ([]byte, error) {
	i, err := p.index(top)
	if err != nil {
		return nil, err
	}
	if !p.used[i] {
		return nil, fmt.Errorf("%w: stack slot %d is free", ErrInvalidPointer, i)
	}
	start := i * p.slotSize
	return p.r.Bytes()[start : start+p.slotSize], nil
}

// Base returns the lowest address of the slot whose top address is top.
func (p *StackPool) Base(top region.Addr) region.Addr {
	return top - region.Addr(p.slotSize)
}

// index maps a top address to its slot index.
func (p *StackPool) index(top region.Addr) (int, error) {
	base := p.r.Base()
	if top <= base {
		return 0, fmt.Errorf("%w: %s below stack pool %s", ErrInvalidPointer, top, p.r)
	}
	rel := int(top - base)
	if rel%p.slotSize != 0 || rel/p.slotSize > len(p.used) {
		return 0, fmt.Errorf("%w: %s is not a stack top", ErrInvalidPointer, top)
	}
	return rel/p.slotSize - 1, nil
}

func (p *StackPool) top(i int) region.Addr {
	return p.r.Base() + region.Addr((i+1)*p.slotSize)
}

// Used returns the number of slots in use.
func (p *StackPool) Used() int { return p.inUse }

// Free returns the number of unused slots.
func (p *StackPool) Free() int { return len(p.used) - p.inUse }

// Len returns the number of slots.
func (p *StackPool) Len() int { return len(p.used) }

// SlotSize returns the size of each slot in bytes.
func (p *StackPool) SlotSize() int { return p.slotSize }

// InUse reports whether slot i is occupied.
func (p *StackPool) InUse(i int) bool {
	return i >= 0 && i < len(p.used) && p.used[i]
}

// Stats returns pool occupancy.
func (p *StackPool) Stats() StackStats {
	return StackStats{
		Slots:    len(p.used),
		Used:     p.inUse,
		Free:     len(p.used) - p.inUse,
		SlotSize: p.slotSize,
	}
}
