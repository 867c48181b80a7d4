package proc

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/joshuapare/kacchikit/internal/format"
	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/kernel/region"
)

var (
	// ErrAllocationFailed indicates Create could not get a descriptor or a stack.
	ErrAllocationFailed = errors.New("proc: allocation failed")

	// ErrUnknownProcess indicates a process that is not in the table.
	ErrUnknownProcess = errors.New("proc: unknown process")
)

// Heap is the part of the kernel heap the table needs.
type Heap interface {
	Alloc(size int) (region.Addr, error)
	Free(addr region.Addr) error
	Bytes(addr region.Addr) ([]byte, error)
}

// Stacks is the part of the stack pool the table needs.
type Stacks interface {
	Acquire() (region.Addr, error)
	Release(top region.Addr) error
	Slot(top region.Addr) ([]byte, error)
	SlotSize() int
}

// Table owns every process descriptor. PIDs start at 1 and are never reused
// until Reset.
//
// NOT thread-safe.
type Table struct {
	heap    Heap
	stacks  Stacks
	nextPID uint32
	procs   map[uint32]*Process
	log     *slog.Logger
}

// NewTable returns an empty table drawing memory from heap and stacks.
func NewTable(heap Heap, stacks Stacks, l *slog.Logger) *Table {
	t := &Table{
		heap:   heap,
		stacks: stacks,
		log:    logger.Subsystem(l, "PROCESS"),
	}
	t.Reset()
	return t
}

// Reset sets the PID counter back to 1 and forgets every entry. Memory held
// by live entries is not released; terminate them first.
func (t *Table) Reset() {
	t.nextPID = 1
	t.procs = make(map[uint32]*Process)
	t.log.Info("process management initialized")
}

// NextPID returns the PID the next successful Create will assign.
func (t *Table) NextPID() uint32 { return t.nextPID }

// Create allocates a descriptor record and a stack for a new READY process.
//
// The stack pointer starts one return-address slot below the stack top, with
// entry.Addr stored there. If either allocation fails nothing is kept and the
// error wraps ErrAllocationFailed.
func (t *Table) Create(name string, entry Entry) (*Process, error) {
	rec, err := t.heap.Alloc(format.RecordSize)
	if err != nil {
		t.log.Error("failed to allocate PCB", "name", name, "err", err)
		return nil, fmt.Errorf("%w: descriptor for %q: %w", ErrAllocationFailed, name, err)
	}

	top, err := t.stacks.Acquire()
	if err != nil {
		t.log.Error("failed to allocate stack", "name", name, "err", err)
		if ferr := t.heap.Free(rec); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return nil, fmt.Errorf("%w: stack for %q: %w", ErrAllocationFailed, name, err)
	}

	slot, err := t.stacks.Slot(top)
	if err != nil {
		err = errors.Join(err, t.stacks.Release(top), t.heap.Free(rec))
		return nil, fmt.Errorf("%w: stack for %q: %w", ErrAllocationFailed, name, err)
	}
	sp := top - format.ReturnAddressWidth
	format.PutU32(slot, len(slot)-format.ReturnAddressWidth, uint32(entry.Addr))

	p := &Process{
		PID:          t.nextPID,
		Name:         format.TruncateName(name),
		State:        Ready,
		Entry:        entry,
		StackBase:    top - region.Addr(t.stacks.SlotSize()),
		StackTop:     top,
		StackPointer: sp,
		Record:       rec,
	}
	t.nextPID++

	if err := t.Sync(p); err != nil {
		err = errors.Join(err, t.stacks.Release(top), t.heap.Free(rec))
		return nil, fmt.Errorf("%w: record for %q: %w", ErrAllocationFailed, name, err)
	}
	t.procs[p.PID] = p

	t.log.Info("created process", "name", p.Name, "pid", p.PID, "stack", p.StackBase, "sp", p.StackPointer)
	return p, nil
}

// Terminate marks p TERMINATED and returns its stack and descriptor record.
// Nil and already terminated processes are no-ops.
func (t *Table) Terminate(p *Process) error {
	if p == nil || p.State == Terminated {
		return nil
	}

	t.log.Info("terminating process", "name", p.Name, "pid", p.PID)
	p.State = Terminated

	err := errors.Join(t.stacks.Release(p.StackTop), t.heap.Free(p.Record))
	p.StackBase, p.StackTop, p.StackPointer, p.Record = region.Null, region.Null, region.Null, region.Null
	if err != nil {
		t.log.Warn("terminate released resources with errors", "pid", p.PID, "err", err)
		return fmt.Errorf("proc: terminate %s: %w", p, err)
	}
	return nil
}

// Sync writes p's descriptor fields into its heap record.
func (t *Table) Sync(p *Process) error {
	if p.Record == region.Null {
		return fmt.Errorf("%w: %s has no record", ErrUnknownProcess, p)
	}
	b, err := t.heap.Bytes(p.Record)
	if err != nil {
		return err
	}
	return format.PutRecord(b, format.Record{
		PID:          p.PID,
		State:        uint32(p.State),
		StackBase:    uint32(p.StackBase),
		StackPointer: uint32(p.StackPointer),
		Entry:        uint32(p.Entry.Addr),
		Priority:     p.Priority,
		Age:          p.Age,
		Msg:          p.Msg,
		Name:         p.Name,
	})
}

// Record reads p's descriptor record back from the heap.
func (t *Table) Record(p *Process) (format.Record, error) {
	if p.Record == region.Null {
		return format.Record{}, fmt.Errorf("%w: %s has no record", ErrUnknownProcess, p)
	}
	b, err := t.heap.Bytes(p.Record)
	if err != nil {
		return format.Record{}, err
	}
	return format.ReadRecord(b)
}

// Lookup returns the process with the given PID.
func (t *Table) Lookup(pid uint32) (*Process, bool) {
	p, ok := t.procs[pid]
	return p, ok
}

// List returns every process ordered by PID.
func (t *Table) List() []*Process {
	out := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Process) int { return cmp.Compare(a.PID, b.PID) })
	return out
}

// Len returns the number of entries, terminated ones included.
func (t *Table) Len() int { return len(t.procs) }

// Reap drops terminated entries and returns how many were removed.
func (t *Table) Reap() int {
	n := 0
	for pid, p := range t.procs {
		if p.State == Terminated {
			delete(t.procs, pid)
			n++
		}
	}
	return n
}
