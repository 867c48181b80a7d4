// Package proc implements the kernel process table.
//
// Each process owns two allocations: a descriptor record on the kernel heap
// and a stack slot from the stack pool. Create takes both or neither;
// Terminate gives both back.
package proc

import (
	"fmt"

	"github.com/joshuapare/kacchikit/kernel/region"
)

// State is a process lifecycle state.
type State uint32

const (
	Ready State = iota
	Running
	// Blocked is reserved for I/O waits; nothing enters or leaves it yet.
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Entry is a process entry point. Addr is the word preloaded on the stack so
// a first dispatch could resume into it. Fn is never called by the core.
type Entry struct {
	Addr region.Addr
	Fn   func()
}

// Process is a process control block.
type Process struct {
	PID          uint32
	Name         string
	State        State
	Entry        Entry
	StackBase    region.Addr
	StackTop     region.Addr
	StackPointer region.Addr
	Record       region.Addr // heap handle of the descriptor record

	// Reserved for priority scheduling and messaging; never consulted.
	Priority uint32
	Age      uint32
	Msg      uint32

	next   *Process
	queued bool
}

// Next returns the process queued behind p.
func (p *Process) Next() *Process { return p.next }

// Queued reports whether p sits in a Queue.
func (p *Process) Queued() bool { return p.queued }

func (p *Process) String() string {
	return fmt.Sprintf("%s (PID=%d)", p.Name, p.PID)
}
