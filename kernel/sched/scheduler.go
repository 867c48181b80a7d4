// Package sched implements cooperative round-robin scheduling over processes
// created by package proc.
//
// The ready queue is a FIFO threaded through each process's intrusive link,
// so queueing never allocates. The scheduler references processes but never
// owns them: termination and memory release belong to proc.Table.
//
// Nothing here switches machine context. A "switch" is bookkeeping only: the
// popped process becomes current, is marked RUNNING and the switch counter
// advances.
package sched

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/kernel/proc"
)

var (
	// ErrAlreadyQueued indicates a process that is already queued or current.
	ErrAlreadyQueued = errors.New("sched: process already scheduled")

	// ErrTerminated indicates a terminated process was offered to the queue.
	ErrTerminated = errors.New("sched: process terminated")
)

// Stats is a snapshot of scheduler state.
type Stats struct {
	Switches uint64
	Current  *proc.Process
	Queued   int
}

// Scheduler is a FIFO ready queue plus the current process.
//
// NOT thread-safe.
type Scheduler struct {
	ready    proc.Queue
	current  *proc.Process
	switches uint64
	log      *slog.Logger
}

// New returns an empty scheduler. A nil logger falls back to logger.L.
func New(l *slog.Logger) *Scheduler {
	s := &Scheduler{log: logger.Subsystem(l, "SCHEDULER")}
	s.Reset()
	return s
}

// Reset empties the queue, clears the current process and zeroes the switch
// counter.
func (s *Scheduler) Reset() {
	s.ready.Clear()
	s.current = nil
	s.switches = 0
	s.log.Info("round-robin scheduler initialized")
}

// Add appends p to the tail of the ready queue and marks it READY.
// A nil process is a no-op.
func (s *Scheduler) Add(p *proc.Process) error {
	if p == nil {
		return nil
	}
	if p.State == proc.Terminated {
		return fmt.Errorf("%w: %s", ErrTerminated, p)
	}
	if p == s.current || !s.push(p) {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, p)
	}
	s.log.Info("added process to ready queue", "name", p.Name, "pid", p.PID)
	return nil
}

func (s *Scheduler) push(p *proc.Process) bool {
	if !s.ready.Push(p) {
		return false
	}
	p.State = proc.Ready
	return true
}

// Tick performs one scheduling decision and returns the current process.
//
// With an empty queue nothing changes. Otherwise the head is popped, the
// previous current process goes to the tail unless it has terminated, and
// the popped process becomes current and RUNNING.
func (s *Scheduler) Tick() *proc.Process {
	next := s.ready.Pop()
	for next != nil && next.State == proc.Terminated {
		s.log.Warn("dropping terminated process from ready queue", "name", next.Name, "pid", next.PID)
		next = s.ready.Pop()
	}
	if next == nil {
		return s.current
	}

	if prev := s.current; prev != nil && prev.State != proc.Terminated {
		s.push(prev)
	}

	s.current = next
	next.State = proc.Running
	s.switches++

	s.log.Info("context switch", "switch", s.switches, "name", next.Name, "pid", next.PID)
	return next
}

// Yield gives up the CPU on behalf of the current process. It is a no-op when
// nothing is running.
func (s *Scheduler) Yield() *proc.Process {
	if s.current == nil {
		return nil
	}
	s.log.Info("process yielding CPU", "name", s.current.Name, "pid", s.current.PID)
	return s.Tick()
}

// Remove unlinks p from the ready queue and reports whether it was queued.
// The current process is left in place; Tick drops it once it has terminated.
func (s *Scheduler) Remove(p *proc.Process) bool {
	if !s.ready.Remove(p) {
		return false
	}
	s.log.Info("removed process from ready queue", "name", p.Name, "pid", p.PID)
	return true
}

// Current returns the running process, or nil.
func (s *Scheduler) Current() *proc.Process { return s.current }

// Switches returns the number of context switches since Reset.
func (s *Scheduler) Switches() uint64 { return s.switches }

// Len returns the ready queue length. The current process is not counted.
func (s *Scheduler) Len() int { return s.ready.Len() }

// Queue returns the ready queue from head to tail.
func (s *Scheduler) Queue() []*proc.Process { return s.ready.Slice() }

// Stats returns the switch counter, current process and queue length.
func (s *Scheduler) Stats() Stats {
	return Stats{Switches: s.switches, Current: s.current, Queued: s.ready.Len()}
}
