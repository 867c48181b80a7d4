// Package kernel assembles the simulated kernel: one mapped region split into
// a stack pool and a heap, a process table drawing on both, and a round-robin
// scheduler over the table's processes.
//
// Boot is the only constructor. Everything after it runs on the caller's
// goroutine; a Kernel is NOT safe for concurrent use.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/internal/tracing"
	"github.com/joshuapare/kacchikit/kernel/alloc"
	"github.com/joshuapare/kacchikit/kernel/proc"
	"github.com/joshuapare/kacchikit/kernel/region"
	"github.com/joshuapare/kacchikit/kernel/sched"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

// Kernel owns the memory region and every subsystem built on it.
type Kernel struct {
	ID     uuid.UUID
	Config Config

	Heap   *alloc.Heap
	Stacks *alloc.StackPool
	Procs  *proc.Table
	Sched  *sched.Scheduler

	mem *region.Region
	log *slog.Logger
}

type options struct {
	log  *slog.Logger
	halt func(error)
}

// Option configures Boot.
type Option func(*options)

// WithLogger sets the logger every subsystem derives from. The default is
// logger.L.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithHalt replaces the action taken on fatal heap exhaustion. The default
// panics with *alloc.HaltError.
func WithHalt(fn func(error)) Option {
	return func(o *options) { o.halt = fn }
}

// Boot validates cfg, maps the managed range and initializes the heap, stack
// pool, process table and scheduler in that order.
func Boot(ctx context.Context, cfg Config, opts ...Option) (k *Kernel, err error) {
	o := options{log: logger.L, halt: alloc.HaltPanic}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	_, span := tracing.StartSpan(ctx, "kernel.boot", attribute.String("boot.id", id.String()))
	defer func() { span.End(err) }()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := o.log.With(slog.String("boot_id", id.String()))

	mem, err := region.Map(region.Addr(cfg.KernelEnd), cfg.Size())
	if err != nil {
		return nil, fmt.Errorf("kernel: map %d bytes: %w", cfg.Size(), err)
	}
	defer func() {
		if err != nil {
			_ = mem.Close()
		}
	}()

	stackRegion, heapRegion, err := mem.Split(cfg.StackBytes())
	if err != nil {
		return nil, err
	}

	policy := alloc.PolicyRecoverable
	if cfg.FatalOOM {
		policy = alloc.Policy{FatalOOM: true, Halt: o.halt}
	}
	heap, err := alloc.NewHeap(heapRegion, alloc.WithPolicy(policy), alloc.WithLogger(log))
	if err != nil {
		return nil, err
	}
	stacks, err := alloc.NewStackPool(stackRegion, cfg.StackSize, cfg.StackSlots, alloc.WithStackLogger(log))
	if err != nil {
		return nil, err
	}

	k = &Kernel{
		ID:     id,
		Config: cfg,
		Heap:   heap,
		Stacks: stacks,
		Procs:  proc.NewTable(heap, stacks, log),
		Sched:  sched.New(log),
		mem:    mem,
		log:    log,
	}

	span.SetAttributes(
		tracing.Addr("heap.start", uint32(heapRegion.Base())),
		tracing.Addr("stacks.start", uint32(stackRegion.Base())),
		attribute.Int("heap.size", heapRegion.Len()),
		attribute.Int("stacks.slots", cfg.StackSlots),
	)
	log.Info("kernel booted", "region", mem.String(), "heap", heapRegion.String(), "stacks", stackRegion.String())
	return k, nil
}

// CreateProcess creates a process and appends it to the ready queue.
func (k *Kernel) CreateProcess(ctx context.Context, name string, entry proc.Entry) (p *proc.Process, err error) {
	_, span := tracing.StartSpan(ctx, "process.create", attribute.String("process.name", name))
	defer func() { span.End(err) }()

	p, err = k.Procs.Create(name, entry)
	if err != nil {
		return nil, err
	}
	if err := k.Sched.Add(p); err != nil {
		return nil, errors.Join(err, k.Procs.Terminate(p))
	}

	span.SetAttributes(
		attribute.Int64("process.pid", int64(p.PID)),
		tracing.Addr("process.stack_top", uint32(p.StackTop)),
	)
	return p, nil
}

// Terminate takes p out of the ready queue and releases its memory. A
// terminated current process stays current until the next Tick.
func (k *Kernel) Terminate(ctx context.Context, p *proc.Process) (err error) {
	if p == nil {
		return nil
	}
	_, span := tracing.StartSpan(ctx, "process.terminate", attribute.Int64("process.pid", int64(p.PID)))
	defer func() { span.End(err) }()

	k.Sched.Remove(p)
	return k.Procs.Terminate(p)
}

// Tick runs one scheduling decision and refreshes the heap records of the
// processes whose state changed.
func (k *Kernel) Tick(ctx context.Context) *proc.Process {
	_, span := tracing.StartSpan(ctx, "sched.tick")
	defer span.End(nil)

	prev := k.Sched.Current()
	cur := k.Sched.Tick()
	if cur == prev {
		return cur
	}
	k.sync(prev)
	k.sync(cur)

	span.SetAttributes(
		attribute.Int64("sched.switches", int64(k.Sched.Switches())),
		attribute.Int64("process.pid", int64(cur.PID)),
	)
	return cur
}

// Yield gives up the CPU on behalf of the current process.
func (k *Kernel) Yield(ctx context.Context) *proc.Process {
	if k.Sched.Current() == nil {
		return nil
	}
	k.log.Debug("yield", "pid", k.Sched.Current().PID)
	return k.Tick(ctx)
}

func (k *Kernel) sync(p *proc.Process) {
	if p == nil || p.State == proc.Terminated {
		return
	}
	if err := k.Procs.Sync(p); err != nil {
		k.log.Warn("process record sync failed", "pid", p.PID, "err", err)
	}
}

// PrintStats writes the scheduler statistics to port.
func (k *Kernel) PrintStats(port serial.Port) error {
	c := console{port: port}
	c.puts("[SCHEDULER] Statistics:\n")
	c.puts("  Context switches: " + serial.Hex(uint32(k.Sched.Switches())) + "\n")
	if cur := k.Sched.Current(); cur != nil {
		c.puts("  Current process: " + cur.Name + " (PID=" + serial.Hex(cur.PID) + ")\n")
	} else {
		c.puts("  Current process: None\n")
	}
	c.puts("  Ready queue size: " + serial.Hex(uint32(k.Sched.Len())) + "\n")
	return c.err
}

// PrintMemory writes heap and stack pool occupancy to port.
func (k *Kernel) PrintMemory(port serial.Port) error {
	hs := k.Heap.Stats()
	c := console{port: port}
	c.puts("[MEMORY] Statistics:\n")
	c.val("  Heap usage", hs.Used)
	c.val("  Heap free", hs.FreeBytes)
	c.val("  Heap blocks", hs.Blocks)
	c.val("  Stacks used", k.Stacks.Used())
	c.val("  Stacks free", k.Stacks.Free())
	return c.err
}

// Region returns the whole managed range.
func (k *Kernel) Region() *region.Region { return k.mem }

// Close terminates every live process and unmaps the managed range.
func (k *Kernel) Close() error {
	var errs []error
	for _, p := range k.Procs.List() {
		k.Sched.Remove(p)
		errs = append(errs, k.Procs.Terminate(p))
	}
	k.Sched.Reset()
	errs = append(errs, k.mem.Close())
	return errors.Join(errs...)
}

// console writes lines to a port, keeping the first error.
type console struct {
	port serial.Port
	err  error
}

func (c *console) puts(s string) {
	if c.err != nil {
		return
	}
	c.err = c.port.WriteString(s)
}

func (c *console) ptr(name string, a region.Addr) {
	c.puts(name + " = " + serial.Hex(uint32(a)) + "\n")
}

func (c *console) val(name string, v int) {
	c.puts(name + " = " + serial.Hex(uint32(v)) + "\n")
}
