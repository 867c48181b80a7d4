package kernel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/joshuapare/kacchikit/internal/tracing"
	"github.com/joshuapare/kacchikit/kernel/alloc"
	"github.com/joshuapare/kacchikit/kernel/proc"
	"github.com/joshuapare/kacchikit/kernel/region"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

// DemoEntries are the entry points the demo processes start at. The address
// is what gets preloaded on each stack.
var DemoEntries = []struct {
	Name string
	Addr region.Addr
}{
	{"process_a", 0x00101000},
	{"process_b", 0x00101100},
	{"process_c", 0x00101200},
}

// DemoTicks is the number of scheduler ticks run before and after the
// termination step.
const DemoTicks = 6

// Demo runs the memory test script followed by the scheduler script against
// k, writing a transcript to port. It leaves the heap and stack pool empty.
func Demo(ctx context.Context, k *Kernel, port serial.Port) (err error) {
	ctx, span := tracing.StartSpan(ctx, "kernel.demo", attribute.String("boot.id", k.ID.String()))
	defer func() { span.End(err) }()

	c := &console{port: port}
	c.puts("\n")
	c.puts("========================================\n")
	c.puts("    kacchiOS - Kernel Core Tests\n")
	c.puts("========================================\n\n")

	if err := demoMemory(c, k); err != nil {
		return err
	}
	if err := demoScheduler(ctx, c, k); err != nil {
		return err
	}

	c.puts("========================================\n")
	c.puts("    ALL TESTS PASSED!\n")
	c.puts("========================================\n")
	c.puts("Task 1: kmalloc, kstack_alloc - OK\n")
	c.puts("Task 2: kfree, kstack_free - OK\n")
	c.puts("  - Double-free protection - OK\n")
	c.puts("  - Block coalescing - OK\n")
	c.puts("Task 3: process create/terminate - OK\n")
	c.puts("Task 4: round-robin scheduling - OK\n")
	c.puts("========================================\n\n")
	c.puts("System halted.\n")
	return c.err
}

func fill(h *alloc.Heap, a region.Addr, n int, v byte) error {
	b, err := h.Bytes(a)
	if err != nil {
		return err
	}
	if len(b) < n {
		return fmt.Errorf("kernel: block %s holds %d bytes, want %d", a, len(b), n)
	}
	for i := range n {
		b[i] = v
	}
	return nil
}

func demoMemory(c *console, k *Kernel) error {
	h, sp := k.Heap, k.Stacks

	c.puts("===== TASK 1: MEMORY ALLOCATION =====\n\n")
	c.puts("--- Heap Allocation (kmalloc) ---\n")

	var blocks [3]region.Addr
	for i, size := range []int{32, 64, 128} {
		a, err := h.Alloc(size)
		if err != nil {
			return err
		}
		blocks[i] = a
		c.ptr(fmt.Sprintf("Allocated %d bytes at", size), a)
	}
	a, b, cc := blocks[0], blocks[1], blocks[2]
	c.val("Heap usage after allocations", h.Usage())

	if err := errors.Join(fill(h, a, 32, 'A'), fill(h, b, 64, 'B'), fill(h, cc, 128, 'C')); err != nil {
		return err
	}
	c.puts("Successfully wrote to all allocated blocks\n\n")

	c.puts("--- Stack Allocation (kstack_alloc) ---\n")
	var stacks [3]region.Addr
	for i := range stacks {
		top, err := sp.Acquire()
		if err != nil {
			return err
		}
		stacks[i] = top
		c.ptr(fmt.Sprintf("Stack %d top", i+1), top)
	}
	c.val("Stacks used", sp.Used())
	c.val("Stacks free", sp.Free())
	c.puts("\n[TASK 1 COMPLETE] Heap and Stack allocation working!\n\n")

	c.puts("===== TASK 2: MEMORY DEALLOCATION =====\n\n")
	c.puts("--- Heap Deallocation (kfree) ---\n")
	c.val("Heap usage before kfree", h.Usage())

	for _, step := range []struct {
		label string
		addr  region.Addr
		size  int
	}{{"b", b, 64}, {"a", a, 32}, {"c", cc, 128}} {
		c.puts(fmt.Sprintf("Freeing block %s (%d bytes)...\n", step.label, step.size))
		if err := h.Free(step.addr); err != nil {
			return err
		}
		c.val("Heap usage after freeing "+step.label, h.Usage())
	}

	c.puts("\nTesting double-free protection on block a:\n")
	if err := h.Free(a); errors.Is(err, alloc.ErrDoubleFree) || errors.Is(err, alloc.ErrInvalidPointer) {
		c.puts("[MEM] WARNING: double free rejected at " + serial.Hex(uint32(a)) + "\n")
	} else {
		return fmt.Errorf("kernel: double free of %s not rejected: %v", a, err)
	}

	c.puts("\nTesting kfree(NULL) - should do nothing:\n")
	if err := h.Free(region.Null); err != nil {
		return err
	}
	c.puts("kfree(NULL) handled safely\n")

	c.puts("\nTesting block coalescing (reallocate after free):\n")
	d, err := h.Alloc(200)
	if err != nil {
		return err
	}
	c.ptr("Allocated 200 bytes (coalesced) at", d)
	if err := h.Free(d); err != nil {
		return err
	}

	c.puts("\n--- Stack Deallocation (kstack_free) ---\n")
	c.val("Stacks used before free", sp.Used())
	for _, i := range []int{1, 0, 2} {
		c.puts(fmt.Sprintf("Freeing stack %d...\n", i+1))
		if err := sp.Release(stacks[i]); err != nil {
			return err
		}
		c.val(fmt.Sprintf("Stacks used after freeing stack %d", i+1), sp.Used())
	}

	c.puts("\nTesting stack double-free protection:\n")
	if err := sp.Release(stacks[0]); errors.Is(err, alloc.ErrDoubleFree) {
		c.puts("[STACK] WARNING: double free rejected at " + serial.Hex(uint32(stacks[0])) + "\n")
	} else {
		return fmt.Errorf("kernel: stack double free of %s not rejected: %v", stacks[0], err)
	}

	c.puts("\nTesting kstack_free(NULL) - should do nothing:\n")
	if err := sp.Release(region.Null); err != nil {
		return err
	}
	c.puts("kstack_free(NULL) handled safely\n")
	c.puts("\n[TASK 2 COMPLETE] Heap and Stack deallocation working!\n\n")
	return c.err
}

func demoScheduler(ctx context.Context, c *console, k *Kernel) error {
	c.puts("===== TASK 3: PROCESS MANAGEMENT =====\n\n")

	procs := make([]*proc.Process, 0, len(DemoEntries))
	for _, e := range DemoEntries {
		p, err := k.CreateProcess(ctx, e.Name, proc.Entry{Addr: e.Addr})
		if err != nil {
			return err
		}
		procs = append(procs, p)
		c.puts("Created " + p.Name + " (PID=" + serial.Hex(p.PID) + ")")
		c.puts(" stack top " + serial.Hex(uint32(p.StackTop)))
		c.puts(" entry " + serial.Hex(uint32(p.Entry.Addr)) + "\n")
	}
	c.val("Heap usage with descriptors", k.Heap.Usage())
	c.val("Stacks used", k.Stacks.Used())
	c.puts("\n[TASK 3 COMPLETE] Processes created!\n\n")

	c.puts("===== TASK 4: ROUND-ROBIN SCHEDULING =====\n\n")
	if err := demoTicks(ctx, c, k, DemoTicks); err != nil {
		return err
	}

	victim := procs[1]
	c.puts("\nTerminating " + victim.Name + " (PID=" + serial.Hex(victim.PID) + ")...\n")
	if err := k.Terminate(ctx, victim); err != nil {
		return err
	}
	if err := demoTicks(ctx, c, k, DemoTicks); err != nil {
		return err
	}
	c.puts("\n")
	if err := k.PrintStats(c.port); err != nil {
		return err
	}

	c.puts("\nTerminating remaining processes...\n")
	for _, p := range procs {
		if err := k.Terminate(ctx, p); err != nil {
			return err
		}
	}
	k.Procs.Reap()
	c.val("Heap usage after terminate", k.Heap.Usage())
	c.val("Stacks used after terminate", k.Stacks.Used())
	c.puts("\n[TASK 4 COMPLETE] Scheduler working!\n\n")
	return c.err
}

func demoTicks(ctx context.Context, c *console, k *Kernel, n int) error {
	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := k.Tick(ctx)
		if cur == nil {
			c.puts(fmt.Sprintf("Tick %d: idle\n", i+1))
			continue
		}
		c.puts(fmt.Sprintf("Tick %d: running %s (PID=%s)\n", i+1, cur.Name, serial.Hex(cur.PID)))
	}
	return c.err
}
