package kernel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/joshuapare/kacchikit/internal/format"
	"github.com/joshuapare/kacchikit/internal/tracing"
	"github.com/joshuapare/kacchikit/kernel/alloc"
	"github.com/joshuapare/kacchikit/kernel/proc"
	"github.com/joshuapare/kacchikit/kernel/region"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func smallConfig() Config {
	return Config{
		KernelEnd:  0x00200000,
		HeapSize:   16 * 1024,
		StackSize:  1024,
		StackSlots: 4,
		FatalOOM:   false,
	}
}

func newTestKernel(t *testing.T, cfg Config, opts ...Option) *Kernel {
	t.Helper()
	k, err := Boot(t.Context(), cfg, append([]Option{WithLogger(discard)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func spawn(t *testing.T, k *Kernel, names ...string) []*proc.Process {
	t.Helper()
	out := make([]*proc.Process, len(names))
	for i, name := range names {
		p, err := k.CreateProcess(t.Context(), name, proc.Entry{Addr: region.Addr(0x1000 * (i + 1))})
		require.NoError(t, err)
		out[i] = p
	}
	return out
}

func Test_BootLayout(t *testing.T) {
	cfg := smallConfig()
	k := newTestKernel(t, cfg)

	require.Equal(t, region.Addr(cfg.KernelEnd), k.Region().Base())
	require.Equal(t, cfg.Size(), k.Region().Len())
	require.Equal(t, region.Addr(cfg.KernelEnd)+region.Addr(cfg.StackBytes()), k.Heap.Region().Base())
	require.Equal(t, cfg.HeapSize, k.Heap.Region().Len())
	require.Equal(t, cfg.StackSlots, k.Stacks.Len())
	require.NoError(t, k.Heap.Verify())
	require.NotEqual(t, [16]byte{}, [16]byte(k.ID))

	top, err := k.Stacks.Acquire()
	require.NoError(t, err)
	require.Equal(t, region.Addr(cfg.KernelEnd+uint32(cfg.StackSize)), top)
}

func Test_BootRejectsInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.StackSlots = 0
	_, err := Boot(t.Context(), cfg, WithLogger(discard))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func Test_CreateProcessQueues(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	ps := spawn(t, k, "A", "B", "C")

	require.Equal(t, 3, k.Sched.Len())
	require.Equal(t, 3, k.Stacks.Used())
	require.Equal(t, 3*format.RecordSize, k.Heap.Usage())
	for i, p := range ps {
		require.Equal(t, uint32(i+1), p.PID)
		require.True(t, p.Queued())
	}
}

func Test_TickRotatesAndSyncsRecords(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	ps := spawn(t, k, "A", "B", "C")

	var order []string
	for range 6 {
		order = append(order, k.Tick(t.Context()).Name)
	}
	require.Equal(t, []string{"A", "B", "C", "A", "B", "C"}, order)

	rec, err := k.Procs.Record(ps[2])
	require.NoError(t, err)
	require.Equal(t, uint32(proc.Running), rec.State)
	rec, err = k.Procs.Record(ps[1])
	require.NoError(t, err)
	require.Equal(t, uint32(proc.Ready), rec.State)
}

func Test_TerminateQueuedProcess(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	ps := spawn(t, k, "A", "B", "C")
	usage := k.Heap.Usage()

	require.NoError(t, k.Terminate(t.Context(), ps[1]))
	require.Equal(t, 2, k.Sched.Len())
	require.Equal(t, usage-format.RecordSize, k.Heap.Usage())
	require.Equal(t, 2, k.Stacks.Used())

	var order []string
	for range 4 {
		order = append(order, k.Tick(t.Context()).Name)
	}
	require.Equal(t, []string{"A", "C", "A", "C"}, order)
}

func Test_TerminateCurrentProcess(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	ps := spawn(t, k, "A", "B", "C")

	k.Tick(t.Context())
	require.Same(t, ps[1], k.Tick(t.Context()))
	require.NoError(t, k.Terminate(t.Context(), ps[1]))
	require.Same(t, ps[1], k.Sched.Current())

	var order []string
	for range 4 {
		order = append(order, k.Tick(t.Context()).Name)
	}
	require.Equal(t, []string{"C", "A", "C", "A"}, order)
	require.NoError(t, k.Heap.Verify())
}

func Test_CreateProcessOutOfStacks(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	spawn(t, k, "A", "B", "C", "D")
	usage := k.Heap.Usage()

	_, err := k.CreateProcess(t.Context(), "E", proc.Entry{})
	require.ErrorIs(t, err, proc.ErrAllocationFailed)
	require.ErrorIs(t, err, alloc.ErrOutOfStacks)
	require.Equal(t, usage, k.Heap.Usage())
	require.Equal(t, 4, k.Sched.Len())
}

func Test_FatalOOMHalts(t *testing.T) {
	cfg := smallConfig()
	cfg.HeapSize = 64
	cfg.FatalOOM = true

	var halted error
	k := newTestKernel(t, cfg, WithHalt(func(err error) { halted = err }))

	_, err := k.CreateProcess(t.Context(), "A", proc.Entry{})
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)
	require.ErrorIs(t, halted, alloc.ErrOutOfMemory)
	require.Zero(t, k.Stacks.Used())
}

func Test_FatalOOMDefaultPanics(t *testing.T) {
	cfg := smallConfig()
	cfg.HeapSize = 64
	cfg.FatalOOM = true
	k := newTestKernel(t, cfg)

	require.Panics(t, func() { _, _ = k.CreateProcess(t.Context(), "A", proc.Entry{}) })
}

func Test_RecoverableOOMDoesNotHalt(t *testing.T) {
	cfg := smallConfig()
	cfg.HeapSize = 64

	halted := false
	k := newTestKernel(t, cfg, WithHalt(func(error) { halted = true }))

	_, err := k.CreateProcess(t.Context(), "A", proc.Entry{})
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)
	require.False(t, halted)
}

func Test_YieldWithoutCurrent(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	spawn(t, k, "A")

	require.Nil(t, k.Yield(t.Context()))
	require.Zero(t, k.Sched.Switches())
}

func Test_PrintStats(t *testing.T) {
	k := newTestKernel(t, smallConfig())

	var buf bytes.Buffer
	require.NoError(t, k.PrintStats(serial.NewLine(nil, &buf)))
	require.Contains(t, buf.String(), "Current process: None\r\n")

	spawn(t, k, "A", "B")
	k.Tick(t.Context())
	buf.Reset()
	require.NoError(t, k.PrintStats(serial.NewLine(nil, &buf)))
	require.Equal(t, "[SCHEDULER] Statistics:\r\n"+
		"  Context switches: 0x00000001\r\n"+
		"  Current process: A (PID=0x00000001)\r\n"+
		"  Ready queue size: 0x00000001\r\n", buf.String())
}

func Test_PrintMemory(t *testing.T) {
	k := newTestKernel(t, smallConfig())
	spawn(t, k, "A")

	var buf bytes.Buffer
	require.NoError(t, k.PrintMemory(serial.NewLine(nil, &buf)))
	require.Contains(t, buf.String(), "  Heap usage = 0x00000040\r\n")
	require.Contains(t, buf.String(), "  Stacks used = 0x00000001\r\n")
}

func Test_CloseReleasesEverything(t *testing.T) {
	k, err := Boot(t.Context(), smallConfig(), WithLogger(discard))
	require.NoError(t, err)
	ps := spawn(t, k, "A", "B")
	k.Tick(t.Context())

	require.NoError(t, k.Close())
	for _, p := range ps {
		require.Equal(t, proc.Terminated, p.State)
	}
	require.Nil(t, k.Sched.Current())
	require.NoError(t, k.Close())
}

func Test_BootEmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := tracing.InitWithExporter("kacchikit", "test", exp)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	k := newTestKernel(t, smallConfig())
	spawn(t, k, "A")
	k.Tick(t.Context())

	var names []string
	for _, s := range exp.GetSpans() {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{"kernel.boot", "process.create", "sched.tick"}, names)
}
