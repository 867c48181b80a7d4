package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/kernel"
	"github.com/joshuapare/kacchikit/kernel/alloc"
	"github.com/joshuapare/kacchikit/kernel/proc"
	"github.com/joshuapare/kacchikit/kernel/region"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

const (
	// topEntryBase is where the entry points of processes started from the
	// TUI are numbered from.
	topEntryBase region.Addr = 0x00102000
	topEntryStep region.Addr = 0x100

	heapMapCells = 64
)

func init() {
	rootCmd.AddCommand(newTopCmd())
}

func newTopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Drive the scheduler interactively",
		Long: `The top command boots the kernel and shows its process table, ready
queue and heap map. Keys:

  n  create a process       t  tick the scheduler
  y  yield the CPU          k  terminate the current process
  r  reap terminated        q  quit

Example:
  kacchictl top --stacks 8 --heap-size 4096`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTop(cmd)
		},
	}
	return cmd
}

func runTop(cmd *cobra.Command) error {
	// Log lines on the terminal would corrupt the TUI; use the daily file.
	if err := logger.Init(logger.Options{Enabled: verbose && !quiet, Level: slog.LevelDebug}); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	halted := new(error)
	k, err := kernel.Boot(cmd.Context(), cfg, kernel.WithHalt(func(err error) { *halted = err }))
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	defer k.Close()

	p := tea.NewProgram(newTopModel(cmd.Context(), k, halted), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// topModel is the bubbletea model behind kacchictl top.
type topModel struct {
	ctx    context.Context
	k      *kernel.Kernel
	halted *error

	spawned int
	status  string
	err     error
	width   int
}

func newTopModel(ctx context.Context, k *kernel.Kernel, halted *error) topModel {
	if halted == nil {
		halted = new(error)
	}
	return topModel{ctx: ctx, k: k, halted: halted, status: "booted " + k.ID.String()}
}

func (m topModel) Init() tea.Cmd {
	return nil
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m topModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	}
	if *m.halted != nil {
		m.status = "kernel halted; press q to quit"
		return m, nil
	}

	m.err = nil
	switch msg.String() {
	case "n":
		m.spawn()
	case "t", " ":
		m.report("tick", m.k.Tick(m.ctx))
	case "y":
		if m.k.Sched.Current() == nil {
			m.status = "yield: nothing is running"
			break
		}
		m.report("yield", m.k.Yield(m.ctx))
	case "k":
		m.kill()
	case "r":
		m.status = fmt.Sprintf("reaped %d process(es)", m.k.Procs.Reap())
	}
	return m, nil
}

func (m *topModel) spawn() {
	entry := topEntryBase + region.Addr(m.spawned)*topEntryStep
	name := fmt.Sprintf("proc-%d", m.spawned)
	m.spawned++

	p, err := m.k.CreateProcess(m.ctx, name, proc.Entry{Addr: entry})
	switch {
	case *m.halted != nil:
		m.err = *m.halted
	case err != nil:
		m.err = err
	default:
		m.status = "created " + p.String()
	}
}

func (m *topModel) kill() {
	cur := m.k.Sched.Current()
	if cur == nil || cur.State == proc.Terminated {
		m.status = "kill: nothing is running"
		return
	}
	if err := m.k.Terminate(m.ctx, cur); err != nil {
		m.err = err
		return
	}
	m.status = "terminated " + cur.String()
}

func (m *topModel) report(what string, cur *proc.Process) {
	if cur == nil {
		m.status = what + ": ready queue empty"
		return
	}
	m.status = fmt.Sprintf("%s: switch #%d -> %s", what, m.k.Sched.Switches(), cur)
}

func (m topModel) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("kacchi top  " + m.k.Region().String()))
	b.WriteString("\n")

	left := paneStyle.Render(m.viewProcesses())
	right := paneStyle.Render(m.viewScheduler())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.viewHeap()))
	b.WriteString("\n")

	switch {
	case *m.halted != nil:
		b.WriteString(errorStyle.Render("KERNEL HALTED: " + (*m.halted).Error()))
	case m.err != nil:
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
	default:
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("n new  t tick  y yield  k kill  r reap  q quit"))
	return b.String()
}

func (m topModel) viewProcesses() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Processes"))
	b.WriteString("\n")
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-4s %-12s %-10s %-10s %-10s", "PID", "NAME", "STATE", "STACK", "RECORD")))
	b.WriteString("\n")

	procs := m.k.Procs.List()
	if len(procs) == 0 {
		b.WriteString(helpStyle.Render("(none)"))
	}
	for _, p := range procs {
		line := fmt.Sprintf("%-4d %-12s %-10s %-10s %-10s", p.PID, p.Name, p.State, p.StackTop, p.Record)
		b.WriteString(stateStyle(p.State).Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func stateStyle(s proc.State) lipgloss.Style {
	switch s {
	case proc.Running:
		return runningStyle
	case proc.Terminated:
		return terminatedStyle
	default:
		return readyStyle
	}
}

func (m topModel) viewScheduler() string {
	s := m.k.Sched.Stats()
	cur := "None"
	if s.Current != nil {
		cur = s.Current.String()
	}

	queue := make([]string, 0, s.Queued)
	for _, p := range m.k.Sched.Queue() {
		queue = append(queue, p.Name)
	}
	if len(queue) == 0 {
		queue = append(queue, "(empty)")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Scheduler"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "switches  %s\n", serial.Hex(uint32(s.Switches)))
	fmt.Fprintf(&b, "current   %s\n", cur)
	fmt.Fprintf(&b, "queue     %s\n", strings.Join(queue, " -> "))
	fmt.Fprintf(&b, "stacks    %d/%d used", m.k.Stacks.Used(), m.k.Stacks.Len())
	return b.String()
}

func (m topModel) viewHeap() string {
	hs := m.k.Heap.Stats()

	var b strings.Builder
	b.WriteString(titleStyle.Render("Heap"))
	b.WriteString("\n")
	b.WriteString(heapMap(m.k.Heap.Blocks(), hs.Capacity, heapMapCells))
	b.WriteString("\n")
	fmt.Fprintf(&b, "used %d  free %d  blocks %d (%d free)  largest free %d  high water %d",
		hs.Used, hs.FreeBytes, hs.Blocks, hs.FreeBlocks, hs.LargestFree, hs.HighWater)
	return b.String()
}

// heapMap renders capacity bytes as cells characters, marking a cell used
// when any used block overlaps it.
func heapMap(blocks []alloc.Block, capacity, cells int) string {
	if capacity <= 0 || cells <= 0 {
		return ""
	}
	used := make([]bool, cells)
	for _, blk := range blocks {
		if blk.Free {
			continue
		}
		first := blk.Off * cells / capacity
		last := (blk.End() - 1) * cells / capacity
		for i := first; i <= last && i < cells; i++ {
			used[i] = true
		}
	}

	var b strings.Builder
	for _, u := range used {
		if u {
			b.WriteString(usedCellStyle.Render("█"))
		} else {
			b.WriteString(freeCellStyle.Render("░"))
		}
	}
	return b.String()
}
