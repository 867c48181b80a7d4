package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kacchikit/kernel"
	"github.com/joshuapare/kacchikit/kernel/alloc"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

func init() {
	rootCmd.AddCommand(newBootCmd())
}

func newBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the kernel and report its memory layout",
		Long: `The boot command maps the managed region, initializes the stack pool,
heap, process table and scheduler, prints the resulting layout and shuts the
kernel down again.

Example:
  kacchictl boot
  kacchictl boot --heap-size 65536 --stacks 4
  kacchictl boot --config kernel.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(cmd)
		},
	}
	return cmd
}

// BootReport is the layout printed by the boot command.
type BootReport struct {
	BootID     string           `json:"boot_id"`
	Config     kernel.Config    `json:"config"`
	StackStart string           `json:"stack_start"`
	StackEnd   string           `json:"stack_end"`
	HeapStart  string           `json:"heap_start"`
	HeapEnd    string           `json:"heap_end"`
	Heap       alloc.HeapStats  `json:"heap"`
	Stacks     alloc.StackStats `json:"stacks"`
}

func bootKernel(cmd *cobra.Command, port serial.Port) (*kernel.Kernel, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return kernel.Boot(cmd.Context(), cfg, kernel.WithHalt(haltTo(port)))
}

// haltTo reports a kernel halt on port before unwinding.
func haltTo(port serial.Port) func(error) {
	return func(err error) {
		_ = port.WriteString("\nKERNEL PANIC: " + err.Error() + "\nSystem halted.\n")
		alloc.HaltPanic(err)
	}
}

// recoverHalt turns a kernel halt panic into an error.
func recoverHalt(err *error) {
	r := recover()
	if r == nil {
		return
	}
	var halt *alloc.HaltError
	if e, ok := r.(error); ok && errors.As(e, &halt) {
		*err = halt
		return
	}
	panic(r)
}

func runBoot(cmd *cobra.Command) (err error) {
	out := cmd.OutOrStdout()
	port := serial.NewLine(nil, out)

	defer recoverHalt(&err)
	k, err := bootKernel(cmd, port)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	defer func() {
		if cerr := k.Close(); err == nil {
			err = cerr
		}
	}()

	stackEnd := k.Heap.Region().Base()
	report := BootReport{
		BootID:     k.ID.String(),
		Config:     k.Config,
		StackStart: k.Region().Base().String(),
		StackEnd:   stackEnd.String(),
		HeapStart:  stackEnd.String(),
		HeapEnd:    k.Region().End().String(),
		Heap:       k.Heap.Stats(),
		Stacks:     k.Stacks.Stats(),
	}
	if jsonOut {
		return printJSON(out, report)
	}

	printInfo(out, "Boot ID:      %s\n", report.BootID)
	printInfo(out, "Region:       %s\n", k.Region())
	printInfo(out, "Stack pool:   [%s, %s) %d x %d bytes\n", report.StackStart, report.StackEnd, k.Config.StackSlots, k.Config.StackSize)
	printInfo(out, "Heap:         [%s, %s) %d bytes\n", report.HeapStart, report.HeapEnd, k.Config.HeapSize)
	printInfo(out, "Fatal OOM:    %t\n", k.Config.FatalOOM)
	printVerbose(out, "First block:  payload at %s\n", stackEnd+16)
	if quiet {
		return nil
	}
	printInfo(out, "\n")
	return k.PrintMemory(port)
}
