package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kacchikit/internal/logger"
	"github.com/joshuapare/kacchikit/internal/tracing"
	"github.com/joshuapare/kacchikit/kernel"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	logJSON    bool
	configPath string
	traceFile  string

	// Layout overrides
	kernelEnd   uint32
	heapSize    int
	stackSize   int
	stackSlots  int
	recoverable bool
)

var (
	traceShutdown tracing.Shutdown
	traceOut      *os.File
)

var rootCmd = &cobra.Command{
	Use:   "kacchictl",
	Short: "Boot and drive the kacchi kernel core",
	Long: `kacchictl boots the kacchi kernel core (heap allocator, stack pool,
process table and round-robin scheduler) over a simulated memory region and
lets you run the scripted demo, inspect the boot layout or drive the
scheduler interactively.`,
	Version:            version,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable kernel log output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write kernel logs as JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Boot config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "Write OpenTelemetry spans to this file")

	rootCmd.PersistentFlags().Uint32Var(&kernelEnd, "kernel-end", kernel.DefaultKernelEnd, "Start address of the managed region")
	rootCmd.PersistentFlags().IntVar(&heapSize, "heap-size", kernel.DefaultHeapSize, "Heap size in bytes")
	rootCmd.PersistentFlags().IntVar(&stackSize, "stack-size", kernel.DefaultStackSize, "Kernel stack size in bytes")
	rootCmd.PersistentFlags().IntVar(&stackSlots, "stacks", kernel.DefaultStackSlots, "Number of kernel stacks")
	rootCmd.PersistentFlags().BoolVar(&recoverable, "recoverable", false, "Return heap exhaustion as an error instead of halting")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	format := logger.FormatText
	if logJSON {
		format = logger.FormatJSON
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if err := logger.Init(logger.Options{
		Enabled: verbose && !quiet,
		Output:  serial.NewLine(nil, cmd.ErrOrStderr()),
		Format:  format,
		Level:   level,
	}); err != nil {
		return err
	}

	if traceFile != "" {
		f, err := os.Create(traceFile)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		shutdown, err := tracing.Init("kacchictl", version, f)
		if err != nil {
			f.Close()
			return err
		}
		traceOut, traceShutdown = f, shutdown
	}
	return nil
}

func teardown(*cobra.Command, []string) error {
	if traceShutdown == nil {
		return nil
	}
	err := traceShutdown(context.Background())
	if cerr := traceOut.Close(); err == nil {
		err = cerr
	}
	traceShutdown, traceOut = nil, nil
	return err
}

// loadConfig reads --config (or the defaults) and applies any layout flags
// given explicitly on the command line.
func loadConfig(cmd *cobra.Command) (kernel.Config, error) {
	cfg := kernel.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = kernel.LoadConfig(configPath); err != nil {
			return kernel.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("kernel-end") {
		cfg.KernelEnd = kernelEnd
	}
	if flags.Changed("heap-size") {
		cfg.HeapSize = heapSize
	}
	if flags.Changed("stack-size") {
		cfg.StackSize = stackSize
	}
	if flags.Changed("stacks") {
		cfg.StackSlots = stackSlots
	}
	if flags.Changed("recoverable") {
		cfg.FatalOOM = !recoverable
	}
	return cfg, cfg.Validate()
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(w io.Writer, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(w io.Writer, format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
