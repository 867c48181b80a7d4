package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kacchikit/kernel"
	"github.com/joshuapare/kacchikit/kernel/serial"
)

func init() {
	rootCmd.AddCommand(newDemoCmd())
}

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the kernel self-test script",
		Long: `The demo command boots the kernel and runs the scripted memory and
scheduler tests, writing the console transcript to stdout the way the kernel
writes to its serial port.

Example:
  kacchictl demo
  kacchictl demo --verbose
  kacchictl demo --trace spans.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd)
		},
	}
	return cmd
}

func runDemo(cmd *cobra.Command) (err error) {
	port := serial.NewLine(nil, cmd.OutOrStdout())

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

	if err := kernel.Demo(cmd.Context(), k, port); err != nil {
		return fmt.Errorf("demo failed: %w", err)
	}
	return nil
}
