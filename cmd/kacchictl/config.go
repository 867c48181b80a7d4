package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/kacchikit/kernel"
)

var configDefault bool

func init() {
	cmd := newConfigCmd()
	cmd.Flags().BoolVar(&configDefault, "default", false, "Print the built-in defaults, ignoring --config and flags")
	rootCmd.AddCommand(cmd)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective boot config",
		Long: `The config command prints the boot config that boot, demo and top would
use, after applying --config and any layout flags. The output is valid input
for --config.

Example:
  kacchictl config --default > kernel.yaml
  kacchictl config --config kernel.yaml --heap-size 65536`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd)
		},
	}
	return cmd
}

func runConfig(cmd *cobra.Command) error {
	cfg := kernel.DefaultConfig()
	if !configDefault {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, cfg)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
