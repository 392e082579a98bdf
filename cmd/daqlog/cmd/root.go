package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daqlog",
		Short: "daqlog samples a bench instrument at a fixed rate and records the run.",
		Long: `daqlog samples a bench instrument at a fixed rate and records the run.

A run stops when its duration passes, on SIGINT/SIGTERM, or when Enter is
pressed. The full-resolution record is written once, when the run stops.

Configuration is read from --config, $DAQLOG_CONFIG, or daqlog.{toml,yaml}
in /etc/daqlog, $HOME/.config/daqlog and the working directory. Every key can
be overridden with a DAQLOG_* environment variable or a flag.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		runCmd(),
		versionCmd(),
	)

	return cmd
}

// Print version info and exit.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "daqlog %s\n", Version)
			return err
		},
	}
}
