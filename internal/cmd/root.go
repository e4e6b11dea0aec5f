package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for episcalp
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episcalp",
		Short: "Scalp EEG fragility and spike-detection pipeline",
		Long: `Episcalp runs the neural fragility analysis over a BIDS dataset of
scalp EEG recordings and drives the external spike-detection program.

Numerical work is delegated to an external analysis program (bridge.command);
episcalp enumerates recordings, decides what needs computing, persists the
derivative arrays and renders figures.

Configuration is loaded from .episcalp/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .episcalp/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-dir", "", "Directory for run logs")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Shorthand for --log-level debug")

	cmd.AddCommand(NewFragilityCommand())
	cmd.AddCommand(NewSpikesCommand())

	return cmd
}
