package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/episcalp/episcalp/internal/config"
	"github.com/episcalp/episcalp/internal/spikes"
)

// NewSpikesCommand creates the 'episcalp spikes' parent command
func NewSpikesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spikes",
		Short: "Spike-detection launcher",
		Long: `Commands for preparing an EDF folder and running the external
spike-detection program over it.

The detector executable is taken from spikes.executable in the config file
or from --exe.`,
	}

	cmd.AddCommand(newSpikesCleanCommand())
	cmd.AddCommand(newSpikesDetectCommand())
	return cmd
}

func newSpikesCleanCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "clean --dir <folder> [--keep .edf] [--dry-run]",
		Short: "Remove every file in a folder that lacks the kept extension",
		Long: `Delete the regular files directly inside --dir whose names do not end
with --keep. Subdirectories are left alone.

The first removal failure stops the cleanup and the files handled so far
are reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSpikesConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Dir == "" {
				return fmt.Errorf("--dir (or spikes.dir) is required")
			}

			out := cmd.OutOrStdout()
			outcome, err := spikes.Launch(cmd.Context(), spikes.Cleanup{Dir: cfg.Dir, KeepExt: cfg.Keep}, nil, spikes.CleanOptions{DryRun: dryRun})
			if outcome != nil && outcome.Report != nil {
				printCleanReport(out, outcome.Report)
			}
			return err
		},
	}

	cmd.Flags().String("dir", "", "Folder to clean")
	cmd.Flags().String("keep", "", "Extension to keep (default: .edf)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be removed without removing it")
	return cmd
}

func newSpikesDetectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect --dir <folder> [--pattern *.edf] [--exe <path>]",
		Short: "Run the spike detector over a folder of EDF files",
		Long: `Launch the detector as
  <exe> /SourceFile=<dir>/<pattern> /FileType=EDF90 /Archive
and print its output unchanged.

Exit code: 0 if the detector exited 0, 1 otherwise`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSpikesConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Dir == "" {
				return fmt.Errorf("--dir (or spikes.dir) is required")
			}

			det := spikes.NewDetector(cfg.Executable, newRunner())
			det.FileType = cfg.FileType
			det.Archive = cfg.Archive
			det.Timeout = cfg.Timeout

			outcome, err := spikes.Launch(cmd.Context(), spikes.Detect{Dir: cfg.Dir, Pattern: cfg.Pattern}, det, spikes.CleanOptions{})
			if err != nil {
				return err
			}
			res := outcome.Result
			if _, err := cmd.OutOrStdout().Write(res.Stdout); err != nil {
				return fmt.Errorf("write detector output: %w", err)
			}
			if len(res.Stderr) > 0 {
				if _, err := cmd.ErrOrStderr().Write(res.Stderr); err != nil {
					return fmt.Errorf("write detector errors: %w", err)
				}
			}
			if !res.Success {
				return res.Err(cfg.Executable)
			}
			return nil
		},
	}

	cmd.Flags().String("dir", "", "Folder holding the EDF files")
	cmd.Flags().String("pattern", "", "File pattern passed to the detector (default: *.edf)")
	cmd.Flags().String("exe", "", "Detector executable (default: spikes.executable)")
	return cmd
}

// loadSpikesConfig loads the config and applies the spikes flags.
func loadSpikesConfig(cmd *cobra.Command) (*config.SpikesConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	sc := cfg.Spikes
	for name, dst := range map[string]*string{
		"dir":     &sc.Dir,
		"keep":    &sc.Keep,
		"pattern": &sc.Pattern,
		"exe":     &sc.Executable,
	} {
		if v := changedString(cmd, name); v != nil {
			*dst = *v
		}
	}
	return &sc, nil
}

func printCleanReport(out io.Writer, r *spikes.CleanReport) {
	verb := "Removed"
	if r.DryRun {
		verb = "Would remove"
	}
	for _, f := range r.Removed {
		fmt.Fprintf(out, "  %s %s\n", verb, f)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(out, "  %s %s\n", color.New(color.FgRed).Sprint("Failed"), f)
	}
	fmt.Fprintf(out, "%s: kept %d, %s %d, failed %d\n", r.Dir, len(r.Kept), strings.ToLower(verb), len(r.Removed), len(r.Failed))
}
