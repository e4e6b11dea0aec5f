package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/episcalp/episcalp/internal/bids"
	"github.com/episcalp/episcalp/internal/fragility"
	"github.com/episcalp/episcalp/internal/index"
	"github.com/episcalp/episcalp/internal/models"
)

// NewFragilityCommand creates the 'episcalp fragility' parent command
func NewFragilityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fragility",
		Short: "Neural fragility analysis of scalp EEG recordings",
		Long: `Commands for computing, re-computing and summarizing fragility
derivatives over a BIDS dataset.

Derivatives are written under
  <deriv_root>/fragility/radius<r>/win-<w>/step-<s>/<reference>/sub-<subject>/
and recordings whose derivatives already exist are skipped unless
--overwrite is given.`,
	}

	flags := cmd.PersistentFlags()
	flags.String("dataset-root", "", "BIDS dataset root")
	flags.String("deriv-root", "", "Derivatives root (default: <dataset-root>/derivatives)")
	flags.String("figures-root", "", "Figures root (default: the derivatives root)")
	flags.String("reference", "", "EEG reference (default: monopolar)")
	flags.Bool("overwrite", false, "Recompute recordings whose derivatives already exist")
	flags.Bool("no-plot", false, "Skip heatmap and topomap rendering")
	flags.String("figure-ext", "", "Figure file extension (default: .pdf)")
	flags.Bool("continue-on-error", false, "Record failed recordings and keep going")
	flags.Float64("radius", 0, "Perturbation radius")
	flags.Int("winsize", 0, "Window size in samples")
	flags.Int("stepsize", 0, "Step size in samples")

	cmd.AddCommand(newFragilityRunCommand())
	cmd.AddCommand(newFragilityRecordingCommand())
	cmd.AddCommand(newFragilityRowsCommand())
	cmd.AddCommand(newFragilityFeaturesCommand())
	cmd.AddCommand(newFragilityListCommand())

	return cmd
}

func newFragilityRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Analyze every recording in the dataset",
		Long: `Enumerate subject × session × task × run under the dataset root and
analyze each recording in turn.

Combinations with no EDF file are reported as skipped. The first failure
stops the batch unless --continue-on-error (or fragility.continue_on_error)
is set.

Exit code: 0 if no recording failed, 1 otherwise`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFragilityBatch(cmd, cmd.OutOrStdout())
		},
	}
}

func runFragilityBatch(cmd *cobra.Command, out io.Writer) error {
	s, err := newSession(cmd, out)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	opts := s.pipeline.Options()
	fmt.Fprintf(out, "Dataset: %s\n", opts.DatasetRoot)
	fmt.Fprintf(out, "Derivatives: %s\n", opts.DerivRoot)
	fmt.Fprintf(out, "Parameters: %s, reference %s\n", opts.Params.Key(), opts.Reference)
	fmt.Fprintf(out, "Run ID: %s\n\n", s.runID)

	batch, err := s.pipeline.RunBatch(ctx)
	if s.file != nil {
		fmt.Fprintf(out, "\nRun log: %s\n", s.file.RunFile())
	}
	if err != nil {
		return err
	}
	if batch.Failed > 0 {
		return fmt.Errorf("%d of %d recording(s) failed", batch.Failed, batch.Total)
	}
	return nil
}

func newFragilityRecordingCommand() *cobra.Command {
	var rec models.Recording
	cmd := &cobra.Command{
		Use:   "recording --subject <id> [--session <id>] [--task <id>] [--run <id>]",
		Short: "Analyze a single recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s, err := newSession(cmd, out)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			path := bids.NewPath(s.pipeline.Options().DatasetRoot, rec)
			if _, err := os.Stat(path.FPath()); err != nil {
				return fmt.Errorf("recording %s: %w", rec, err)
			}

			result, err := s.pipeline.RunRecording(ctx, path)
			if err != nil {
				return err
			}
			printRecordingResult(out, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&rec.Subject, "subject", "", "Subject label (required)")
	cmd.Flags().StringVar(&rec.Session, "session", "", "Session label")
	cmd.Flags().StringVar(&rec.Task, "task", "", "Task label")
	cmd.Flags().StringVar(&rec.Run, "run", "", "Run label")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newFragilityRowsCommand() *cobra.Command {
	var (
		statePath  string
		derivDir   string
		figuresDir string
	)
	cmd := &cobra.Command{
		Use:   "rows --state <statematrix.npy>",
		Short: "Re-perturb a saved state matrix row-wise",
		Long: `Read a saved state matrix and compute the row-perturbation products
(rowperturbmatrix, rowdeltavecsmatrix) next to it.

The recording identity is parsed from the state file name and is used to
mark resected channels on the figures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s, err := newSession(cmd, out)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			opts := s.pipeline.Options()
			if figuresDir == "" && opts.PlotHeatmap {
				if rec, ok := bids.RecordingFromName(filepath.Base(statePath)); ok {
					figuresDir = fragility.FiguresDir(opts.FiguresRoot, opts.Params, opts.Reference, rec.Subject)
				}
			}

			result, err := s.pipeline.RunRowAnalysis(ctx, fragility.RowRequest{
				StatePath:  statePath,
				Radius:     opts.Params.Radius,
				DerivDir:   derivDir,
				FiguresDir: figuresDir,
				Overwrite:  opts.Overwrite,
			})
			if err != nil {
				return err
			}
			printRecordingResult(out, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "Path to the statematrix .npy (required)")
	cmd.Flags().StringVar(&derivDir, "deriv-dir", "", "Output directory (default: the state matrix directory)")
	cmd.Flags().StringVar(&figuresDir, "figures-dir", "", "Figure directory (default: derived from the figures root)")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func newFragilityFeaturesCommand() *cobra.Command {
	var (
		subject  string
		features []string
	)
	cmd := &cobra.Command{
		Use:   "features [--subject <id>] [--feature <name>]...",
		Short: "Generate summary features from fragility derivatives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s, err := newSession(cmd, out)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signalContext(cmd)
			defer stop()

			if err := s.pipeline.PostAnalysis(ctx, subject, features); err != nil {
				return err
			}
			scope := "all subjects"
			if subject != "" {
				scope = "sub-" + subject
			}
			fmt.Fprintf(out, "Features generated for %s\n", scope)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Restrict to one subject (default: all)")
	cmd.Flags().StringSliceVar(&features, "feature", nil, "Feature to compute (repeatable)")
	return cmd
}

func newFragilityListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the recordings a batch run would visit",
		Long: `Print the enumerated subject × session × task × run cross-product,
whether each combination has a source EDF file and whether its derivatives
already exist under the current parameters.

With the sqlite index the run that produced each derivative set and the
number of indexed sets per subject are shown too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			root := cfg.Fragility.DatasetRoot
			if root == "" {
				return fmt.Errorf("fragility.dataset_root is required")
			}

			recs, err := bids.Enumerate(root)
			if err != nil {
				return fmt.Errorf("enumerate recordings: %w", err)
			}

			registry, closeRegistry, err := openRegistry(cfg)
			if err != nil {
				return err
			}
			defer closeRegistry()

			l := &recordingLister{
				out:      cmd.OutOrStdout(),
				root:     root,
				registry: registry,
				key: func(path bids.Path) index.Key {
					fr := cfg.Fragility
					return fragility.RecordingKey(fr.DerivativeRoot(), fr.Model, fr.Reference, path)
				},
			}
			return l.print(cmd.Context(), recs)
		},
	}
}

// indexInspector is implemented by registries that keep per-set records.
type indexInspector interface {
	Lookup(ctx context.Context, key index.Key) (*index.Entry, error)
	CountBySubject(ctx context.Context) (map[string]int, error)
}

type recordingLister struct {
	out      io.Writer
	root     string
	registry index.Registry
	key      func(bids.Path) index.Key
}

func (l *recordingLister) print(ctx context.Context, recs []models.Recording) error {
	if ctx == nil {
		ctx = context.Background()
	}
	inspector, _ := l.registry.(indexInspector)
	missing := color.New(color.FgYellow)
	done := color.New(color.FgGreen)

	present, analyzed := 0, 0
	for _, rec := range recs {
		path := bids.NewPath(l.root, rec)
		if _, err := os.Stat(path.FPath()); err != nil {
			fmt.Fprintf(l.out, "  %s %s\n", rec, missing.Sprint("(missing)"))
			continue
		}
		present++

		key := l.key(path)
		exists, err := l.registry.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check derivatives for %s: %w", rec, err)
		}
		if !exists {
			fmt.Fprintf(l.out, "  %s\n", rec)
			continue
		}
		analyzed++
		label := "(analyzed)"
		if inspector != nil {
			entry, err := inspector.Lookup(ctx, key)
			if err != nil {
				return err
			}
			if entry != nil && entry.RunID != "" {
				label = fmt.Sprintf("(analyzed, run %s)", entry.RunID)
			}
		}
		fmt.Fprintf(l.out, "  %s %s\n", rec, done.Sprint(label))
	}
	fmt.Fprintf(l.out, "\n%d recording(s), %d with source files, %d analyzed\n", len(recs), present, analyzed)

	if inspector == nil {
		return nil
	}
	counts, err := inspector.CountBySubject(ctx)
	if err != nil {
		return err
	}
	subjects := make([]string, 0, len(counts))
	for subject := range counts {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	for _, subject := range subjects {
		fmt.Fprintf(l.out, "  sub-%s: %d indexed derivative set(s)\n", subject, counts[subject])
	}
	return nil
}

func printRecordingResult(out io.Writer, result *models.RecordingResult) {
	status := color.New(color.FgGreen)
	if result.Status == models.StatusSkipped {
		status = color.New(color.FgYellow)
	}
	fmt.Fprintf(out, "\n%s %s\n", status.Sprint(result.Status), result.Recording)
	if result.Reason != "" {
		fmt.Fprintf(out, "  Reason: %s\n", result.Reason)
	}
	for _, a := range result.Artifacts {
		fmt.Fprintf(out, "  wrote %s\n", a)
	}
	for _, f := range result.Figures {
		fmt.Fprintf(out, "  figure %s\n", f)
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintf(out, "  Warnings:\n    %s\n", strings.Join(result.Warnings, "\n    "))
	}
}

// signalContext cancels on SIGINT so an interrupted batch stops between
// recordings and releases its locks.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt)
}
