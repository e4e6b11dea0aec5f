package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/episcalp/episcalp/internal/bridge"
	"github.com/episcalp/episcalp/internal/config"
	"github.com/episcalp/episcalp/internal/fragility"
	"github.com/episcalp/episcalp/internal/index"
	"github.com/episcalp/episcalp/internal/logger"
	"github.com/episcalp/episcalp/internal/proc"
)

// newRunner builds the process runner shared by the bridge and the spike
// detector. Tests replace it.
var newRunner = func() proc.Runner { return proc.NewExec() }

// loadConfig loads the configuration named by --config (or the default
// location), applies the global and fragility flags, and validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("config file %s: %w", path, statErr)
		}
		cfg, err = config.LoadConfig(path)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := changedString(cmd, "log-level")
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		debug := "debug"
		logLevel = &debug
	}

	cfg.MergeWithFlags(logLevel, changedString(cmd, "log-dir"), config.FragilityFlags{
		DatasetRoot:     changedString(cmd, "dataset-root"),
		DerivRoot:       changedString(cmd, "deriv-root"),
		FiguresRoot:     changedString(cmd, "figures-root"),
		Reference:       changedString(cmd, "reference"),
		Overwrite:       changedBool(cmd, "overwrite"),
		PlotHeatmap:     negatedBool(cmd, "no-plot"),
		FigureExt:       changedString(cmd, "figure-ext"),
		ContinueOnError: changedBool(cmd, "continue-on-error"),
		Radius:          changedFloat(cmd, "radius"),
		WinSize:         changedInt(cmd, "winsize"),
		StepSize:        changedInt(cmd, "stepsize"),
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// changedString returns nil unless the flag exists and was set explicitly.
func changedString(cmd *cobra.Command, name string) *string {
	if f := cmd.Flags().Lookup(name); f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		return nil
	}
	return &v
}

func changedBool(cmd *cobra.Command, name string) *bool {
	if f := cmd.Flags().Lookup(name); f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		return nil
	}
	return &v
}

// negatedBool maps a --no-x flag onto the positive setting.
func negatedBool(cmd *cobra.Command, name string) *bool {
	v := changedBool(cmd, name)
	if v == nil {
		return nil
	}
	pos := !*v
	return &pos
}

func changedFloat(cmd *cobra.Command, name string) *float64 {
	if f := cmd.Flags().Lookup(name); f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		return nil
	}
	return &v
}

func changedInt(cmd *cobra.Command, name string) *int {
	if f := cmd.Flags().Lookup(name); f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil
	}
	return &v
}

// openRegistry returns the configured derivative registry and its closer.
func openRegistry(cfg *config.Config) (index.Registry, func() error, error) {
	switch cfg.Index.Backend {
	case config.BackendSQLite:
		db, err := index.NewSQLite(cfg.Index.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open index: %w", err)
		}
		return db, db.Close, nil
	default:
		return index.NewFS(), func() error { return nil }, nil
	}
}

func newBridge(cfg *config.Config) (*bridge.Client, error) {
	return bridge.New(bridge.Config{
		Command:    cfg.Bridge.Command,
		Args:       cfg.Bridge.Args,
		Timeout:    cfg.Bridge.Timeout,
		ScratchDir: cfg.Bridge.ScratchDir,
	}, newRunner())
}

// session bundles what one fragility invocation needs.
type session struct {
	cfg      *config.Config
	runID    string
	pipeline *fragility.Pipeline
	console  *logger.ConsoleLogger
	file     *logger.FileLogger
	closers  []func() error
}

// Close releases the registry and the run log.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// newSession wires config, registry, bridge and loggers into a Pipeline.
func newSession(cmd *cobra.Command, out io.Writer) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	fr := cfg.Fragility
	if fr.DatasetRoot == "" && fr.DerivRoot == "" {
		return nil, fmt.Errorf("%w: fragility.dataset_root is required", config.ErrInvalid)
	}
	if cfg.Bridge.Command == "" {
		return nil, fmt.Errorf("%w: bridge.command is required for fragility analysis", config.ErrInvalid)
	}

	s := &session{cfg: cfg, runID: uuid.New().String()}

	client, err := newBridge(cfg)
	if err != nil {
		return nil, err
	}

	registry, closeRegistry, err := openRegistry(cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeRegistry)

	s.console = logger.NewConsoleLogger(out, cfg.LogLevel)
	s.file, err = logger.NewFileLogger(cfg.LogDir, cfg.LogLevel, s.runID)
	if err != nil {
		// Continue without file logging; the console still reports everything.
		s.console.LogWarn(fmt.Sprintf("file logging disabled: %v", err))
		s.file = nil
	} else {
		s.closers = append(s.closers, s.file.Close)
	}

	var fileLog fragility.Logger
	if s.file != nil {
		fileLog = s.file
	}

	s.pipeline, err = fragility.NewPipeline(fragility.Options{
		DatasetRoot:     fr.DatasetRoot,
		DerivRoot:       fr.DerivativeRoot(),
		FiguresRoot:     fr.FiguresRoot,
		Reference:       fr.Reference,
		ResampleSFreq:   fr.ResampleSFreq,
		Overwrite:       fr.Overwrite,
		PlotHeatmap:     fr.PlotHeatmap,
		FigureExt:       fr.FigureExt,
		ExtraChannels:   fr.ExtraChannels,
		ContinueOnError: fr.ContinueOnError,
		Params:          fr.Model,
		RunID:           s.runID,
	}, fragility.Dependencies{
		Loader:   client,
		Model:    client,
		Plotter:  client,
		Features: client,
		Registry: registry,
		Logger:   logger.NewMultiLogger(s.console, fileLog),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
