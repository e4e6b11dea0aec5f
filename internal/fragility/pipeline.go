// Package fragility sequences the fragility analysis of scalp EEG
// recordings: file discovery, the idempotent skip, model invocation,
// derivative persistence, figures and the row-perturbation pass.
//
// The numerical work is delegated to the Loader, Model and Plotter
// collaborators; this package only decides what runs, where outputs go and
// how failures propagate.
package fragility

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/episcalp/episcalp/internal/bids"
	"github.com/episcalp/episcalp/internal/derivative"
	"github.com/episcalp/episcalp/internal/filelock"
	"github.com/episcalp/episcalp/internal/index"
	"github.com/episcalp/episcalp/internal/models"
)

// Figure labelling shared by every fragility plot.
const (
	ColorbarLabel = "Fragility"
	Colormap      = "turbo"
)

// Options are the per-invocation settings of a Pipeline.
type Options struct {
	DatasetRoot     string
	DerivRoot       string
	FiguresRoot     string
	Reference       string
	ResampleSFreq   float64
	Overwrite       bool
	PlotHeatmap     bool
	FigureExt       string
	ExtraChannels   []string
	ContinueOnError bool
	Params          models.ModelParams
	RunID           string
}

// Dependencies are the collaborators a Pipeline drives.
type Dependencies struct {
	Loader   Loader
	Model    Model
	Plotter  Plotter
	Features FeatureGenerator
	Registry index.Registry
	Logger   Logger
}

// Pipeline runs the fragility analysis. It is sequential and not safe for
// concurrent use; concurrent processes are serialized per recording by a
// file lock.
type Pipeline struct {
	opts     Options
	loader   Loader
	model    Model
	plotter  Plotter
	features FeatureGenerator
	registry index.Registry
	logger   Logger
}

// NewPipeline validates opts and wires deps. A nil Registry defaults to the
// filesystem registry and a nil Logger discards messages.
func NewPipeline(opts Options, deps Dependencies) (*Pipeline, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model parameters: %w", err)
	}
	if opts.DerivRoot == "" {
		return nil, errors.New("derivative root is required")
	}
	if opts.Reference == "" {
		opts.Reference = "monopolar"
	}
	if opts.FiguresRoot == "" {
		opts.FiguresRoot = opts.DerivRoot
	}
	if opts.FigureExt == "" {
		opts.FigureExt = ".pdf"
	}
	if deps.Model == nil {
		return nil, errors.New("model is required")
	}
	if opts.PlotHeatmap && deps.Plotter == nil {
		return nil, errors.New("plotter is required when heatmap plotting is enabled")
	}
	if deps.Registry == nil {
		deps.Registry = index.NewFS()
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}

	return &Pipeline{
		opts:     opts,
		loader:   deps.Loader,
		model:    deps.Model,
		plotter:  deps.Plotter,
		features: deps.Features,
		registry: deps.Registry,
		logger:   deps.Logger,
	}, nil
}

// Options returns the effective options after defaults were applied.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Key returns the registry key of a recording under the pipeline's parameters.
func (p *Pipeline) Key(path bids.Path) index.Key {
	return RecordingKey(p.opts.DerivRoot, p.opts.Params, p.opts.Reference, path)
}

// RecordingKey identifies the derivative set of path under derivRoot.
func RecordingKey(derivRoot string, params models.ModelParams, reference string, path bids.Path) index.Key {
	return index.Key{
		Recording:      path.Recording,
		SourceBasename: path.SourceBasename(),
		Reference:      reference,
		Params:         params,
		Dir:            DerivativeDir(derivRoot, params, reference, path.Recording.Subject),
	}
}

// RunRecording analyzes one recording. When its derivatives already exist and
// overwrite is off, it logs a warning and returns a SKIPPED result without
// loading anything. Load, fit and write failures are returned as errors
// together with a FAILED result; figure problems only add warnings.
func (p *Pipeline) RunRecording(ctx context.Context, path bids.Path) (*models.RecordingResult, error) {
	start := time.Now()
	result := &models.RecordingResult{Recording: path.Recording}
	p.logger.LogRecordingStart(path.Recording)

	if p.loader == nil {
		return p.fail(result, start, errors.New("loader is required to analyze recordings"))
	}

	key := p.Key(path)
	lockPath := filepath.Join(key.Dir, ".locks", key.SourceBasename+".lock")

	err := filelock.WithLock(ctx, lockPath, func() error {
		exists, err := p.registry.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check existing derivatives: %w", err)
		}
		if exists && !p.opts.Overwrite {
			p.logger.LogWarn(fmt.Sprintf("Not overwrite and the derivative file path for %s already exists. Skipping...", key.SourceBasename))
			result.Status = models.StatusSkipped
			result.Reason = "derivatives already exist"
			return nil
		}
		return p.analyze(ctx, path, key, result)
	})
	if err != nil {
		return p.fail(result, start, err)
	}

	if result.Status == "" {
		result.Status = models.StatusCompleted
	}
	result.Duration = time.Since(start)
	p.logger.LogRecordingResult(*result)
	return result, nil
}

func (p *Pipeline) fail(result *models.RecordingResult, start time.Time, err error) (*models.RecordingResult, error) {
	result.Status = models.StatusFailed
	result.Error = err
	result.Duration = time.Since(start)
	p.logger.LogRecordingResult(*result)
	return result, err
}

// analyze runs load → fit → persist → figures → row pass with the lock held.
func (p *Pipeline) analyze(ctx context.Context, path bids.Path, key index.Key, result *models.RecordingResult) error {
	loadOpts := LoadOptions{
		Reference:     p.opts.Reference,
		ResampleSFreq: p.opts.ResampleSFreq,
	}
	raw, err := p.loader.Load(ctx, path, loadOpts)
	if err != nil {
		return fmt.Errorf("load %s: %w", path.FPath(), err)
	}

	exclude := DropChannels(raw, p.opts.ExtraChannels)
	p.logger.LogInfo(fmt.Sprintf("Analyzing %s with %d channels.", key.SourceBasename, len(raw.ChannelNames)-len(exclude)))

	fit, err := p.model.FitFragility(ctx, FitRequest{
		Path:           path,
		SourceBasename: key.SourceBasename,
		Load:           loadOpts,
		Exclude:        exclude,
		Params:         p.opts.Params,
	})
	if err != nil {
		return fmt.Errorf("fit fragility for %s: %w", key.SourceBasename, err)
	}
	if fit == nil || fit.Perturbation == nil || fit.State == nil || fit.DeltaVecs == nil {
		return fmt.Errorf("fit fragility for %s: model returned incomplete products", key.SourceBasename)
	}

	products := []struct {
		d    *derivative.Derivative
		kind models.DerivativeKind
	}{
		{fit.Perturbation, models.KindPerturbMatrix},
		{fit.State, models.KindStateMatrix},
		{fit.DeltaVecs, models.KindDeltaVecsMatrix},
	}
	paths := make(map[models.DerivativeKind]string, len(products))
	for _, prod := range products {
		stamp(prod.d, key.SourceBasename, prod.kind, models.PerturbColumn, p.opts.Reference, p.opts.Params)
		fpath := filepath.Join(key.Dir, prod.d.ExpectedBasename())
		// a registry keyed on more than the directory can miss files of
		// another parameter set that share it; those are never replaced
		// without Overwrite
		if err := derivative.Write(fpath, prod.d, p.opts.Overwrite); err != nil {
			return err
		}
		rows, cols := prod.d.Dims()
		p.logger.LogTrace(fmt.Sprintf("Wrote %s (%d x %d)", fpath, rows, cols))
		paths[prod.kind] = fpath
		result.Artifacts = append(result.Artifacts, fpath)
	}
	p.logger.LogDebug(fmt.Sprintf("Saved %d derivatives to %s", len(products), key.Dir))

	if err := p.registry.Record(ctx, index.Entry{Key: key, RunID: p.opts.RunID, Artifacts: result.Artifacts}); err != nil {
		return fmt.Errorf("record derivatives for %s: %w", key.SourceBasename, err)
	}

	figDir := FiguresDir(p.opts.FiguresRoot, p.opts.Params, p.opts.Reference, path.Recording.Subject)
	if p.opts.PlotHeatmap {
		p.renderFigures(ctx, fit.Perturbation, paths[models.KindPerturbMatrix], figDir, &path, result)
	}

	rowResult, err := p.RunRowAnalysis(ctx, RowRequest{
		StatePath:  paths[models.KindStateMatrix],
		Radius:     p.opts.Params.Radius,
		DerivDir:   key.Dir,
		FiguresDir: figDir,
		Source:     &path,
		Overwrite:  p.opts.Overwrite,
	})
	if rowResult != nil {
		result.Artifacts = append(result.Artifacts, rowResult.Artifacts...)
		result.Figures = append(result.Figures, rowResult.Figures...)
		result.Warnings = append(result.Warnings, rowResult.Warnings...)
	}
	if err != nil {
		return fmt.Errorf("row perturbation for %s: %w", key.SourceBasename, err)
	}
	return nil
}

// stamp overwrites the identity fields of a collaborator-produced derivative
// so its saved name and metadata are determined by the pipeline alone.
func stamp(d *derivative.Derivative, source string, kind models.DerivativeKind, perturb models.PerturbType, reference string, params models.ModelParams) {
	d.Info.SourceBasename = source
	d.Info.Kind = kind
	d.Info.PerturbType = perturb
	d.Info.Reference = reference
	d.Info.Params = params
}

// DropChannels returns the channels excluded from the fit: the recording's
// pre-marked bads followed by every requested extra channel it contains.
func DropChannels(raw *RawInfo, extra []string) []string {
	present := make(map[string]bool, len(raw.ChannelNames))
	for _, ch := range raw.ChannelNames {
		present[ch] = true
	}

	seen := make(map[string]bool)
	var drop []string
	add := func(ch string) {
		if !seen[ch] && present[ch] {
			seen[ch] = true
			drop = append(drop, ch)
		}
	}
	for _, ch := range raw.Bads {
		add(ch)
	}
	for _, ch := range extra {
		add(ch)
	}
	return drop
}

// Recordings lists the recordings the batch driver would visit.
func (p *Pipeline) Recordings() ([]models.Recording, error) {
	if p.opts.DatasetRoot == "" {
		return nil, errors.New("dataset root is required")
	}
	return bids.Enumerate(p.opts.DatasetRoot)
}

// RunBatch analyzes every enumerated recording in order. A recording whose
// source file is absent is skipped. The first failure stops the batch unless
// ContinueOnError is set.
func (p *Pipeline) RunBatch(ctx context.Context) (*models.BatchResult, error) {
	start := time.Now()
	recs, err := p.Recordings()
	if err != nil {
		return nil, fmt.Errorf("enumerate recordings: %w", err)
	}

	batch := &models.BatchResult{RunID: p.opts.RunID, Total: len(recs)}
	finish := func() {
		batch.Duration = time.Since(start)
		p.logger.LogSummary(*batch)
	}

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			finish()
			return batch, err
		}

		path := bids.NewPath(p.opts.DatasetRoot, rec)
		if _, statErr := os.Stat(path.FPath()); statErr != nil {
			res := models.RecordingResult{Recording: rec, Status: models.StatusSkipped, Reason: "no source recording"}
			p.logger.LogDebug(fmt.Sprintf("No recording at %s, skipping", path.FPath()))
			batch.Add(res)
			p.logger.LogBatchProgress(i+1, len(recs))
			continue
		}

		res, err := p.RunRecording(ctx, path)
		batch.Add(*res)
		p.logger.LogBatchProgress(i+1, len(recs))
		if err != nil && !p.opts.ContinueOnError {
			finish()
			return batch, fmt.Errorf("%s: %w", rec, err)
		}
	}

	finish()
	return batch, nil
}

// PostAnalysis hands every fragility derivative to the feature generator.
// An empty subject means all subjects.
func (p *Pipeline) PostAnalysis(ctx context.Context, subject string, features []string) error {
	if p.features == nil {
		return errors.New("feature generator is not configured")
	}
	req := FeatureRequest{
		DerivRoot: p.opts.DerivRoot,
		Namespace: Namespace,
		Features:  features,
	}
	if subject != "" {
		req.Subjects = []string{subject}
	}
	if err := p.features.Generate(ctx, req); err != nil {
		return fmt.Errorf("generate features: %w", err)
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) LogTrace(string)                           {}
func (nopLogger) LogDebug(string)                           {}
func (nopLogger) LogInfo(string)                            {}
func (nopLogger) LogWarn(string)                            {}
func (nopLogger) LogError(string)                           {}
func (nopLogger) LogRecordingStart(models.Recording)        {}
func (nopLogger) LogRecordingResult(models.RecordingResult) {}
func (nopLogger) LogBatchProgress(int, int)                 {}
func (nopLogger) LogSummary(models.BatchResult)             {}
