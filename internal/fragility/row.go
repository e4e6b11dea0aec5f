package fragility

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/episcalp/episcalp/internal/bids"
	"github.com/episcalp/episcalp/internal/derivative"
	"github.com/episcalp/episcalp/internal/models"
	"github.com/episcalp/episcalp/internal/sidecar"
)

// RowRequest selects a saved state matrix for the row-perturbation pass.
type RowRequest struct {
	StatePath  string
	Radius     float64
	DerivDir   string
	FiguresDir string
	// Source is the recording the state matrix came from. When nil the
	// identity is parsed from the state file name.
	Source    *bids.Path
	Overwrite bool
}

// RunRowAnalysis re-perturbs a saved state matrix row-wise and persists the
// rowperturbmatrix and rowdeltavecsmatrix products beside it.
func (p *Pipeline) RunRowAnalysis(ctx context.Context, req RowRequest) (*models.RecordingResult, error) {
	start := time.Now()
	result := &models.RecordingResult{}

	if req.StatePath == "" {
		return result, errors.New("state matrix path is required")
	}
	if req.DerivDir == "" {
		req.DerivDir = filepath.Dir(req.StatePath)
	}

	source := req.Source
	if source == nil {
		if rec, ok := bids.RecordingFromName(filepath.Base(req.StatePath)); ok {
			path := bids.NewPath(p.opts.DatasetRoot, rec)
			source = &path
		}
	}
	if source != nil {
		result.Recording = source.Recording
	}

	state, err := derivative.Read(req.StatePath)
	if err != nil {
		return result, fmt.Errorf("read state matrix: %w", err)
	}
	sourceBasename := state.Info.SourceBasename
	if sourceBasename == "" {
		sourceBasename = strings.TrimSuffix(filepath.Base(req.StatePath), models.KindStateMatrix.Suffix())
	}

	pert, deltas, err := p.model.PerturbRows(ctx, state, req.Radius)
	if err != nil {
		return result, fmt.Errorf("perturb rows of %s: %w", sourceBasename, err)
	}
	if pert == nil || deltas == nil {
		return result, fmt.Errorf("perturb rows of %s: model returned incomplete products", sourceBasename)
	}

	params := state.Info.Params
	params.Radius = req.Radius
	reference := state.Info.Reference
	if reference == "" {
		reference = p.opts.Reference
	}

	var pertPath string
	for _, prod := range []struct {
		d    *derivative.Derivative
		kind models.DerivativeKind
	}{
		{pert, models.KindRowPerturbMatrix},
		{deltas, models.KindRowDeltaVecsMatrix},
	} {
		stamp(prod.d, sourceBasename, prod.kind, models.PerturbRow, reference, params)
		fpath := filepath.Join(req.DerivDir, prod.d.ExpectedBasename())
		if err := derivative.Write(fpath, prod.d, req.Overwrite); err != nil {
			return result, err
		}
		if prod.kind == models.KindRowPerturbMatrix {
			pertPath = fpath
		}
		result.Artifacts = append(result.Artifacts, fpath)
	}

	if p.opts.PlotHeatmap && req.FiguresDir != "" {
		p.renderFigures(ctx, pert, pertPath, req.FiguresDir, source, result)
	}

	result.Status = models.StatusCompleted
	result.Duration = time.Since(start)
	return result, nil
}

// renderFigures normalizes d and draws its heatmap and topomap into figDir.
// Every failure here becomes a warning on result.
func (p *Pipeline) renderFigures(ctx context.Context, d *derivative.Derivative, artifactPath, figDir string, source *bids.Path, result *models.RecordingResult) {
	warn := func(msg string) {
		p.logger.LogWarn(msg)
		result.Warnings = append(result.Warnings, msg)
	}

	if err := os.MkdirAll(figDir, 0755); err != nil {
		warn(fmt.Sprintf("create figure directory %s: %v", figDir, err))
		return
	}

	d.Normalize()
	resected := p.resectedChannels(source, warn)

	ext := p.opts.FigureExt
	base := strings.TrimSuffix(filepath.Base(artifactPath), ".npy")
	figures := []struct {
		name   string
		render func(context.Context, *derivative.Derivative, FigureOptions) error
	}{
		{base + ext, p.plotter.Heatmap},
		{base + "_topomap" + ext, p.plotter.Topomap},
	}
	for _, fig := range figures {
		opts := FigureOptions{
			Title:         fig.name,
			Path:          filepath.Join(figDir, fig.name),
			ColorbarLabel: ColorbarLabel,
			Colormap:      Colormap,
			Resected:      resected,
		}
		if err := fig.render(ctx, d, opts); err != nil {
			warn(fmt.Sprintf("render %s: %v", fig.name, err))
			continue
		}
		result.Figures = append(result.Figures, opts.Path)
	}
}

// resectedChannels loads the channel sidecar of source. Without a known
// recording, or on a read failure, figures are drawn without annotation.
func (p *Pipeline) resectedChannels(source *bids.Path, warn func(string)) []string {
	if source == nil || source.Root == "" {
		p.logger.LogDebug("No recording identity for figures, drawing without resected channels")
		return nil
	}
	path := source.WithSuffix("channels", ".tsv").FPath()
	resected, err := sidecar.ResectedChannels(path)
	if err != nil {
		warn(fmt.Sprintf("read channel sidecar %s: %v", path, err))
		return nil
	}
	return resected
}
