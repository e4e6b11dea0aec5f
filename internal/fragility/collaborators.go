package fragility

import (
	"context"

	"github.com/episcalp/episcalp/internal/bids"
	"github.com/episcalp/episcalp/internal/derivative"
	"github.com/episcalp/episcalp/internal/models"
)

// LoadOptions controls how a raw recording is read.
type LoadOptions struct {
	Reference     string  `json:"reference"`
	ResampleSFreq float64 `json:"resample_sfreq,omitempty"`
	Rereference   bool    `json:"rereference"`
}

// RawInfo is the channel layout of a loaded recording.
type RawInfo struct {
	ChannelNames []string `json:"ch_names"`
	Bads         []string `json:"bads"`
	SFreq        float64  `json:"sfreq"`
}

// Loader reads raw EEG recordings.
type Loader interface {
	Load(ctx context.Context, path bids.Path, opts LoadOptions) (*RawInfo, error)
}

// FitRequest is everything the fragility model needs for one recording.
type FitRequest struct {
	Path           bids.Path
	SourceBasename string
	Load           LoadOptions
	Exclude        []string
	Params         models.ModelParams
}

// FitResult holds the three products of a fragility fit.
type FitResult struct {
	Perturbation *derivative.Derivative
	State        *derivative.Derivative
	DeltaVecs    *derivative.Derivative
}

// Model fits the linear dynamical system and computes perturbations.
type Model interface {
	FitFragility(ctx context.Context, req FitRequest) (*FitResult, error)
	// PerturbRows re-perturbs a state matrix row-wise and returns the
	// perturbation and delta-vector products.
	PerturbRows(ctx context.Context, state *derivative.Derivative, radius float64) (*derivative.Derivative, *derivative.Derivative, error)
}

// FigureOptions configures one rendered figure.
type FigureOptions struct {
	Title         string   `json:"title"`
	Path          string   `json:"figure_fpath"`
	ColorbarLabel string   `json:"cbarlabel"`
	Colormap      string   `json:"cmap"`
	Resected      []string `json:"soz_chs,omitempty"`
}

// Plotter renders derivative figures.
type Plotter interface {
	Heatmap(ctx context.Context, d *derivative.Derivative, opts FigureOptions) error
	Topomap(ctx context.Context, d *derivative.Derivative, opts FigureOptions) error
}

// FeatureRequest selects the derivatives summarized by a FeatureGenerator.
type FeatureRequest struct {
	DerivRoot string   `json:"deriv_root"`
	Namespace string   `json:"namespace"`
	Features  []string `json:"features,omitempty"`
	Subjects  []string `json:"subjects,omitempty"`
}

// FeatureGenerator computes per-subject feature summaries.
type FeatureGenerator interface {
	Generate(ctx context.Context, req FeatureRequest) error
}

// Logger receives pipeline progress.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogRecordingStart(rec models.Recording)
	LogRecordingResult(result models.RecordingResult)
	LogBatchProgress(done, total int)
	LogSummary(result models.BatchResult)
}
