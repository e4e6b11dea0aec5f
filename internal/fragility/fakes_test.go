package fragility

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/episcalp/episcalp/internal/bids"
	"github.com/episcalp/episcalp/internal/derivative"
	"github.com/episcalp/episcalp/internal/models"
)

type fakeLoader struct {
	info  RawInfo
	err   error
	calls int
	opts  []LoadOptions
}

func (f *fakeLoader) Load(_ context.Context, _ bids.Path, opts LoadOptions) (*RawInfo, error) {
	f.calls++
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	info := f.info
	return &info, nil
}

// traceLogger keeps trace messages and drops the rest.
type traceLogger struct {
	nopLogger
	traces []string
}

func (l *traceLogger) LogTrace(message string) {
	l.traces = append(l.traces, message)
}

type fakeModel struct {
	fitErr    error
	rowErr    error
	fitCalls  int
	rowCalls  int
	requests  []FitRequest
	rowRadius []float64
}

func matrix() *mat.Dense {
	return mat.NewDense(2, 3, []float64{
		1, 4, 0,
		2, 2, 0,
	})
}

func product(kind models.DerivativeKind) *derivative.Derivative {
	return derivative.New(derivative.Info{
		Kind:         kind,
		ChannelNames: []string{"Fp1", "Fp2"},
		SFreq:        256,
	}, matrix())
}

func (f *fakeModel) FitFragility(_ context.Context, req FitRequest) (*FitResult, error) {
	f.fitCalls++
	f.requests = append(f.requests, req)
	if f.fitErr != nil {
		return nil, f.fitErr
	}
	return &FitResult{
		Perturbation: product(models.KindPerturbMatrix),
		State:        product(models.KindStateMatrix),
		DeltaVecs:    product(models.KindDeltaVecsMatrix),
	}, nil
}

func (f *fakeModel) PerturbRows(_ context.Context, _ *derivative.Derivative, radius float64) (*derivative.Derivative, *derivative.Derivative, error) {
	f.rowCalls++
	f.rowRadius = append(f.rowRadius, radius)
	if f.rowErr != nil {
		return nil, nil, f.rowErr
	}
	return product(models.KindRowPerturbMatrix), product(models.KindRowDeltaVecsMatrix), nil
}

type fakePlotter struct {
	heatmapErr error
	topomapErr error
	heatmaps   []FigureOptions
	topomaps   []FigureOptions
	normalized []bool
}

func (f *fakePlotter) Heatmap(_ context.Context, d *derivative.Derivative, opts FigureOptions) error {
	f.heatmaps = append(f.heatmaps, opts)
	f.normalized = append(f.normalized, d.Info.Normalized)
	return f.heatmapErr
}

func (f *fakePlotter) Topomap(_ context.Context, _ *derivative.Derivative, opts FigureOptions) error {
	f.topomaps = append(f.topomaps, opts)
	return f.topomapErr
}

type fakeFeatures struct {
	requests []FeatureRequest
	err      error
}

func (f *fakeFeatures) Generate(_ context.Context, req FeatureRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

var errBoom = errors.New("boom")

// writeFile creates root/rel with the given content.
func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const channelsTSV = "name\ttype\tdescription\n" +
	"Fp1\tEEG\tresected\n" +
	"Fp2\tEEG\tn/a\n" +
	"Cz\tEEG\tresected\n"
