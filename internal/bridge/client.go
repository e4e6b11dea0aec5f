// Package bridge drives the external EEG analysis program that loads
// recordings, fits the fragility model and draws figures.
//
// Every operation is one process run. The request is a JSON document on
// stdin; the response is the last JSON line the program prints on stdout.
// Matrices travel as .npy files in a per-call scratch directory.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/episcalp/episcalp/internal/bids"
	"github.com/episcalp/episcalp/internal/derivative"
	"github.com/episcalp/episcalp/internal/fragility"
	"github.com/episcalp/episcalp/internal/models"
	"github.com/episcalp/episcalp/internal/proc"
)

// Operation names understood by the analysis program.
const (
	OpLoad        = "load"
	OpFit         = "fit"
	OpPerturbRows = "perturb_rows"
	OpHeatmap     = "heatmap"
	OpTopomap     = "topomap"
	OpFeatures    = "features"
)

// ErrRemote is wrapped around failures the analysis program reports itself.
var ErrRemote = errors.New("analysis program reported an error")

// Config locates the analysis program.
type Config struct {
	Command    string
	Args       []string
	Env        []string
	Timeout    time.Duration
	ScratchDir string
}

// Request is the JSON document sent on stdin.
type Request struct {
	Op         string                    `json:"op"`
	ScratchDir string                    `json:"scratch_dir,omitempty"`
	Path       string                    `json:"bids_path,omitempty"`
	Load       *fragility.LoadOptions    `json:"load,omitempty"`
	Exclude    []string                  `json:"exclude,omitempty"`
	Params     *models.ModelParams       `json:"model_params,omitempty"`
	Input      string                    `json:"input,omitempty"`
	Channels   []string                  `json:"ch_names,omitempty"`
	SFreq      float64                   `json:"sfreq,omitempty"`
	Radius     float64                   `json:"radius,omitempty"`
	Perturb    models.PerturbType        `json:"perturb_type,omitempty"`
	Figure     *fragility.FigureOptions  `json:"figure,omitempty"`
	Features   *fragility.FeatureRequest `json:"features,omitempty"`
}

// Product points at one matrix written by the analysis program.
type Product struct {
	Path         string   `json:"path"`
	ChannelNames []string `json:"ch_names,omitempty"`
	SFreq        float64  `json:"sfreq,omitempty"`
}

// Response is the JSON document read back from stdout.
type Response struct {
	OK       bool                              `json:"ok"`
	Error    string                            `json:"error,omitempty"`
	Info     *fragility.RawInfo                `json:"info,omitempty"`
	Products map[models.DerivativeKind]Product `json:"products,omitempty"`
}

// Client implements the fragility collaborators on top of the analysis
// program. It is safe for concurrent use; each call gets its own scratch
// directory.
type Client struct {
	cfg    Config
	runner proc.Runner
}

var (
	_ fragility.Loader           = (*Client)(nil)
	_ fragility.Model            = (*Client)(nil)
	_ fragility.Plotter          = (*Client)(nil)
	_ fragility.FeatureGenerator = (*Client)(nil)
)

// New returns a Client. A nil runner runs the program with os/exec.
func New(cfg Config, runner proc.Runner) (*Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("bridge: %w", proc.ErrEmptyCommand)
	}
	if runner == nil {
		runner = proc.NewExec()
	}
	return &Client{cfg: cfg, runner: runner}, nil
}

// Load implements fragility.Loader.
func (c *Client) Load(ctx context.Context, path bids.Path, opts fragility.LoadOptions) (*fragility.RawInfo, error) {
	resp, err := c.call(ctx, Request{Op: OpLoad, Path: path.FPath(), Load: &opts})
	if err != nil {
		return nil, err
	}
	if resp.Info == nil {
		return nil, fmt.Errorf("bridge %s: response has no channel info", OpLoad)
	}
	return resp.Info, nil
}

// FitFragility implements fragility.Model.
func (c *Client) FitFragility(ctx context.Context, req fragility.FitRequest) (*fragility.FitResult, error) {
	scratch, cleanup, err := c.scratch()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	load := req.Load
	params := req.Params
	resp, err := c.call(ctx, Request{
		Op:         OpFit,
		ScratchDir: scratch,
		Path:       req.Path.FPath(),
		Load:       &load,
		Exclude:    req.Exclude,
		Params:     &params,
		Perturb:    models.PerturbColumn,
	})
	if err != nil {
		return nil, err
	}

	info := derivative.Info{SourceBasename: req.SourceBasename, Params: req.Params, Reference: load.Reference}
	products, err := readProducts(resp, info,
		models.KindPerturbMatrix, models.KindStateMatrix, models.KindDeltaVecsMatrix)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", OpFit, err)
	}
	return &fragility.FitResult{
		Perturbation: products[0],
		State:        products[1],
		DeltaVecs:    products[2],
	}, nil
}

// PerturbRows implements fragility.Model.
func (c *Client) PerturbRows(ctx context.Context, state *derivative.Derivative, radius float64) (*derivative.Derivative, *derivative.Derivative, error) {
	if state == nil || state.Data == nil {
		return nil, nil, fmt.Errorf("bridge %s: state matrix has no data", OpPerturbRows)
	}
	scratch, cleanup, err := c.scratch()
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	input := filepath.Join(scratch, "state.npy")
	if err := derivative.WriteArray(input, state.Data); err != nil {
		return nil, nil, err
	}

	resp, err := c.call(ctx, Request{
		Op:         OpPerturbRows,
		ScratchDir: scratch,
		Input:      input,
		Channels:   state.Info.ChannelNames,
		SFreq:      state.Info.SFreq,
		Radius:     radius,
		Perturb:    models.PerturbRow,
	})
	if err != nil {
		return nil, nil, err
	}

	info := state.Info
	info.Params.Radius = radius
	products, err := readProducts(resp, info, models.KindRowPerturbMatrix, models.KindRowDeltaVecsMatrix)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge %s: %w", OpPerturbRows, err)
	}
	return products[0], products[1], nil
}

// Heatmap implements fragility.Plotter.
func (c *Client) Heatmap(ctx context.Context, d *derivative.Derivative, opts fragility.FigureOptions) error {
	return c.plot(ctx, OpHeatmap, d, opts)
}

// Topomap implements fragility.Plotter.
func (c *Client) Topomap(ctx context.Context, d *derivative.Derivative, opts fragility.FigureOptions) error {
	return c.plot(ctx, OpTopomap, d, opts)
}

func (c *Client) plot(ctx context.Context, op string, d *derivative.Derivative, opts fragility.FigureOptions) error {
	if d == nil || d.Data == nil {
		return fmt.Errorf("bridge %s: nothing to plot", op)
	}
	scratch, cleanup, err := c.scratch()
	if err != nil {
		return err
	}
	defer cleanup()

	input := filepath.Join(scratch, "data.npy")
	if err := derivative.WriteArray(input, d.Data); err != nil {
		return err
	}
	_, err = c.call(ctx, Request{
		Op:         op,
		ScratchDir: scratch,
		Input:      input,
		Channels:   d.Info.ChannelNames,
		SFreq:      d.Info.SFreq,
		Figure:     &opts,
	})
	return err
}

// Generate implements fragility.FeatureGenerator.
func (c *Client) Generate(ctx context.Context, req fragility.FeatureRequest) error {
	_, err := c.call(ctx, Request{Op: OpFeatures, Features: &req})
	return err
}

// call runs the program once and decodes its response.
func (c *Client) call(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: encode request: %w", req.Op, err)
	}

	res, err := c.runner.Run(ctx, proc.Command{
		Path:    c.cfg.Command,
		Args:    c.cfg.Args,
		Env:     c.cfg.Env,
		Stdin:   bytes.NewReader(payload),
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", req.Op, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("bridge %s: %w", req.Op, res.Err(filepath.Base(c.cfg.Command)))
	}

	resp, err := DecodeResponse(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", req.Op, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("bridge %s: %w: %s", req.Op, ErrRemote, resp.Error)
	}
	return resp, nil
}

// DecodeResponse finds the last stdout line that is a JSON object and
// decodes it. Earlier lines are the program's own log output.
func DecodeResponse(stdout []byte) (*Response, error) {
	var last []byte
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 && line[0] == '{' {
			last = append(last[:0], line...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if last == nil {
		return nil, errors.New("no JSON response on stdout")
	}

	var resp Response
	if err := json.Unmarshal(last, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (c *Client) scratch() (string, func(), error) {
	if c.cfg.ScratchDir != "" {
		if err := os.MkdirAll(c.cfg.ScratchDir, 0755); err != nil {
			return "", nil, fmt.Errorf("create scratch root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(c.cfg.ScratchDir, "episcalp-bridge-")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// readProducts loads the requested kinds in order. Channel names and
// sampling frequency reported with a product override those in base.
func readProducts(resp *Response, base derivative.Info, kinds ...models.DerivativeKind) ([]*derivative.Derivative, error) {
	out := make([]*derivative.Derivative, 0, len(kinds))
	for _, kind := range kinds {
		prod, ok := resp.Products[kind]
		if !ok || prod.Path == "" {
			return nil, fmt.Errorf("response is missing product %s", kind)
		}
		data, err := derivative.ReadArray(prod.Path)
		if err != nil {
			return nil, err
		}

		info := base
		info.Kind = kind
		if len(prod.ChannelNames) > 0 {
			info.ChannelNames = prod.ChannelNames
		}
		if prod.SFreq > 0 {
			info.SFreq = prod.SFreq
		}
		out = append(out, derivative.New(info, data))
	}
	return out, nil
}
