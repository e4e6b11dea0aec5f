package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/episcalp/episcalp/internal/bridge"
	"github.com/episcalp/episcalp/internal/derivative"
	"github.com/episcalp/episcalp/internal/fragility"
	"github.com/episcalp/episcalp/internal/models"
	"github.com/episcalp/episcalp/internal/proc"
)

// execute runs the root command with args and returns everything it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// useRunner routes every subprocess of the test through r.
func useRunner(t *testing.T, r proc.Runner) {
	t.Helper()
	prev := newRunner
	newRunner = func() proc.Runner { return r }
	t.Cleanup(func() { newRunner = prev })
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeConfig writes a config file pointing at dataset and the fake
// analysis program, with logs under the test's temp dir.
func writeConfig(t *testing.T, dataset string, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`log_dir: %s
fragility:
  dataset_root: %s
bridge:
  command: /opt/eeg/analyze
%s`, filepath.Join(dir, "logs"), dataset, extra)
	return writeFile(t, dir, "config.yaml", content)
}

func seedDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "sub-01/eeg/sub-01_run-01_eeg.edf", "edf")
	writeFile(t, root, "sub-01/eeg/sub-01_run-02_channels.tsv", "name\ttype\tdescription\nFp1\tEEG\tresected\n")
	writeFile(t, root, "sub-02/eeg/sub-02_run-01_eeg.edf", "edf")
	return root
}

// fakeAnalysis answers bridge requests the way the analysis program does.
type fakeAnalysis struct {
	t       *testing.T
	mu      sync.Mutex
	ops     []string
	failFit bool
	last    bridge.Request
}

func (f *fakeAnalysis) Run(_ context.Context, cmd proc.Command) (*proc.Result, error) {
	raw, err := io.ReadAll(cmd.Stdin)
	require.NoError(f.t, err)
	var req bridge.Request
	require.NoError(f.t, json.Unmarshal(raw, &req))

	f.mu.Lock()
	f.ops = append(f.ops, req.Op)
	f.last = req
	f.mu.Unlock()

	resp := bridge.Response{OK: true}
	switch req.Op {
	case bridge.OpLoad:
		resp.Info = &fragility.RawInfo{ChannelNames: []string{"Fp1", "Fp2"}, SFreq: 256}
	case bridge.OpFit:
		if f.failFit {
			return &proc.Result{ExitCode: 1, Stderr: []byte("singular matrix")}, nil
		}
		resp.Products = f.products(req.ScratchDir,
			models.KindPerturbMatrix, models.KindStateMatrix, models.KindDeltaVecsMatrix)
	case bridge.OpPerturbRows:
		resp.Products = f.products(req.ScratchDir,
			models.KindRowPerturbMatrix, models.KindRowDeltaVecsMatrix)
	}
	out, err := json.Marshal(resp)
	require.NoError(f.t, err)
	return &proc.Result{Success: true, Stdout: append([]byte("working\n"), out...)}, nil
}

func (f *fakeAnalysis) products(dir string, kinds ...models.DerivativeKind) map[models.DerivativeKind]bridge.Product {
	products := make(map[models.DerivativeKind]bridge.Product)
	for _, kind := range kinds {
		path := filepath.Join(dir, string(kind)+".npy")
		require.NoError(f.t, derivative.WriteArray(path, mat.NewDense(2, 3, []float64{0, 1, 2, 3, 4, 5})))
		products[kind] = bridge.Product{Path: path, ChannelNames: []string{"Fp1", "Fp2"}, SFreq: 256}
	}
	return products
}

func (f *fakeAnalysis) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.ops {
		if o == op {
			n++
		}
	}
	return n
}
