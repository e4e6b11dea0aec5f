// Package derivative holds the array products of the fragility pipeline and
// their on-disk form: a NumPy .npy matrix plus a JSON sidecar of metadata.
package derivative

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/episcalp/episcalp/internal/models"
)

// Info describes how a derivative array was produced.
type Info struct {
	SourceBasename string                `json:"source_basename"`
	Kind           models.DerivativeKind `json:"kind"`
	ChannelNames   []string              `json:"ch_names"`
	SFreq          float64               `json:"sfreq"`
	Reference      string                `json:"reference"`
	PerturbType    models.PerturbType    `json:"perturb_type,omitempty"`
	Params         models.ModelParams    `json:"model_params"`
	Normalized     bool                  `json:"normalized,omitempty"`
}

// Derivative is a channels × windows matrix with its metadata.
// State matrices are stored flattened: channels² rows × windows.
type Derivative struct {
	Info Info
	Data *mat.Dense
}

// New wraps data with info. The matrix is used as is, not copied.
func New(info Info, data *mat.Dense) *Derivative {
	return &Derivative{Info: info, Data: data}
}

// ExpectedBasename is the file name the derivative is saved under.
func (d *Derivative) ExpectedBasename() string {
	return d.Info.SourceBasename + d.Info.Kind.Suffix()
}

// Dims returns the matrix dimensions (rows, windows).
func (d *Derivative) Dims() (int, int) {
	if d.Data == nil {
		return 0, 0
	}
	return d.Data.Dims()
}

// Normalize converts minimum-norm perturbations to fragility in place.
// Within each window the value becomes (max - v) / max, so the most fragile
// channel scores 1 and the least fragile scores 0. Windows whose maximum is
// zero are left untouched.
func (d *Derivative) Normalize() {
	if d.Data == nil || d.Info.Normalized {
		return
	}
	rows, cols := d.Data.Dims()
	for j := 0; j < cols; j++ {
		maxVal := math.Inf(-1)
		for i := 0; i < rows; i++ {
			maxVal = math.Max(maxVal, d.Data.At(i, j))
		}
		if maxVal == 0 || math.IsInf(maxVal, 0) || math.IsNaN(maxVal) {
			continue
		}
		for i := 0; i < rows; i++ {
			d.Data.Set(i, j, (maxVal-d.Data.At(i, j))/maxVal)
		}
	}
	d.Info.Normalized = true
}
