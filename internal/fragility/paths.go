package fragility

import (
	"path/filepath"
	"strconv"

	"github.com/episcalp/episcalp/internal/models"
)

// Namespace is the derivative sub-tree all fragility outputs live under.
const Namespace = "fragility"

// DerivativeChain returns the parameter-encoded relative directory
// fragility/radius<r>/win-<w>/step-<s>/<reference>/sub-<subject>.
// Runs with different parameters never share a directory.
func DerivativeChain(params models.ModelParams, reference, subject string) string {
	return filepath.Join(
		Namespace,
		"radius"+models.FormatRadius(params.Radius),
		"win-"+strconv.Itoa(params.WinSize),
		"step-"+strconv.Itoa(params.StepSize),
		reference,
		"sub-"+subject,
	)
}

// DerivativeDir places the chain under the derivative root.
func DerivativeDir(derivRoot string, params models.ModelParams, reference, subject string) string {
	return filepath.Join(derivRoot, DerivativeChain(params, reference, subject))
}

// FiguresDir places the chain under <figures root>/figures.
func FiguresDir(figuresRoot string, params models.ModelParams, reference, subject string) string {
	return filepath.Join(figuresRoot, "figures", DerivativeChain(params, reference, subject))
}
