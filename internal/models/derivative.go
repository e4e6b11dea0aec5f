package models

// DerivativeKind names one array product of the fragility pipeline.
type DerivativeKind string

const (
	KindPerturbMatrix      DerivativeKind = "perturbmatrix"
	KindStateMatrix        DerivativeKind = "statematrix"
	KindDeltaVecsMatrix    DerivativeKind = "deltavecsmatrix"
	KindRowPerturbMatrix   DerivativeKind = "rowperturbmatrix"
	KindRowDeltaVecsMatrix DerivativeKind = "rowdeltavecsmatrix"
)

// PerturbType selects whether the full state ("C") or its rows ("R") are perturbed.
type PerturbType string

const (
	PerturbColumn PerturbType = "C"
	PerturbRow    PerturbType = "R"
)

// Suffix returns the file-name suffix appended to a recording's source basename.
func (k DerivativeKind) Suffix() string {
	return "_desc-" + string(k) + "_" + DatatypeEEG + ".npy"
}
