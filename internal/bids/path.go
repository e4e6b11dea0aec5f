// Package bids resolves recording paths and enumerates entity values in a
// dataset laid out with the BIDS naming convention.
package bids

import (
	"path/filepath"
	"strings"

	"github.com/episcalp/episcalp/internal/models"
)

// Path locates one file of a recording under a dataset root.
type Path struct {
	Root      string
	Recording models.Recording
	Datatype  string
	Suffix    string
	Extension string
}

// NewPath returns the path of the raw EDF recording for rec.
func NewPath(root string, rec models.Recording) Path {
	return Path{
		Root:      root,
		Recording: rec,
		Datatype:  models.DatatypeEEG,
		Extension: models.ExtensionEDF,
	}
}

// WithSuffix returns a copy of p pointing at a sibling file, e.g. the
// "channels" ".tsv" sidecar of the same recording.
func (p Path) WithSuffix(suffix, extension string) Path {
	p.Suffix = suffix
	p.Extension = extension
	return p
}

// SourceBasename is the entity chain without suffix or extension,
// e.g. "sub-01_ses-a_task-rest_run-01". Every derivative of the recording
// starts with it.
func (p Path) SourceBasename() string {
	rec := p.Recording
	parts := []string{"sub-" + rec.Subject}
	if rec.Session != "" {
		parts = append(parts, "ses-"+rec.Session)
	}
	if rec.Task != "" {
		parts = append(parts, "task-"+rec.Task)
	}
	if rec.Run != "" {
		parts = append(parts, "run-"+rec.Run)
	}
	return strings.Join(parts, "_")
}

// Basename returns the file name, with the suffix defaulting to the datatype.
func (p Path) Basename() string {
	suffix := p.Suffix
	if suffix == "" {
		suffix = p.Datatype
	}
	name := p.SourceBasename()
	if suffix != "" {
		name += "_" + suffix
	}
	return name + p.Extension
}

// Directory returns <root>/sub-<s>[/ses-<x>]/<datatype>.
func (p Path) Directory() string {
	parts := []string{p.Root, "sub-" + p.Recording.Subject}
	if p.Recording.Session != "" {
		parts = append(parts, "ses-"+p.Recording.Session)
	}
	if p.Datatype != "" {
		parts = append(parts, p.Datatype)
	}
	return filepath.Join(parts...)
}

// FPath returns the full file path.
func (p Path) FPath() string {
	return filepath.Join(p.Directory(), p.Basename())
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return p.FPath()
}
