// Package spikes prepares folders for, and launches, the external
// spike-detection program.
package spikes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/episcalp/episcalp/internal/fileutil"
	"github.com/episcalp/episcalp/internal/proc"
)

// Defaults for the detector command line.
const (
	DefaultPattern  = "*.edf"
	DefaultKeepExt  = ".edf"
	DefaultFileType = "EDF90"
)

// ErrNotDirectory is returned when a mode targets something other than a directory.
var ErrNotDirectory = errors.New("not a directory")

// Mode is one of Cleanup or Detect.
type Mode interface {
	mode()
}

// Cleanup removes every file in Dir whose name does not end with KeepExt.
type Cleanup struct {
	Dir     string
	KeepExt string
}

// Detect runs the detector on the files in Dir matching Pattern.
type Detect struct {
	Dir     string
	Pattern string
}

func (Cleanup) mode() {}
func (Detect) mode()  {}

// CleanOptions tunes Clean.
type CleanOptions struct {
	// DryRun reports what would be removed without removing it.
	DryRun bool
}

// CleanReport lists what Clean did, in directory order.
type CleanReport struct {
	Dir     string
	Kept    []string
	Removed []string
	Failed  []string
	DryRun  bool
}

// Stubbed in tests to inject listing and removal failures.
var (
	scanDir    = fileutil.ScanDirectory
	removeFile = os.Remove
)

// Clean applies c to the regular files directly inside c.Dir.
// Subdirectories are never touched. The first removal failure stops the
// sweep; the partial report is returned with the error. Entries that could
// not be listed do not stop the sweep but are reported in the returned error.
func Clean(ctx context.Context, c Cleanup, opts CleanOptions) (*CleanReport, error) {
	if err := checkDir(c.Dir); err != nil {
		return nil, err
	}
	if c.KeepExt == "" {
		return nil, errors.New("keep extension is required")
	}

	scan, err := scanDir(c.Dir, fileutil.ScanOptions{})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.Dir, err)
	}

	report := &CleanReport{Dir: c.Dir, DryRun: opts.DryRun}
	for _, path := range scan.Files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		name := filepath.Base(path)
		if strings.HasSuffix(name, c.KeepExt) {
			report.Kept = append(report.Kept, name)
			continue
		}
		if opts.DryRun {
			report.Removed = append(report.Removed, name)
			continue
		}
		if err := removeFile(path); err != nil {
			report.Failed = append(report.Failed, name)
			return report, fmt.Errorf("remove %s (%d removed before failure): %w", path, len(report.Removed), err)
		}
		report.Removed = append(report.Removed, name)
	}
	if len(scan.Errors) > 0 {
		return report, fmt.Errorf("list %s: %w", c.Dir, errors.Join(scan.Errors...))
	}
	return report, nil
}

// Detector launches the spike-detection executable.
type Detector struct {
	Executable string
	FileType   string
	Archive    bool
	// Timeout bounds one run (0 = wait for the program to exit).
	Timeout time.Duration
	Runner  proc.Runner
}

// NewDetector returns a Detector with the default file type and archiving on.
func NewDetector(executable string, runner proc.Runner) *Detector {
	if runner == nil {
		runner = proc.NewExec()
	}
	return &Detector{
		Executable: executable,
		FileType:   DefaultFileType,
		Archive:    true,
		Runner:     runner,
	}
}

// Command builds the detector command line for d:
// <exe> /SourceFile=<dir>/<pattern> /FileType=<type> [/Archive].
func (det *Detector) Command(d Detect) proc.Command {
	pattern := d.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	fileType := det.FileType
	if fileType == "" {
		fileType = DefaultFileType
	}

	args := []string{
		"/SourceFile=" + filepath.Join(d.Dir, pattern),
		"/FileType=" + fileType,
	}
	if det.Archive {
		args = append(args, "/Archive")
	}
	return proc.Command{
		Path:    det.Executable,
		Args:    args,
		Timeout: det.Timeout,
	}
}

// Run launches the detector and waits for it. The captured output is
// returned untouched; a non-zero exit is reported in the Result, not as an
// error.
func (det *Detector) Run(ctx context.Context, d Detect) (*proc.Result, error) {
	if det.Executable == "" {
		return nil, fmt.Errorf("spike detector: %w", proc.ErrEmptyCommand)
	}
	if err := checkDir(d.Dir); err != nil {
		return nil, err
	}
	return det.Runner.Run(ctx, det.Command(d))
}

// Outcome is the result of Launch: Report for Cleanup, Result for Detect.
type Outcome struct {
	Report *CleanReport
	Result *proc.Result
}

// Launch dispatches m.
func Launch(ctx context.Context, m Mode, det *Detector, opts CleanOptions) (*Outcome, error) {
	switch m := m.(type) {
	case Cleanup:
		report, err := Clean(ctx, m, opts)
		return &Outcome{Report: report}, err
	case Detect:
		if det == nil {
			return nil, errors.New("spike detector is not configured")
		}
		result, err := det.Run(ctx, m)
		return &Outcome{Result: result}, err
	default:
		return nil, fmt.Errorf("unknown mode %T", m)
	}
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, ErrNotDirectory)
	}
	return nil
}
