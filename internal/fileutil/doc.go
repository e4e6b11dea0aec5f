// Package fileutil provides directory scanning shared by BIDS entity
// discovery and the spike-detection folder tools.
//
// ScanDirectory walks a directory with the provided ScanOptions and returns
// absolute paths, sorted alphabetically so that enumeration order is
// deterministic across runs and platforms.
//
// Filtering options:
//   - Extensions: case-insensitive extension allow-list (".edf", "tsv")
//   - Suffix: case-sensitive file-name suffix, the Go form of a "*<suffix>" glob
//   - ExcludeDirs: directory names that are never entered ("derivatives")
//   - SkipHidden: ignore dot-files, as shell globbing does
//
// Hidden directories are always skipped. Errors below the root directory are
// collected in ScanResult.Errors and scanning continues; only an unreadable
// root is fatal.
//
// Usage:
//
//	result, err := fileutil.ScanDirectory(root, fileutil.ScanOptions{
//	    Extensions:  []string{".edf"},
//	    Recursive:   true,
//	    ExcludeDirs: []string{"derivatives", "sourcedata"},
//	})
package fileutil
