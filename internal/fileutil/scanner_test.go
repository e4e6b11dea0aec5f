package fileutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeTree(t *testing.T, root string, files []string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte("test content"), 0644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}
}

func baseNames(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	return names
}

func TestScanDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	// tmpDir/
	//   dataset_description.json
	//   .DS_Store
	//   sub-01/eeg/sub-01_run-01_eeg.edf
	//   sub-01/eeg/sub-01_run-01_channels.tsv
	//   sub-02/eeg/sub-02_run-01_eeg.EDF
	//   derivatives/fragility/sub-01_run-01_desc-perturbmatrix_eeg.npy
	//   .git/config
	writeTree(t, tmpDir, []string{
		"dataset_description.json",
		".DS_Store",
		"sub-01/eeg/sub-01_run-01_eeg.edf",
		"sub-01/eeg/sub-01_run-01_channels.tsv",
		"sub-02/eeg/sub-02_run-01_eeg.EDF",
		"derivatives/fragility/sub-01_run-01_desc-perturbmatrix_eeg.npy",
		".git/config",
	})

	tests := []struct {
		name          string
		opts          ScanOptions
		wantFileNames []string
	}{
		{
			name:          "non-recursive scan includes hidden files by default",
			opts:          ScanOptions{},
			wantFileNames: []string{".DS_Store", "dataset_description.json"},
		},
		{
			name:          "non-recursive scan skipping hidden files",
			opts:          ScanOptions{SkipHidden: true},
			wantFileNames: []string{"dataset_description.json"},
		},
		{
			name: "recursive scan with excluded derivatives",
			opts: ScanOptions{
				Recursive:   true,
				ExcludeDirs: []string{"derivatives"},
				SkipHidden:  true,
			},
			wantFileNames: []string{
				"dataset_description.json",
				"sub-01_run-01_channels.tsv",
				"sub-01_run-01_eeg.edf",
				"sub-02_run-01_eeg.EDF",
			},
		},
		{
			name: "case-insensitive extension filter",
			opts: ScanOptions{
				Recursive:   true,
				Extensions:  []string{"edf"},
				ExcludeDirs: []string{"derivatives"},
			},
			wantFileNames: []string{"sub-01_run-01_eeg.edf", "sub-02_run-01_eeg.EDF"},
		},
		{
			name: "case-sensitive suffix filter",
			opts: ScanOptions{
				Recursive:   true,
				Suffix:      ".edf",
				ExcludeDirs: []string{"derivatives"},
			},
			wantFileNames: []string{"sub-01_run-01_eeg.edf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ScanDirectory(tmpDir, tt.opts)
			if err != nil {
				t.Fatalf("ScanDirectory() error = %v", err)
			}
			got := baseNames(result.Files)
			want := append([]string(nil), tt.wantFileNames...)
			sort.Strings(want)
			if len(got) != len(want) {
				t.Fatalf("got files %v, want %v", got, want)
			}
			for i := range got {
				if got[i] != want[i] {
					t.Errorf("file[%d] = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestScanDirectory_AbsoluteSortedPaths(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, []string{"c.edf", "a.edf", "b.edf"})

	result, err := ScanDirectory(tmpDir, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	if !sort.StringsAreSorted(result.Files) {
		t.Errorf("files not sorted: %v", result.Files)
	}
	for _, f := range result.Files {
		if !filepath.IsAbs(f) {
			t.Errorf("path %q is not absolute", f)
		}
	}
}

func TestScanDirectory_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := ScanDirectory(filepath.Join(tmpDir, "missing"), ScanOptions{}); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(tmpDir, "file.edf")
	writeTree(t, tmpDir, []string{"file.edf"})
	if _, err := ScanDirectory(file, ScanOptions{}); err == nil {
		t.Error("expected error when scanning a regular file")
	}
}

func TestScanDirectory_SkipsSubdirectoriesWhenNotRecursive(t *testing.T) {
	tmpDir := t.TempDir()
	writeTree(t, tmpDir, []string{"keep.edf", "nested/inner.edf"})
	if err := os.MkdirAll(filepath.Join(tmpDir, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	result, err := ScanDirectory(tmpDir, ScanOptions{})
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	got := baseNames(result.Files)
	if len(got) != 1 || got[0] != "keep.edf" {
		t.Errorf("got %v, want [keep.edf]", got)
	}
}
