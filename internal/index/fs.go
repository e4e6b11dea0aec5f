package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/episcalp/episcalp/internal/fileutil"
)

// FS treats the derivative directory itself as the registry: a set exists
// when any "<source basename>*.npy" file is present in Key.Dir.
type FS struct{}

// NewFS returns the filesystem registry.
func NewFS() FS {
	return FS{}
}

// Exists implements Registry.
func (FS) Exists(_ context.Context, key Key) (bool, error) {
	if key.Dir == "" {
		return false, fmt.Errorf("key for %s has no derivative directory", key.SourceBasename)
	}
	if _, err := os.Stat(key.Dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	result, err := fileutil.ScanDirectory(key.Dir, fileutil.ScanOptions{
		Extensions: []string{".npy"},
		SkipHidden: true,
	})
	if err != nil {
		return false, fmt.Errorf("scan %s: %w", key.Dir, err)
	}
	for _, f := range result.Files {
		if strings.HasPrefix(filepath.Base(f), key.SourceBasename) {
			return true, nil
		}
	}
	return false, nil
}

// Record implements Registry. The written files are the record.
func (FS) Record(context.Context, Entry) error {
	return nil
}
