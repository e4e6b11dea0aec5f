package derivative

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/episcalp/episcalp/internal/filelock"
)

// ErrExists is returned by Write when the target exists and overwrite is off.
var ErrExists = errors.New("derivative already exists")

// SidecarPath returns the JSON metadata path paired with an .npy path.
func SidecarPath(npyPath string) string {
	return strings.TrimSuffix(npyPath, ".npy") + ".json"
}

// Write saves d to path (.npy) and its metadata to the paired .json file.
// Each file is written atomically; the array is written first so a present
// sidecar always has its array beside it.
func Write(path string, d *Derivative, overwrite bool) error {
	if d.Data == nil {
		return fmt.Errorf("derivative %s has no data", d.ExpectedBasename())
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	}

	var buf bytes.Buffer
	if err := npyio.Write(&buf, d.Data); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := filelock.AtomicWrite(path, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	meta, err := json.MarshalIndent(d.Info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", path, err)
	}
	if err := filelock.AtomicWrite(SidecarPath(path), meta); err != nil {
		return fmt.Errorf("write metadata for %s: %w", path, err)
	}
	return nil
}

// Read loads a derivative saved by Write. A missing sidecar is an error:
// without channel names the array cannot be interpreted.
func Read(path string) (*Derivative, error) {
	data, err := ReadArray(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", path, err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", path, err)
	}

	return &Derivative{Info: info, Data: data}, nil
}

// ReadArray decodes a bare .npy matrix without metadata.
func ReadArray(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open array: %w", err)
	}
	defer f.Close()

	var data mat.Dense
	if err := npyio.Read(f, &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &data, nil
}

// WriteArray encodes a bare matrix to path (no sidecar, not atomic).
func WriteArray(path string, data mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create array: %w", err)
	}
	if err := npyio.Write(f, data); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
