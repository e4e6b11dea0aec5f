package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/episcalp/episcalp/internal/models"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Index backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
)

// FragilityConfig configures the fragility batch.
type FragilityConfig struct {
	// DatasetRoot is the BIDS root the recordings are enumerated from
	DatasetRoot string `yaml:"dataset_root"`

	// DerivRoot receives the derivative arrays (default <dataset_root>/derivatives)
	DerivRoot string `yaml:"deriv_root"`

	// FiguresRoot receives figures/<chain> (default: the derivative root)
	FiguresRoot string `yaml:"figures_root"`

	Reference     string  `yaml:"reference"`
	ResampleSFreq float64 `yaml:"resample_sfreq"`

	// Overwrite recomputes recordings whose derivatives already exist
	Overwrite bool `yaml:"overwrite"`

	PlotHeatmap bool   `yaml:"plot_heatmap"`
	FigureExt   string `yaml:"figure_ext"`

	// ExtraChannels are dropped from every recording that has them
	ExtraChannels []string `yaml:"extra_channels"`

	// ContinueOnError records a failed recording and moves to the next one
	ContinueOnError bool `yaml:"continue_on_error"`

	Model models.ModelParams `yaml:"model"`
}

// DerivativeRoot returns DerivRoot, or <DatasetRoot>/derivatives when unset.
func (f FragilityConfig) DerivativeRoot() string {
	if f.DerivRoot != "" || f.DatasetRoot == "" {
		return f.DerivRoot
	}
	return filepath.Join(f.DatasetRoot, "derivatives")
}

// IndexConfig selects the derivative registry.
type IndexConfig struct {
	// Backend is "fs" (glob the derivative directory) or "sqlite"
	Backend string `yaml:"backend"`
	DBPath  string `yaml:"db_path"`
}

// BridgeConfig locates the external analysis program.
type BridgeConfig struct {
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args"`
	Timeout    time.Duration `yaml:"timeout"`
	ScratchDir string        `yaml:"scratch_dir"`
}

// SpikesConfig configures the spike-detection launcher.
type SpikesConfig struct {
	Executable string        `yaml:"executable"`
	Dir        string        `yaml:"dir"`
	Pattern    string        `yaml:"pattern"`
	Keep       string        `yaml:"keep"`
	FileType   string        `yaml:"file_type"`
	Archive    bool          `yaml:"archive"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Config represents episcalp configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	Fragility FragilityConfig `yaml:"fragility"`
	Index     IndexConfig     `yaml:"index"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Spikes    SpikesConfig    `yaml:"spikes"`
}

// DefaultConfig returns a Config with the study's default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   filepath.Join(".episcalp", "logs"),
		Fragility: FragilityConfig{
			Reference:     "monopolar",
			ResampleSFreq: 256,
			PlotHeatmap:   true,
			FigureExt:     ".pdf",
			Model:         models.DefaultModelParams(),
		},
		Index: IndexConfig{
			Backend: BackendFS,
			DBPath:  filepath.Join(".episcalp", "index.db"),
		},
		Spikes: SpikesConfig{
			Pattern:  "*.edf",
			Keep:     ".edf",
			FileType: "EDF90",
			Archive:  true,
		},
	}
}

// LoadConfig loads configuration from a YAML file.
// Keys present in the file override the defaults; absent keys keep them,
// so an explicit "plot_heatmap: false" is honored.
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromDir loads configuration from .episcalp/config.yaml in the specified directory
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".episcalp", "config.yaml"))
}

// FragilityFlags carries CLI overrides; nil fields leave the config alone.
type FragilityFlags struct {
	DatasetRoot     *string
	DerivRoot       *string
	FiguresRoot     *string
	Reference       *string
	Overwrite       *bool
	PlotHeatmap     *bool
	FigureExt       *string
	ContinueOnError *bool
	Radius          *float64
	WinSize         *int
	StepSize        *int
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel *string, logDir *string, f FragilityFlags) {
	setString(&c.LogLevel, logLevel)
	setString(&c.LogDir, logDir)

	fr := &c.Fragility
	setString(&fr.DatasetRoot, f.DatasetRoot)
	setString(&fr.DerivRoot, f.DerivRoot)
	setString(&fr.FiguresRoot, f.FiguresRoot)
	setString(&fr.Reference, f.Reference)
	setString(&fr.FigureExt, f.FigureExt)
	if f.Overwrite != nil {
		fr.Overwrite = *f.Overwrite
	}
	if f.PlotHeatmap != nil {
		fr.PlotHeatmap = *f.PlotHeatmap
	}
	if f.ContinueOnError != nil {
		fr.ContinueOnError = *f.ContinueOnError
	}
	if f.Radius != nil {
		fr.Model.Radius = *f.Radius
	}
	if f.WinSize != nil {
		fr.Model.WinSize = *f.WinSize
	}
	if f.StepSize != nil {
		fr.Model.StepSize = *f.StepSize
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Validate validates the configuration values
// Returns an error wrapping ErrInvalid if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("%w: log_level %q, must be one of: trace, debug, info, warn, error", ErrInvalid, c.LogLevel)
	}

	if err := c.Fragility.Model.Validate(); err != nil {
		return fmt.Errorf("%w: fragility.model: %v", ErrInvalid, err)
	}
	if c.Fragility.ResampleSFreq < 0 {
		return fmt.Errorf("%w: fragility.resample_sfreq must be >= 0, got %v", ErrInvalid, c.Fragility.ResampleSFreq)
	}
	if c.Fragility.Reference == "" {
		return fmt.Errorf("%w: fragility.reference cannot be empty", ErrInvalid)
	}
	if ext := c.Fragility.FigureExt; ext != "" && ext[0] != '.' {
		return fmt.Errorf("%w: fragility.figure_ext must start with '.', got %q", ErrInvalid, ext)
	}

	switch c.Index.Backend {
	case BackendFS:
	case BackendSQLite:
		if c.Index.DBPath == "" {
			return fmt.Errorf("%w: index.db_path cannot be empty with the sqlite backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: index.backend %q, must be fs or sqlite", ErrInvalid, c.Index.Backend)
	}

	if c.Bridge.Timeout < 0 {
		return fmt.Errorf("%w: bridge.timeout must be >= 0, got %v", ErrInvalid, c.Bridge.Timeout)
	}
	if c.Spikes.Timeout < 0 {
		return fmt.Errorf("%w: spikes.timeout must be >= 0, got %v", ErrInvalid, c.Spikes.Timeout)
	}
	return nil
}
