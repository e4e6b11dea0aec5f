package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/episcalp/episcalp/internal/models"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogDir != filepath.Join(".episcalp", "logs") {
		t.Errorf("LogDir = %q, want .episcalp/logs", cfg.LogDir)
	}
	if cfg.Fragility.Reference != "monopolar" {
		t.Errorf("Reference = %q, want monopolar", cfg.Fragility.Reference)
	}
	if cfg.Fragility.ResampleSFreq != 256 {
		t.Errorf("ResampleSFreq = %v, want 256", cfg.Fragility.ResampleSFreq)
	}
	if !cfg.Fragility.PlotHeatmap {
		t.Error("PlotHeatmap = false, want true")
	}
	if cfg.Fragility.FigureExt != ".pdf" {
		t.Errorf("FigureExt = %q, want .pdf", cfg.Fragility.FigureExt)
	}
	if cfg.Fragility.Overwrite {
		t.Error("Overwrite = true, want false")
	}
	if cfg.Fragility.Model != models.DefaultModelParams() {
		t.Errorf("Model = %+v, want defaults", cfg.Fragility.Model)
	}
	if cfg.Index.Backend != BackendFS {
		t.Errorf("Index.Backend = %q, want fs", cfg.Index.Backend)
	}
	if cfg.Spikes.FileType != "EDF90" || !cfg.Spikes.Archive || cfg.Spikes.Keep != ".edf" || cfg.Spikes.Pattern != "*.edf" {
		t.Errorf("Spikes = %+v, want EDF90/archive/.edf/*.edf", cfg.Spikes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `log_level: debug
fragility:
  dataset_root: /data/bids
  reference: average
  plot_heatmap: false
  figure_ext: .png
  extra_channels: [A1, A2, ECG]
  continue_on_error: true
  model:
    radius: 1.5
    winsize: 250
index:
  backend: sqlite
  db_path: /tmp/index.db
bridge:
  command: python
  args: ["-m", "episcalp_bridge"]
  timeout: 30m
spikes:
  executable: C:/Persyst/PSCLI.exe
  timeout: 2h
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Fragility.Reference != "average" {
		t.Errorf("Reference = %q, want average", cfg.Fragility.Reference)
	}
	if cfg.Fragility.PlotHeatmap {
		t.Error("PlotHeatmap = true, want explicit false to win")
	}
	if cfg.Fragility.FigureExt != ".png" {
		t.Errorf("FigureExt = %q, want .png", cfg.Fragility.FigureExt)
	}
	if !reflect.DeepEqual(cfg.Fragility.ExtraChannels, []string{"A1", "A2", "ECG"}) {
		t.Errorf("ExtraChannels = %v", cfg.Fragility.ExtraChannels)
	}
	if !cfg.Fragility.ContinueOnError {
		t.Error("ContinueOnError = false, want true")
	}
	if cfg.Fragility.Model.Radius != 1.5 || cfg.Fragility.Model.WinSize != 250 {
		t.Errorf("Model = %+v, want radius 1.5 winsize 250", cfg.Fragility.Model)
	}
	// unspecified model keys keep their defaults
	if cfg.Fragility.Model.StepSize != 50 || cfg.Fragility.Model.Method != models.MethodPinv {
		t.Errorf("Model = %+v, want default stepsize and method", cfg.Fragility.Model)
	}
	if cfg.Fragility.ResampleSFreq != 256 {
		t.Errorf("ResampleSFreq = %v, want default 256", cfg.Fragility.ResampleSFreq)
	}
	if cfg.Index.Backend != BackendSQLite || cfg.Index.DBPath != "/tmp/index.db" {
		t.Errorf("Index = %+v", cfg.Index)
	}
	if cfg.Bridge.Timeout != 30*time.Minute {
		t.Errorf("Bridge.Timeout = %v, want 30m", cfg.Bridge.Timeout)
	}
	if !reflect.DeepEqual(cfg.Bridge.Args, []string{"-m", "episcalp_bridge"}) {
		t.Errorf("Bridge.Args = %v", cfg.Bridge.Args)
	}
	if cfg.Spikes.Timeout != 2*time.Hour || cfg.Spikes.FileType != "EDF90" {
		t.Errorf("Spikes = %+v", cfg.Spikes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// TestLoadConfigMissingFile tests that missing files return defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("LoadConfig() = %+v, want defaults", cfg)
	}
}

// TestLoadConfigMalformed tests that invalid YAML is reported
func TestLoadConfigMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"broken yaml", "fragility: [unclosed"},
		{"bad duration", "bridge:\n  timeout: soon\n"},
		{"wrong type", "fragility:\n  model:\n    winsize: wide\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig() error = nil, want parse error")
			}
		})
	}
}

// TestLoadConfigFromDir tests the .episcalp/config.yaml convention
func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".episcalp"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".episcalp", "config.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromDir(dir)
	if err != nil {
		t.Fatalf("LoadConfigFromDir() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

// TestMergeWithFlags tests that set flags win and nil flags are ignored
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fragility.DatasetRoot = "/from/file"
	cfg.Fragility.Overwrite = true

	level := "debug"
	root := "/from/flag"
	plot := false
	radius := 2.0
	cfg.MergeWithFlags(&level, nil, FragilityFlags{
		DatasetRoot: &root,
		PlotHeatmap: &plot,
		Radius:      &radius,
	})

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogDir != filepath.Join(".episcalp", "logs") {
		t.Errorf("LogDir changed to %q", cfg.LogDir)
	}
	if cfg.Fragility.DatasetRoot != "/from/flag" {
		t.Errorf("DatasetRoot = %q", cfg.Fragility.DatasetRoot)
	}
	if cfg.Fragility.PlotHeatmap {
		t.Error("PlotHeatmap = true, want false")
	}
	if !cfg.Fragility.Overwrite {
		t.Error("Overwrite reset by a nil flag")
	}
	if cfg.Fragility.Model.Radius != 2.0 || cfg.Fragility.Model.WinSize != 100 {
		t.Errorf("Model = %+v", cfg.Fragility.Model)
	}
}

// TestDerivativeRoot tests the derivatives default under the dataset root
func TestDerivativeRoot(t *testing.T) {
	tests := []struct {
		name string
		cfg  FragilityConfig
		want string
	}{
		{"explicit", FragilityConfig{DatasetRoot: "/bids", DerivRoot: "/out"}, "/out"},
		{"defaulted", FragilityConfig{DatasetRoot: "/bids"}, filepath.Join("/bids", "derivatives")},
		{"nothing set", FragilityConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DerivativeRoot(); got != tt.want {
				t.Errorf("DerivativeRoot() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestValidate tests configuration validation
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"model winsize", func(c *Config) { c.Fragility.Model.WinSize = 0 }},
		{"model method", func(c *Config) { c.Fragility.Model.Method = "svd" }},
		{"negative resample", func(c *Config) { c.Fragility.ResampleSFreq = -1 }},
		{"empty reference", func(c *Config) { c.Fragility.Reference = "" }},
		{"figure ext", func(c *Config) { c.Fragility.FigureExt = "pdf" }},
		{"backend", func(c *Config) { c.Index.Backend = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Index.Backend = BackendSQLite; c.Index.DBPath = "" }},
		{"bridge timeout", func(c *Config) { c.Bridge.Timeout = -time.Second }},
		{"spikes timeout", func(c *Config) { c.Spikes.Timeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}
