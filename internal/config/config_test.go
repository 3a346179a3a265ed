package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_LegacyFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  path: "/data/legacy/spikes.json.zst"
  format: json
cache:
  frame_size_mb: 128
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset 'default', got %q", cfg.Data.DefaultDataset)
	}
	ds, ok := cfg.Data.Datasets["default"]
	if !ok {
		t.Fatal("expected 'default' dataset")
	}
	if ds.Path != "/data/legacy/spikes.json.zst" {
		t.Errorf("unexpected path: %s", ds.Path)
	}
	if ds.Format != "json" {
		t.Errorf("unexpected format: %s", ds.Format)
	}
	if cfg.Cache.FrameSizeMB != 128 {
		t.Errorf("expected frame cache 128, got %d", cfg.Cache.FrameSizeMB)
	}
}

func TestLoad_MultiDatasetFormat(t *testing.T) {
	content := `
server:
  port: 8080
data:
  v1_session:
    path: "/data/v1/spikes"
    format: npy
  hippocampus:
    path: "/data/hpc/events.csv"
`
	cfg := loadFromString(t, content)

	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}

	// First dataset in YAML order should be default
	if cfg.Data.DefaultDataset != "v1_session" {
		t.Errorf("expected default dataset 'v1_session', got %q", cfg.Data.DefaultDataset)
	}

	v1, ok := cfg.Data.Datasets["v1_session"]
	if !ok {
		t.Fatal("expected 'v1_session' dataset")
	}
	if v1.Path != "/data/v1/spikes" || v1.Format != "npy" {
		t.Errorf("unexpected v1_session settings: %+v", v1)
	}

	hpc, ok := cfg.Data.Datasets["hippocampus"]
	if !ok {
		t.Fatal("expected 'hippocampus' dataset")
	}
	if hpc.Path != "/data/hpc/events.csv" {
		t.Errorf("unexpected hippocampus path: %s", hpc.Path)
	}

	// Check order preserved
	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "v1_session" || ids[1] != "hippocampus" {
		t.Errorf("unexpected dataset order: %v", ids)
	}
}

func TestLoad_DuplicateDataset(t *testing.T) {
	content := `
data:
  a:
    path: "/a.json"
  a:
    path: "/b.json"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate dataset")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  test:
    path: "/test/spikes.json"
render:
  width: 1024
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.FrameSizeMB != 256 {
		t.Errorf("expected default cache size 256, got %d", cfg.Cache.FrameSizeMB)
	}
	if cfg.Render.Width != 1024 || cfg.Render.Height != 600 {
		t.Errorf("unexpected frame size %dx%d", cfg.Render.Width, cfg.Render.Height)
	}
	if cfg.Render.FactorColormap != "categorical" {
		t.Errorf("expected categorical colormap, got %q", cfg.Render.FactorColormap)
	}
	if cfg.Loader.MaxConcurrent != 1 || cfg.Loader.RetentionDays != 7 {
		t.Errorf("unexpected loader defaults: %+v", cfg.Loader)
	}
}

func TestLoad_NoDataSection(t *testing.T) {
	content := `
server:
  port: 8080
`
	cfg := loadFromString(t, content)

	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset, got %q", cfg.Data.DefaultDataset)
	}
	if len(cfg.Data.Datasets) != 1 {
		t.Errorf("expected 1 default dataset, got %d", len(cfg.Data.Datasets))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 8080 || len(cfg.Data.DatasetIDs()) != 1 {
		t.Errorf("unexpected fallback config: %+v", cfg)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
