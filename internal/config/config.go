// Package config handles configuration loading for the spike raster server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Loader LoaderConfig `yaml:"loader"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig is where one dataset's event payload lives.
type DatasetConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

// DataConfig contains the configured datasets in YAML order. The first
// dataset is the default.
type DataConfig struct {
	Datasets       map[string]DatasetConfig
	DefaultDataset string
	order          []string
}

// DatasetIDs returns the dataset ids in configuration order.
func (d DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML accepts either the legacy single-dataset form
//
//	data:
//	  path: ./data/spikes.json
//
// or a mapping of dataset id to dataset settings.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %s", node.Tag)
	}
	d.Datasets = make(map[string]DatasetConfig)
	d.order = nil

	if isLegacyData(node) {
		var ds DatasetConfig
		if err := node.Decode(&ds); err != nil {
			return err
		}
		d.add("default", ds)
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var ds DatasetConfig
		if err := node.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("data.%s: %w", id, err)
		}
		if _, dup := d.Datasets[id]; dup {
			return fmt.Errorf("data: duplicate dataset %q", id)
		}
		d.add(id, ds)
	}
	return nil
}

func (d *DataConfig) add(id string, ds DatasetConfig) {
	d.Datasets[id] = ds
	d.order = append(d.order, id)
	if d.DefaultDataset == "" {
		d.DefaultDataset = id
	}
}

// isLegacyData reports whether the data mapping holds dataset settings
// directly rather than per-dataset sections.
func isLegacyData(node *yaml.Node) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "path", "format":
			if node.Content[i+1].Kind == yaml.ScalarNode {
				return true
			}
		}
	}
	return false
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes"`
	SliceCacheSize  int `yaml:"slice_cache_size"`
	MaxSessions     int `yaml:"max_sessions"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width          int     `yaml:"width"`
	Height         int     `yaml:"height"`
	TickWidth      float64 `yaml:"tick_width"`
	FactorColormap string  `yaml:"factor_colormap"`
}

// LoaderConfig contains settings for background payload loads.
type LoaderConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
	MaxBytesMB    int    `yaml:"max_bytes_mb"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Spike Raster",
		},
		Data: DataConfig{
			Datasets: map[string]DatasetConfig{
				"default": {Path: "./data/spikes.json"},
			},
			DefaultDataset: "default",
			order:          []string{"default"},
		},
		Cache: CacheConfig{
			FrameSizeMB:     256,
			FrameTTLMinutes: 10,
			SliceCacheSize:  256,
			MaxSessions:     1024,
		},
		Render: RenderConfig{
			Width:          800,
			Height:         600,
			TickWidth:      1,
			FactorColormap: "categorical",
		},
		Loader: LoaderConfig{
			MaxConcurrent: 1,
			SQLitePath:    "./data/loads.sqlite",
			RetentionDays: 7,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Data.order) == 0 {
		cfg.Data = defaults.Data
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.SliceCacheSize == 0 {
		cfg.Cache.SliceCacheSize = defaults.Cache.SliceCacheSize
	}
	if cfg.Cache.MaxSessions == 0 {
		cfg.Cache.MaxSessions = defaults.Cache.MaxSessions
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.TickWidth == 0 {
		cfg.Render.TickWidth = defaults.Render.TickWidth
	}
	if cfg.Render.FactorColormap == "" {
		cfg.Render.FactorColormap = defaults.Render.FactorColormap
	}
	if cfg.Loader.MaxConcurrent == 0 {
		cfg.Loader.MaxConcurrent = defaults.Loader.MaxConcurrent
	}
	if cfg.Loader.SQLitePath == "" {
		cfg.Loader.SQLitePath = defaults.Loader.SQLitePath
	}
	if cfg.Loader.RetentionDays == 0 {
		cfg.Loader.RetentionDays = defaults.Loader.RetentionDays
	}
}
