package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sebnyberg/cropview/loadx"
	"github.com/sebnyberg/cropview/rasterx"
)

type Ordering string

const (
	// OrderCompletion appends results as soon as their encoding finishes.
	OrderCompletion Ordering = "completion"
	// OrderConfirmation appends results in the order crops were confirmed.
	OrderConfirmation Ordering = "confirmation"
)

type Display struct {
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
}

type Thumbnail struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	CacheSize int `yaml:"cache_size"`
}

// Config holds the tunables of a crop session. Fields may be loaded from a
// YAML file and overridden by command-line flags.
type Config struct {
	JPEGQuality  int       `yaml:"jpeg_quality"`
	Interpolator string    `yaml:"interpolator"`
	Ordering     Ordering  `yaml:"ordering"`
	MaxInFlight  int       `yaml:"max_in_flight"`
	MaxBytes     int64     `yaml:"max_bytes"`
	MaxPixels    int64     `yaml:"max_pixels"`
	AutoOrient   bool      `yaml:"auto_orient"`
	Display      Display   `yaml:"display"`
	Thumbnail    Thumbnail `yaml:"thumbnail"`
}

// Default returns a Config populated with standard defaults.
func Default() *Config {
	return &Config{
		JPEGQuality:  rasterx.DefaultQuality,
		Interpolator: "catmullrom",
		Ordering:     OrderCompletion,
		MaxInFlight:  4,
		MaxBytes:     loadx.DefaultMaxBytes,
		MaxPixels:    loadx.DefaultMaxPixels,
		AutoOrient:   true,
		Thumbnail: Thumbnail{
			Width:     160,
			Height:    160,
			CacheSize: 64,
		},
	}
}

// Validate clamps numeric values to safe ranges and rejects unknown names.
func (c *Config) Validate() error {
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		c.JPEGQuality = rasterx.DefaultQuality
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = loadx.DefaultMaxBytes
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = loadx.DefaultMaxPixels
	}
	if c.Display.MaxWidth < 0 {
		c.Display.MaxWidth = 0
	}
	if c.Display.MaxHeight < 0 {
		c.Display.MaxHeight = 0
	}
	if c.Thumbnail.Width <= 0 {
		c.Thumbnail.Width = 160
	}
	if c.Thumbnail.Height <= 0 {
		c.Thumbnail.Height = 160
	}
	if c.Thumbnail.CacheSize <= 0 {
		c.Thumbnail.CacheSize = 64
	}
	switch c.Ordering {
	case "":
		c.Ordering = OrderCompletion
	case OrderCompletion, OrderConfirmation:
	default:
		return fmt.Errorf("unknown ordering %q", c.Ordering)
	}
	if _, err := rasterx.ParseInterpolator(c.Interpolator); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from the YAML file at path on top of the
// defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %q err, %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q err, %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q, %w", path, err)
	}
	return cfg, nil
}

// Write writes cfg to path as YAML.
func Write(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
