// Package config loads the host process tuning file. All fields are
// pointers so a partial JSON file only overrides the keys it names; the
// Get* accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig carries host-side knobs around the fusion engine. The engine
// itself accepts every measurement per its contract; the ingest filters here
// are applied by the HTTP handlers before a pair reaches the engine.
type TuningConfig struct {
	// MarkerSize is the physical marker side length reported in
	// announcements (distance units).
	MarkerSize *float64 `json:"marker_size,omitempty"`

	// MaxGoodness rejects detection pairs whose pixel radii differ by more
	// than this many pixels before they reach the engine. Zero disables.
	MaxGoodness *float64 `json:"max_goodness,omitempty"`

	// MinPixelSeparation rejects detection pairs whose pixel centers are
	// closer than this, which would produce a degenerate measurement.
	MinPixelSeparation *float64 `json:"min_pixel_separation,omitempty"`

	// SnapshotInterval is how often the snapshot flusher persists a dirty
	// map, as a duration string like "60s".
	SnapshotInterval *string `json:"snapshot_interval,omitempty"`
}

// Defaults applied when a field is absent.
const (
	DefaultMarkerSize         = 0.16
	DefaultMaxGoodness        = 0.0
	DefaultMinPixelSeparation = 2.0
	DefaultSnapshotInterval   = 60 * time.Second
)

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// GetMarkerSize returns the configured marker size or the default.
func (c *TuningConfig) GetMarkerSize() float64 {
	if c != nil && c.MarkerSize != nil {
		return *c.MarkerSize
	}
	return DefaultMarkerSize
}

// GetMaxGoodness returns the ingest goodness cutoff; 0 means no cutoff.
func (c *TuningConfig) GetMaxGoodness() float64 {
	if c != nil && c.MaxGoodness != nil {
		return *c.MaxGoodness
	}
	return DefaultMaxGoodness
}

// GetMinPixelSeparation returns the degenerate-pair rejection radius.
func (c *TuningConfig) GetMinPixelSeparation() float64 {
	if c != nil && c.MinPixelSeparation != nil {
		return *c.MinPixelSeparation
	}
	return DefaultMinPixelSeparation
}

// GetSnapshotInterval returns the snapshot flush interval. Validate has
// already guaranteed the string parses.
func (c *TuningConfig) GetSnapshotInterval() time.Duration {
	if c != nil && c.SnapshotInterval != nil && *c.SnapshotInterval != "" {
		if d, err := time.ParseDuration(*c.SnapshotInterval); err == nil {
			return d
		}
	}
	return DefaultSnapshotInterval
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.MarkerSize != nil && *c.MarkerSize < 0 {
		return fmt.Errorf("marker_size must be non-negative, got %f", *c.MarkerSize)
	}
	if c.MaxGoodness != nil && *c.MaxGoodness < 0 {
		return fmt.Errorf("max_goodness must be non-negative, got %f", *c.MaxGoodness)
	}
	if c.MinPixelSeparation != nil && *c.MinPixelSeparation < 0 {
		return fmt.Errorf("min_pixel_separation must be non-negative, got %f", *c.MinPixelSeparation)
	}
	if c.SnapshotInterval != nil && *c.SnapshotInterval != "" {
		if _, err := time.ParseDuration(*c.SnapshotInterval); err != nil {
			return fmt.Errorf("invalid snapshot_interval '%s': %w", *c.SnapshotInterval, err)
		}
	}
	return nil
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
