package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTuningConfigPartial(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{"marker_size": 0.2, "snapshot_interval": "5s"}`)
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	if got := cfg.GetMarkerSize(); got != 0.2 {
		t.Errorf("GetMarkerSize = %v, want 0.2", got)
	}
	if got := cfg.GetSnapshotInterval(); got != 5*time.Second {
		t.Errorf("GetSnapshotInterval = %v, want 5s", got)
	}
	// Unset fields keep their defaults.
	if got := cfg.GetMinPixelSeparation(); got != DefaultMinPixelSeparation {
		t.Errorf("GetMinPixelSeparation = %v, want default %v", got, DefaultMinPixelSeparation)
	}
	if got := cfg.GetMaxGoodness(); got != DefaultMaxGoodness {
		t.Errorf("GetMaxGoodness = %v, want default %v", got, DefaultMaxGoodness)
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{"wrong extension", "tuning.yaml", `{}`},
		{"bad json", "tuning.json", `{"marker_size":`},
		{"negative marker size", "tuning.json", `{"marker_size": -1}`},
		{"bad interval", "tuning.json", `{"snapshot_interval": "sometimes"}`},
		{"negative separation", "tuning.json", `{"min_pixel_separation": -3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.content)
			if _, err := LoadTuningConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNilConfigDefaults(t *testing.T) {
	var cfg *TuningConfig
	if got := cfg.GetMarkerSize(); got != DefaultMarkerSize {
		t.Errorf("nil config GetMarkerSize = %v, want %v", got, DefaultMarkerSize)
	}
	if got := cfg.GetSnapshotInterval(); got != DefaultSnapshotInterval {
		t.Errorf("nil config GetSnapshotInterval = %v, want %v", got, DefaultSnapshotInterval)
	}
}
