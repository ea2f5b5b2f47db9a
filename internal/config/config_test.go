package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Source.Type != "url" || cfg.Source.FPS != 10 {
		t.Errorf("Source defaults = %+v", cfg.Source)
	}
	if cfg.Tracker.MaxDisappeared != 10 || cfg.Tracker.IoUThreshold != 0.3 || cfg.Tracker.DistanceThreshold != 100 {
		t.Errorf("Tracker defaults = %+v", cfg.Tracker)
	}
	if cfg.Detector.MinConfidence != 0.5 {
		t.Errorf("Detector.MinConfidence = %v, want 0.5", cfg.Detector.MinConfidence)
	}
	if cfg.API.Bind != ":8080" {
		t.Errorf("API.Bind = %q", cfg.API.Bind)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
	if cfg.Retention.MaxAgeHours != 24 || cfg.Retention.SweepIntervalMinutes != 1 {
		t.Errorf("Retention defaults = %+v", cfg.Retention)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
source:
  type: dir
  dir: /tmp/frames
detector:
  address: 10.0.0.5:8500
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.Type != "dir" || cfg.Source.Dir != "/tmp/frames" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Detector.Address != "10.0.0.5:8500" {
		t.Errorf("Detector.Address = %q", cfg.Detector.Address)
	}
	// Unset fields fall back to defaults.
	if cfg.Source.FPS != 10 {
		t.Errorf("Source.FPS = %v, want default 10", cfg.Source.FPS)
	}
	if cfg.Tracker.MaxDisappeared != 10 {
		t.Errorf("Tracker.MaxDisappeared = %d, want default 10", cfg.Tracker.MaxDisappeared)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.API.Bind != ":8080" {
		t.Errorf("API.Bind = %q, want default", cfg.API.Bind)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("source: [not: valid"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRAFFICLENS_API_BIND", ":9090")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.API.Bind != ":9090" {
		t.Errorf("API.Bind = %q, want :9090", cfg.API.Bind)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Source.URL = "http://camera:1984/api/frame.jpeg"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if reloaded.Source.URL != cfg.Source.URL {
		t.Errorf("Source.URL = %q, want %q", reloaded.Source.URL, cfg.Source.URL)
	}
}
