// Package config provides configuration management for the traffic
// counting service.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main service configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Source    SourceConfig    `yaml:"source"`
	Detector  DetectorConfig  `yaml:"detector"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	ROI       ROIConfig       `yaml:"roi"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Bus       BusConfig       `yaml:"bus"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Internal fields
	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SourceConfig holds frame ingestion settings.
type SourceConfig struct {
	Type string `yaml:"type"` // url or dir
	URL  string `yaml:"url,omitempty"`
	Dir  string `yaml:"dir,omitempty"`
	FPS  int    `yaml:"fps"`
}

// DetectorConfig holds the external detector settings.
type DetectorConfig struct {
	Address        string  `yaml:"address"`
	MinConfidence  float64 `yaml:"min_confidence"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// TrackerConfig holds tracker thresholds.
type TrackerConfig struct {
	MaxDisappeared    int     `yaml:"max_disappeared"`
	IoUThreshold      float64 `yaml:"iou_threshold"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
}

// ROIConfig holds the ROI model settings.
type ROIConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig holds storage paths.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	SnapshotsDir string `yaml:"snapshots_dir"`
}

// RetentionConfig holds event retention settings. A negative MaxAgeHours
// disables the retention worker.
type RetentionConfig struct {
	MaxAgeHours          int `yaml:"max_age_hours"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// BusConfig holds embedded message bus settings.
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Bind string `yaml:"bind"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

// LoadOrDefault loads configuration from a YAML file, falling back to the
// built-in defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	slog.Warn("Config file not found, using defaults", "path", path)
	cfg = Default()
	cfg.path = path
	cfg.applyEnv()
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// Save saves the configuration to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfgCopy := &Config{
		Version:   c.Version,
		Source:    c.Source,
		Detector:  c.Detector,
		Tracker:   c.Tracker,
		ROI:       c.ROI,
		Storage:   c.Storage,
		Retention: c.Retention,
		Bus:       c.Bus,
		API:       c.API,
		Logging:   c.Logging,
	}

	data, err := yaml.Marshal(cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Traffic counting service configuration\n\n"
	data = append([]byte(header), data...)

	// Atomic write
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmpPath, c.path)
}

// Watch starts watching for configuration file changes.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // Debounce
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback for config changes.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// reload reloads the configuration from disk.
func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	// Copy fields individually to avoid copying the mutex
	c.Version = newCfg.Version
	c.Source = newCfg.Source
	c.Detector = newCfg.Detector
	c.Tracker = newCfg.Tracker
	c.ROI = newCfg.ROI
	c.Storage = newCfg.Storage
	c.Retention = newCfg.Retention
	c.Bus = newCfg.Bus
	c.API = newCfg.API
	c.Logging = newCfg.Logging
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded")

	for _, fn := range watchers {
		fn(c)
	}
}

// Path returns the current config file path.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// setDefaults sets default values for unset fields.
func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Source.Type == "" {
		c.Source.Type = "url"
	}
	if c.Source.FPS <= 0 {
		c.Source.FPS = 10
	}
	if c.Detector.Address == "" {
		c.Detector.Address = "127.0.0.1:8500"
	}
	if c.Detector.MinConfidence <= 0 {
		c.Detector.MinConfidence = 0.5
	}
	if c.Detector.TimeoutSeconds <= 0 {
		c.Detector.TimeoutSeconds = 10
	}
	if c.Tracker.MaxDisappeared <= 0 {
		c.Tracker.MaxDisappeared = 10
	}
	if c.Tracker.IoUThreshold <= 0 {
		c.Tracker.IoUThreshold = 0.3
	}
	if c.Tracker.DistanceThreshold <= 0 {
		c.Tracker.DistanceThreshold = 100
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.SnapshotsDir == "" {
		c.Storage.SnapshotsDir = "./data/snapshots"
	}
	if c.Retention.MaxAgeHours == 0 {
		c.Retention.MaxAgeHours = 24
	}
	if c.Retention.SweepIntervalMinutes <= 0 {
		c.Retention.SweepIntervalMinutes = 1
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 14222
	}
	if c.API.Bind == "" {
		c.API.Bind = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnv applies environment overrides on top of the loaded file.
func (c *Config) applyEnv() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TRAFFICLENS_DETECTOR_ADDR"); v != "" {
		c.Detector.Address = v
	}
	if v := os.Getenv("TRAFFICLENS_SOURCE_URL"); v != "" {
		c.Source.Type = "url"
		c.Source.URL = v
	}
	if v := os.Getenv("TRAFFICLENS_API_BIND"); v != "" {
		c.API.Bind = v
	}
}
