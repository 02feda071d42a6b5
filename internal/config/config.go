// Package config provides typed configuration for the capture and
// recording pipeline.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	System  SystemConfig   `yaml:"system"`
	Storage StorageConfig  `yaml:"storage"`
	Bus     BusConfig      `yaml:"bus"`
	API     APIConfig      `yaml:"api"`
	Cameras []CameraConfig `yaml:"cameras"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Name     string        `yaml:"name"`
	DataPath string        `yaml:"data_path"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds recording storage and retention settings.
type StorageConfig struct {
	// Path is the root of the recording directory tree
	// (partitioned YYYY-MM/DD below it).
	Path string `yaml:"path"`

	// MaxStorageDays is the retention window; recordings older than this
	// become eligible for cleanup. Default 30.
	MaxStorageDays int `yaml:"max_storage_days"`

	// MinFreeSpacePercent is the free-space floor below which cleanup
	// runs; a warning is emitted below twice this value. Default 5.
	MinFreeSpacePercent float64 `yaml:"min_free_space_percent"`

	// CheckInterval is how often free space is probed. Default 5m.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// BusConfig holds embedded event bus settings.
type BusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// APIConfig holds HTTP API settings.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// CameraConfig holds configuration for a single camera.
type CameraConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// URI is the stream location (http(s):// MJPEG, synthetic://, ...).
	URI string `yaml:"uri" json:"uri"`

	Enabled    bool             `yaml:"enabled" json:"enabled"`
	FPSLimit   float64          `yaml:"fps_limit" json:"fps_limit"`
	Resolution ResolutionConfig `yaml:"resolution" json:"resolution"`
	Processing ProcessingConfig `yaml:"processing,omitempty" json:"processing,omitempty"`
	Motion     MotionConfig     `yaml:"motion,omitempty" json:"motion,omitempty"`
	Recording  RecordingConfig  `yaml:"recording" json:"recording"`

	// MaxRetries and RetryInterval bound the connect/retry loop.
	MaxRetries    int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryInterval time.Duration `yaml:"retry_interval,omitempty" json:"retry_interval,omitempty"`
}

// ResolutionConfig holds a target frame size.
type ResolutionConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// ProcessingConfig holds per-frame filter settings.
type ProcessingConfig struct {
	Denoise    bool `yaml:"denoise,omitempty" json:"denoise,omitempty"`
	Sharpen    bool `yaml:"sharpen,omitempty" json:"sharpen,omitempty"`
	Brightness int  `yaml:"brightness,omitempty" json:"brightness,omitempty"`
}

// MotionConfig holds motion detection settings.
type MotionConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	Threshold int  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	MinArea   int  `yaml:"min_area,omitempty" json:"min_area,omitempty"`
}

// RecordingConfig holds recording settings.
type RecordingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Codec selects the segment writer. Default "mjpeg".
	Codec string `yaml:"codec,omitempty" json:"codec,omitempty"`

	// SegmentDuration is the time-box per segment file. Default 300s.
	SegmentDuration time.Duration `yaml:"segment_duration,omitempty" json:"segment_duration,omitempty"`

	FPS int `yaml:"fps,omitempty" json:"fps,omitempty"`
}

// Load reads configuration from a YAML file. A missing file yields a
// default configuration bound to the path.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.setDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.setDefaults()
	for i := range cfg.Cameras {
		cfg.Cameras[i].ApplyDefaults()
	}
	return cfg, nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveLocked()
}

func (c *Config) saveLocked() error {
	if c.path == "" {
		return fmt.Errorf("config has no path")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Watch starts watching the config file for external edits and reloads on
// change, notifying OnChange subscribers.
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		logger := slog.Default().With("component", "config")
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == c.path && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					c.reload(logger)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", "error", err)
			}
		}
	}()

	return nil
}

// OnChange registers a callback invoked after each successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

func (c *Config) reload(logger *slog.Logger) {
	fresh, err := Load(c.path)
	if err != nil {
		logger.Error("Config reload failed", "error", err)
		return
	}

	c.mu.Lock()
	c.System = fresh.System
	c.Storage = fresh.Storage
	c.Bus = fresh.Bus
	c.API = fresh.API
	c.Cameras = fresh.Cameras
	watchers := append([]func(*Config){}, c.watchers...)
	c.mu.Unlock()

	logger.Info("Configuration reloaded", "cameras", len(fresh.Cameras))
	for _, fn := range watchers {
		fn(c)
	}
}

// GetCamera returns a copy of the config for a camera, or nil.
func (c *Config) GetCamera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			cam := c.Cameras[i]
			return &cam
		}
	}
	return nil
}

// UpsertCamera adds or replaces a camera config and persists the file.
func (c *Config) UpsertCamera(cam CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	replaced := false
	for i := range c.Cameras {
		if c.Cameras[i].ID == cam.ID {
			c.Cameras[i] = cam
			replaced = true
			break
		}
	}
	if !replaced {
		c.Cameras = append(c.Cameras, cam)
	}
	return c.saveLocked()
}

// RemoveCamera removes a camera config and persists the file.
func (c *Config) RemoveCamera(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			c.Cameras = append(c.Cameras[:i], c.Cameras[i+1:]...)
			return c.saveLocked()
		}
	}
	return fmt.Errorf("camera not found: %s", id)
}

// ListCameras returns a copy of all camera configs.
func (c *Config) ListCameras() []CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CameraConfig{}, c.Cameras...)
}

// SetPath binds the config to a file path.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
}

func (c *Config) setDefaults() {
	if c.System.Name == "" {
		c.System.Name = "visora"
	}
	if c.System.DataPath == "" {
		c.System.DataPath = "/data"
	}
	if c.System.Logging.Level == "" {
		c.System.Logging.Level = "info"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.System.DataPath, "recordings")
	}
	if c.Storage.MaxStorageDays <= 0 {
		c.Storage.MaxStorageDays = 30
	}
	if c.Storage.MinFreeSpacePercent <= 0 {
		c.Storage.MinFreeSpacePercent = 5
	}
	if c.Storage.CheckInterval <= 0 {
		c.Storage.CheckInterval = 5 * time.Minute
	}
	if c.Bus.Host == "" {
		c.Bus.Host = "127.0.0.1"
	}
	if c.Bus.Port == 0 {
		c.Bus.Port = 12801
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8870"
	}
}

// ApplyDefaults fills unset camera fields. Defaulting happens once here,
// at camera-add and config-load time, never scattered through accessors.
func (cam *CameraConfig) ApplyDefaults() {
	if cam.FPSLimit <= 0 {
		cam.FPSLimit = 30
	}
	if cam.Resolution.Width <= 0 || cam.Resolution.Height <= 0 {
		cam.Resolution = ResolutionConfig{Width: 1280, Height: 720}
	}
	if cam.Motion.Threshold <= 0 {
		cam.Motion.Threshold = 25
	}
	if cam.Motion.MinArea <= 0 {
		cam.Motion.MinArea = 500
	}
	if cam.MaxRetries <= 0 {
		cam.MaxRetries = 3
	}
	if cam.RetryInterval <= 0 {
		cam.RetryInterval = 5 * time.Second
	}
	if cam.Recording.Codec == "" {
		cam.Recording.Codec = "mjpeg"
	}
	if cam.Recording.SegmentDuration <= 0 {
		cam.Recording.SegmentDuration = 5 * time.Minute
	}
	if cam.Recording.FPS <= 0 {
		cam.Recording.FPS = int(cam.FPSLimit)
	}
}

// Equal reports whether two camera configs are identical. All fields are
// value types so plain comparison works.
func (cam CameraConfig) Equal(other CameraConfig) bool {
	return cam == other
}

// Validate checks a camera config for required fields.
func (cam *CameraConfig) Validate() error {
	if cam.ID == "" {
		return fmt.Errorf("camera id is required")
	}
	if cam.URI == "" {
		return fmt.Errorf("camera uri is required")
	}
	return nil
}
