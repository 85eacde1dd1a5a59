// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/anxiong2025/zureshot/internal/health"
	"github.com/anxiong2025/zureshot/internal/zoom"
)

// ConfigFileName is the YAML config's filename within its directory.
const ConfigFileName = "config.yaml"

// DefaultConfigDir returns the per-user directory the daemon's YAML config
// lives in: $XDG_CONFIG_HOME/zureshot, or ~/.config/zureshot if the
// variable is unset. Zureshot is a per-user menu-bar daemon, not a
// multi-device system service, so its config lives under the user's own
// config directory rather than a system-wide /etc path.
func DefaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "zureshot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "zureshot")
}

// DefaultConfigPath returns DefaultConfigDir's config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), ConfigFileName)
}

// Config represents the complete Zureshot daemon configuration.
type Config struct {
	// Quality holds the fps/quality-hint overrides for the Standard/High
	// recording presets.
	Quality QualityConfig `yaml:"quality" koanf:"quality"`

	// Zoom holds the zoom controller's spring tuning.
	Zoom ZoomConfig `yaml:"zoom" koanf:"zoom"`

	// Health holds the self-monitor's poll interval, endpoint address,
	// and resource-alert thresholds.
	Health HealthConfig `yaml:"health" koanf:"health"`
}

// QualityPreset overrides the built-in fps/quality-hint for one named
// preset. Zero fields inherit the built-in value.
type QualityPreset struct {
	FPS         int     `yaml:"fps" koanf:"fps"`
	QualityHint float64 `yaml:"quality_hint" koanf:"quality_hint"`
}

// QualityConfig selects and optionally overrides the Standard/High quality
// presets. The bitrate ceiling table itself is not configurable here: it
// is a fixed function of quality and resolution (internal/writer).
type QualityConfig struct {
	// Default is the preset name ("standard" or "high") used when a
	// caller doesn't specify one explicitly.
	Default string `yaml:"default" koanf:"default"`

	// Presets overrides fps/quality_hint per preset name, keyed by the
	// preset name it customizes.
	Presets map[string]QualityPreset `yaml:"presets" koanf:"presets"`
}

// GetPreset resolves a named quality preset, merging any configured
// override onto the built-in fps/quality-hint for that name: a
// "specific overrides default, zero inherits" lookup.
func (q *QualityConfig) GetPreset(name string) QualityPreset {
	result := builtinPreset(name)
	if override, ok := q.Presets[name]; ok {
		if override.FPS != 0 {
			result.FPS = override.FPS
		}
		if override.QualityHint != 0 {
			result.QualityHint = override.QualityHint
		}
	}
	return result
}

// builtinPreset returns the fixed fps/quality-hint pair for a preset name:
// Standard -> 30fps/0.72, High -> 60fps/0.85. Any other name falls back to
// Standard.
func builtinPreset(name string) QualityPreset {
	if name == "high" {
		return QualityPreset{FPS: 60, QualityHint: 0.85}
	}
	return QualityPreset{FPS: 30, QualityHint: 0.72}
}

// ZoomConfig mirrors internal/zoom.Config field-for-field so its spring
// tuning can be overridden from YAML/env without internal/zoom itself
// depending on this package.
type ZoomConfig struct {
	Enabled       bool          `yaml:"enabled" koanf:"enabled"`
	MaxZoom       float64       `yaml:"max_zoom" koanf:"max_zoom"`
	PanOmega      float64       `yaml:"pan_omega" koanf:"pan_omega"`
	PanZeta       float64       `yaml:"pan_zeta" koanf:"pan_zeta"`
	ZoomOmega     float64       `yaml:"zoom_omega" koanf:"zoom_omega"`
	ZoomZeta      float64       `yaml:"zoom_zeta" koanf:"zoom_zeta"`
	IdleDelay     time.Duration `yaml:"idle_delay" koanf:"idle_delay"`
	MoveDelay     time.Duration `yaml:"move_delay" koanf:"move_delay"`
	MoveThreshold float64       `yaml:"move_threshold" koanf:"move_threshold"`
	UpdateRate    float64       `yaml:"update_rate" koanf:"update_rate"`
}

// ToZoomConfig converts to the type internal/zoom.Controller actually
// consumes. A zero field takes its value from zoom.DefaultConfig.
func (z *ZoomConfig) ToZoomConfig() zoom.Config {
	d := zoom.DefaultConfig()
	f := func(v, def float64) float64 {
		if v == 0 {
			return def
		}
		return v
	}
	dur := func(v, def time.Duration) time.Duration {
		if v == 0 {
			return def
		}
		return v
	}
	return zoom.Config{
		MaxZoom:       f(z.MaxZoom, d.MaxZoom),
		PanOmega:      f(z.PanOmega, d.PanOmega),
		PanZeta:       f(z.PanZeta, d.PanZeta),
		ZoomOmega:     f(z.ZoomOmega, d.ZoomOmega),
		ZoomZeta:      f(z.ZoomZeta, d.ZoomZeta),
		IdleDelay:     dur(z.IdleDelay, d.IdleDelay),
		MoveDelay:     dur(z.MoveDelay, d.MoveDelay),
		MoveThreshold: f(z.MoveThreshold, d.MoveThreshold),
		UpdateRate:    f(z.UpdateRate, d.UpdateRate),
	}
}

// HealthConfig controls the daemon's self-monitor (internal/health):
// whether it runs, what address it serves /healthz and /metrics on, how
// often it samples, and the FD/memory alert thresholds.
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" koanf:"enabled"`
	Addr     string        `yaml:"addr" koanf:"addr"`
	Interval time.Duration `yaml:"interval" koanf:"interval"`

	FDWarning        int   `yaml:"fd_warning" koanf:"fd_warning"`
	FDCritical       int   `yaml:"fd_critical" koanf:"fd_critical"`
	MemoryWarningMB  int64 `yaml:"memory_warning_mb" koanf:"memory_warning_mb"`
	MemoryCriticalMB int64 `yaml:"memory_critical_mb" koanf:"memory_critical_mb"`
}

// ToResourceThresholds converts to internal/health.ResourceThresholds,
// overriding health.DefaultThresholds() with any non-zero configured
// value.
func (h *HealthConfig) ToResourceThresholds() health.ResourceThresholds {
	t := health.DefaultThresholds()
	if h.FDWarning != 0 {
		t.FDWarning = h.FDWarning
	}
	if h.FDCritical != 0 {
		t.FDCritical = h.FDCritical
	}
	if h.MemoryWarningMB != 0 {
		t.MemoryWarning = h.MemoryWarningMB * 1024 * 1024
	}
	if h.MemoryCriticalMB != 0 {
		t.MemoryCritical = h.MemoryCriticalMB * 1024 * 1024
	}
	return t
}

// LoadConfig reads and parses the configuration file.
//
// Parameters:
//   - path: Path to YAML configuration file
//
// Returns:
//   - *Config: Parsed configuration
//   - error: if file not found, invalid YAML, or validation fails
//
// Example:
//
//	cfg, err := LoadConfig(config.DefaultConfigPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfig(path string) (*Config, error) {
	// Read file
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to a YAML file.
//
// Parameters:
//   - path: Destination file path
//
// Returns:
//   - error: if marshaling fails or file write fails
//
// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	// Marshal to YAML
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: write to a temp file in the same directory, sync to disk,
	// then rename to the target path. os.Rename is atomic on most filesystems,
	// so a crash mid-write leaves either the old file or the new file, never
	// a partially-written file.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	// Write data to temp file
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	// Sync to disk to ensure data is persisted before rename
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config file is per-user (lives under $XDG_CONFIG_HOME) so owner-only
	// permissions are sufficient; there's no other user to share it with.
	// #nosec G302 - Config file restricted to owner for a per-user daemon
	if err := tmpFile.Chmod(0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil { // #nosec G703 -- path is from CLI flag/config, not web request input
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Quality.Default != "" && c.Quality.Default != "standard" && c.Quality.Default != "high" {
		return fmt.Errorf("quality.default must be \"standard\" or \"high\" (got %q)", c.Quality.Default)
	}
	for name, preset := range c.Quality.Presets {
		if preset.FPS < 0 {
			return fmt.Errorf("quality.presets.%s.fps must not be negative", name)
		}
		if preset.QualityHint < 0 || preset.QualityHint > 1 {
			return fmt.Errorf("quality.presets.%s.quality_hint must be in [0,1]", name)
		}
	}

	if err := c.Zoom.Validate(); err != nil {
		return fmt.Errorf("zoom config: %w", err)
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr cannot be empty when health.enabled is true")
	}

	return nil
}

// Validate checks zoom configuration for invalid values. Zero fields are
// allowed (ZoomConfig.ToZoomConfig replaces each one with the
// zoom.DefaultConfig value), but a negative or inverted tuning value is
// always a mistake.
func (z *ZoomConfig) Validate() error {
	if z.MaxZoom < 0 {
		return fmt.Errorf("max_zoom must not be negative")
	}
	if z.MaxZoom != 0 && z.MaxZoom < 1 {
		return fmt.Errorf("max_zoom must be >= 1")
	}
	if z.UpdateRate < 0 {
		return fmt.Errorf("update_rate must not be negative")
	}
	if z.MoveThreshold < 0 {
		return fmt.Errorf("move_threshold must not be negative")
	}
	return nil
}

// DefaultConfig returns a configuration with Zureshot's built-in default
// tuning, used when no config file exists or for testing.
func DefaultConfig() *Config {
	z := zoom.DefaultConfig()
	return &Config{
		Quality: QualityConfig{
			Default: "standard",
			Presets: make(map[string]QualityPreset),
		},
		Zoom: ZoomConfig{
			Enabled:       false,
			MaxZoom:       z.MaxZoom,
			PanOmega:      z.PanOmega,
			PanZeta:       z.PanZeta,
			ZoomOmega:     z.ZoomOmega,
			ZoomZeta:      z.ZoomZeta,
			IdleDelay:     z.IdleDelay,
			MoveDelay:     z.MoveDelay,
			MoveThreshold: z.MoveThreshold,
			UpdateRate:    z.UpdateRate,
		},
		Health: HealthConfig{
			Enabled:  true,
			Addr:     "127.0.0.1:9998",
			Interval: 30 * time.Second,
		},
	}
}
