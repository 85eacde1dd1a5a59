// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anxiong2025/zureshot/internal/geom"
)

// SettingsFileName is the JSON settings file, separate from the YAML
// config.yaml: it holds small bits of UI state the menu/CLI mutate at
// runtime (auto-update opt-in, last-used region) rather than operator-tuned
// recording parameters.
const SettingsFileName = "settings.json"

// settingsSchemaVersion is bumped whenever Settings gains a field that an
// older settings.json on disk won't have. MigrateSettings uses it to decide
// whether a loaded file needs defaulting.
const settingsSchemaVersion = 1

// Settings holds small persisted UI/runtime state, separate from the YAML
// recording config: whether auto-update checks are enabled and the last
// region the user selected for a screen recording.
type Settings struct {
	SchemaVersion int        `json:"schema_version"`
	AutoUpdate    bool       `json:"auto_update"`
	LastRegion    *geom.Rect `json:"last_region,omitempty"`
}

// DefaultSettingsPath returns the default settings file path,
// $XDG_CONFIG_HOME/zureshot/settings.json.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultConfigDir(), SettingsFileName)
}

// DefaultSettings returns the settings a fresh install starts with.
func DefaultSettings() *Settings {
	return &Settings{
		SchemaVersion: settingsSchemaVersion,
		AutoUpdate:    true,
	}
}

// LoadSettings reads and parses the settings file at path. A missing file
// is not an error: it returns DefaultSettings().
func LoadSettings(path string) (*Settings, error) {
	// #nosec G304 -- path is the caller-controlled settings file location
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	return MigrateSettings(&s), nil
}

// MigrateSettings brings a Settings value loaded from disk up to the
// current schema, filling in fields a settings.json written by an older
// version of zureshot would not have. Today that is only SchemaVersion
// itself (a settings.json predating versioning reads as version 0 and
// gets the current defaults layered under it); this is the one migration
// that matters until the schema grows a field that needs a real
// transformation.
func MigrateSettings(s *Settings) *Settings {
	if s.SchemaVersion >= settingsSchemaVersion {
		return s
	}
	s.SchemaVersion = settingsSchemaVersion
	return s
}

// Save writes settings to path atomically, rotating the previous file to a
// timestamped .bak in the backups directory next to it before overwriting
// (mirroring Config.Save's atomic temp-file-then-rename pattern).
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	// #nosec G301 -- settings directory is the per-user config dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := BackupConfig(path, GetBackupDir(path)); err != nil {
			return fmt.Errorf("failed to back up existing settings: %w", err)
		}
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "settings-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close settings temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize settings file: %w", err)
	}

	return nil
}

// SetLastRegion updates the remembered screen region and saves.
func (s *Settings) SetLastRegion(path string, r geom.Rect) error {
	s.LastRegion = &r
	return s.Save(path)
}
