package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `quality:
  default: standard
zoom:
  enabled: false
health:
  enabled: true
  addr: "127.0.0.1:9998"
`

func TestBackupConfig(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("Failed to create config: %v", err)
	}

	backupDir := filepath.Join(tmpDir, "backups")

	backupPath, err := BackupConfig(configPath, backupDir)
	if err != nil {
		t.Fatalf("BackupConfig() error: %v", err)
	}

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		t.Errorf("Backup file not created: %s", backupPath)
	}

	backupContent, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("Failed to read backup: %v", err)
	}

	if string(backupContent) != sampleYAML {
		t.Errorf("Backup content mismatch")
	}
}

func TestBackupConfigFileNotFound(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")

	_, err := BackupConfig("/nonexistent/config.yaml", backupDir)
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestBackupConfigDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")

	_, err := BackupConfig(tmpDir, backupDir)
	if err == nil {
		t.Error("Expected error when trying to backup a directory")
	}
}

func TestListBackups(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		t.Fatalf("Failed to create backup dir: %v", err)
	}

	testFiles := []string{
		"config.yaml.2025-12-14T10-00-00.bak",
		"config.yaml.2025-12-14T11-00-00.bak",
		"config.yaml.2025-12-14T12-00-00.bak",
		"other.yaml.2025-12-14T10-00-00.bak",
		"not-a-backup.txt",
	}

	for _, f := range testFiles {
		path := filepath.Join(backupDir, f)
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	backups, err := ListBackups(backupDir, "")
	if err != nil {
		t.Fatalf("ListBackups() error: %v", err)
	}

	if len(backups) != 4 {
		t.Errorf("ListBackups() returned %d backups, want 4", len(backups))
	}

	backups, err = ListBackups(backupDir, "config.yaml")
	if err != nil {
		t.Fatalf("ListBackups() error: %v", err)
	}

	if len(backups) != 3 {
		t.Errorf("ListBackups() with filter returned %d backups, want 3", len(backups))
	}

	if len(backups) >= 2 {
		if backups[0].Timestamp.Before(backups[1].Timestamp) {
			t.Error("Backups not sorted newest first")
		}
	}
}

func TestListBackupsNonexistentDir(t *testing.T) {
	backups, err := ListBackups("/nonexistent/backups", "")
	if err != nil {
		t.Errorf("ListBackups() should return nil for nonexistent dir, got error: %v", err)
	}
	if backups != nil {
		t.Errorf("ListBackups() should return nil for nonexistent dir, got: %v", backups)
	}
}

func TestRestoreBackup(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		t.Fatalf("Failed to create backup dir: %v", err)
	}

	backupPath := filepath.Join(backupDir, "config.yaml.2025-12-14T10-00-00.bak")
	if err := os.WriteFile(backupPath, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("Failed to create backup: %v", err)
	}

	prevBackup, err := RestoreBackup(backupPath, configPath, backupDir)
	if err != nil {
		t.Fatalf("RestoreBackup() error: %v", err)
	}

	if prevBackup != "" {
		t.Errorf("Expected no previous backup, got: %s", prevBackup)
	}

	restored, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read restored config: %v", err)
	}

	if string(restored) != sampleYAML {
		t.Error("Restored content doesn't match backup")
	}
}

func TestRestoreBackupWithExistingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		t.Fatalf("Failed to create backup dir: %v", err)
	}

	existingContent := "quality:\n  default: high\n"
	if err := os.WriteFile(configPath, []byte(existingContent), 0644); err != nil {
		t.Fatalf("Failed to create existing config: %v", err)
	}

	backupPath := filepath.Join(backupDir, "config.yaml.2025-12-14T10-00-00.bak")
	if err := os.WriteFile(backupPath, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("Failed to create backup: %v", err)
	}

	prevBackup, err := RestoreBackup(backupPath, configPath, backupDir)
	if err != nil {
		t.Fatalf("RestoreBackup() error: %v", err)
	}

	if prevBackup == "" {
		t.Error("Expected previous backup to be created")
	}

	if _, err := os.Stat(prevBackup); os.IsNotExist(err) {
		t.Errorf("Previous backup not created: %s", prevBackup)
	}
}

func TestRestoreBackupInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		t.Fatalf("Failed to create backup dir: %v", err)
	}

	backupPath := filepath.Join(backupDir, "config.yaml.2025-12-14T10-00-00.bak")
	if err := os.WriteFile(backupPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("Failed to create backup: %v", err)
	}

	_, err := RestoreBackup(backupPath, configPath, backupDir)
	if err == nil {
		t.Error("Expected error for invalid YAML backup")
	}
}

func TestCleanOldBackups(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		t.Fatalf("Failed to create backup dir: %v", err)
	}

	for i := 0; i < 5; i++ {
		name := time.Now().Add(time.Duration(-i) * time.Hour).Format(BackupTimestampFormat)
		path := filepath.Join(backupDir, "config.yaml."+name+BackupSuffix)
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deleted, err := CleanOldBackups(backupDir, "config.yaml", 2)
	if err != nil {
		t.Fatalf("CleanOldBackups() error: %v", err)
	}

	if deleted != 3 {
		t.Errorf("CleanOldBackups() deleted %d files, want 3", deleted)
	}

	remaining, _ := ListBackups(backupDir, "config.yaml")
	if len(remaining) != 2 {
		t.Errorf("Expected 2 remaining backups, got %d", len(remaining))
	}
}

func TestCleanOldBackupsNegativeKeep(t *testing.T) {
	tmpDir := t.TempDir()
	_, err := CleanOldBackups(tmpDir, "config.yaml", -1)
	if err == nil {
		t.Error("Expected error for negative keepCount")
	}
}

func TestParseBackupTimestamp(t *testing.T) {
	tests := []struct {
		filename string
		wantErr  bool
	}{
		{"config.yaml.2025-12-14T10-30-00.bak", false},
		{"config.yaml.2025-12-14T10-30-00.000.bak", false},
		{"config.yaml.invalid.bak", true},
		{"config.yaml.bak", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			_, err := parseBackupTimestamp(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseBackupTimestamp(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestGetBackupDir(t *testing.T) {
	defaultDir := DefaultConfigDir()

	tests := []struct {
		name       string
		configPath string
		want       string
	}{
		{"default config dir", filepath.Join(defaultDir, "config.yaml"), DefaultBackupDir()},
		{"custom dir", "/tmp/custom/config.yaml", "/tmp/custom/backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetBackupDir(tt.configPath)
			if got != tt.want {
				t.Errorf("GetBackupDir(%q) = %q, want %q", tt.configPath, got, tt.want)
			}
		})
	}
}

func TestBackupBeforeSave(t *testing.T) {
	tmpDir := t.TempDir()
	backupDir := filepath.Join(tmpDir, "backups")
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("quality:\n  default: standard\n"), 0644); err != nil {
		t.Fatalf("Failed to create existing config: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Quality.Default = "high"

	backupPath, err := BackupBeforeSave(cfg, configPath, backupDir)
	if err != nil {
		t.Fatalf("BackupBeforeSave() error: %v", err)
	}

	if backupPath == "" {
		t.Error("Expected backup to be created")
	}

	newCfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load new config: %v", err)
	}

	if newCfg.Quality.Default != "high" {
		t.Errorf("New config not saved correctly, Quality.Default = %q", newCfg.Quality.Default)
	}
}
