package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultBackupDir = "config_backups"

// Backup copies a config file into a backup directory before it is
// overwritten.
type Backup struct {
	path string
	dir  string
	now  func() time.Time
}

func NewBackup(path, dir string) *Backup {
	if path == "" {
		path = DefaultFile
	}
	if dir == "" {
		dir = DefaultBackupDir
	}
	return &Backup{path: path, dir: dir, now: time.Now}
}

// Create writes config_<timestamp>_<reason>.yaml into the backup directory
// and returns its path.
func (b *Backup) Create(reason string) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := b.now().Format("2006-01-02_15-04-05")
	backupName := fmt.Sprintf("config_%s_%s.yaml", timestamp, sanitizeFilename(reason))
	backupPath := filepath.Join(b.dir, backupName)

	srcFile, err := os.Open(b.path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", b.path, err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			slog.Error("Failed to close source file", "error", err)
		}
	}()

	// Backups hold credentials.
	dstFile, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() {
		if err := dstFile.Close(); err != nil {
			slog.Error("Failed to close backup file", "error", err)
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return "", fmt.Errorf("failed to copy config to backup: %w", err)
	}

	slog.Info("Configuration backup created", "path", backupPath, "reason", reason)
	return backupPath, nil
}

func sanitizeFilename(name string) string {
	// Replace problematic characters with underscores
	sanitized := strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	).Replace(name)

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}

	return sanitized
}
