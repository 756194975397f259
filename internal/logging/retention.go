package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneRunLogs deletes files in dir matching pattern whose modification time
// is older than retentionDays. The file named keep is never removed, so the
// log of the running daemon survives even with a tiny retention window.
// It returns the number of files removed. retentionDays <= 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir, pattern, keep string, retentionDays int) int {
	dir = strings.TrimSpace(dir)
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	keepAbs := ""
	if strings.TrimSpace(keep) != "" {
		if abs, err := filepath.Abs(keep); err == nil {
			keepAbs = abs
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		full, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil || full == keepAbs {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(full); err != nil {
			WarnWithContext(logger, "run log prune failed", "log_retention_failed",
				String("path", full),
				Error(err),
				String(FieldErrorHint, "check permissions on the log directory"),
				String(FieldImpact, "old run log remains on disk"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Debug("run log pruned", String("path", full), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
