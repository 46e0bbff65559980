package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// RetentionTarget selects files in Dir whose names match Pattern. Paths in
// Exclude are never removed, and the KeepNewest most recent matches survive
// regardless of age.
type RetentionTarget struct {
	Dir        string
	Pattern    string
	Exclude    []string
	KeepNewest int
}

// RetentionReport summarizes one pruning pass.
type RetentionReport struct {
	Removed int
	Bytes   int64
}

type retentionCandidate struct {
	path    string
	size    int64
	modTime time.Time
}

// CleanupOldLogs removes files older than retentionDays from every target.
// A retentionDays value of 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) RetentionReport {
	var report RetentionReport
	if retentionDays <= 0 {
		return report
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, target := range targets {
		for _, c := range expired(target, cutoff) {
			if err := os.Remove(c.path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", c.path),
					Error(err),
					String(FieldErrorHint, "check file permissions and log_dir ownership"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			report.Removed++
			report.Bytes += c.size
			logger.Debug("log pruned", String("path", c.path), String(FieldEventType, "log_pruned"))
		}
	}
	return report
}

// expired lists the removable files of target, newest first, after the
// KeepNewest floor and exclusions are applied.
func expired(target RetentionTarget, cutoff time.Time) []retentionCandidate {
	dir := strings.TrimSpace(target.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	excluded := make(map[string]bool, len(target.Exclude))
	for _, path := range target.Exclude {
		excluded[absPath(path)] = true
	}
	pattern := strings.TrimSpace(target.Pattern)

	var matches []retentionCandidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		path := absPath(filepath.Join(dir, entry.Name()))
		if excluded[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		matches = append(matches, retentionCandidate{path: path, size: info.Size(), modTime: info.ModTime()})
	}
	slices.SortFunc(matches, func(a, b retentionCandidate) int { return b.modTime.Compare(a.modTime) })

	if target.KeepNewest > 0 {
		matches = matches[min(target.KeepNewest, len(matches)):]
	}
	return slices.DeleteFunc(matches, func(c retentionCandidate) bool { return !c.modTime.Before(cutoff) })
}

func absPath(path string) string {
	path = strings.TrimSpace(path)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
