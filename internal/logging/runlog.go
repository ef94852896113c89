package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunLogOptions configures OpenRunLog.
type RunLogOptions struct {
	Dir       string
	Prefix    string
	Level     string
	Format    string
	SessionID string
	// Mirror, when set, receives console output in addition to the file.
	Mirror *os.File
}

// RunLog is a per-run log file plus the logger writing to it.
type RunLog struct {
	Logger *slog.Logger
	Path   string
}

// OpenRunLog creates <dir>/<prefix>-<timestamp>.log and points
// <dir>/<prefix>.log at it.
func OpenRunLog(opts RunLogOptions) (*RunLog, error) {
	if opts.Dir == "" || opts.Prefix == "" {
		return nil, fmt.Errorf("run log requires a directory and prefix")
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	path := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", opts.Prefix, runID))

	logger, err := New(Options{
		Level:       opts.Level,
		Format:      opts.Format,
		OutputPaths: []string{path},
		SessionID:   opts.SessionID,
	})
	if err != nil {
		return nil, err
	}
	if opts.Mirror != nil {
		levelVar := new(slog.LevelVar)
		levelVar.Set(parseLevel(opts.Level))
		logger = Mirror(logger, newPrettyHandler(opts.Mirror, levelVar, false))
	}
	if err := pointCurrentLog(opts.Dir, opts.Prefix+".log", path); err != nil {
		WarnWithContext(logger, "log pointer not updated", "log_pointer_failed",
			Error(err),
			String(FieldImpact, "the current-run link points at an older log"),
		)
	}
	return &RunLog{Logger: logger, Path: path}, nil
}

// Prune removes <prefix>-*.log files in the run log's directory whose
// modification time is more than retentionDays old. The current run's log
// is never removed. Zero or negative retention disables pruning.
func (r *RunLog) Prune(retentionDays int, prefix string) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(r.Path), prefix+"-*.log"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		if path == r.Path {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(r.Logger, "old log not removed", "log_retention_failed",
				String(FieldPath, path),
				Error(err),
				String(FieldErrorHint, "check ownership of the log directory"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
		r.Logger.Debug("log pruned", String(FieldPath, path), Event("log_pruned"))
	}
	return removed
}

func pointCurrentLog(dir, name, target string) error {
	current := filepath.Join(dir, name)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
